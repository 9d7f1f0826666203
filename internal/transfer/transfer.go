// Package transfer implements long attribute transfers: slicing a full
// value into offset chunks for reads and outgoing writes, and
// reassembling incoming prepared-write chunks into one committed value.
package transfer

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidOffset reports a chunk offset that does not line up with the
// value: a read past the end, or a prepared write that is not the exact
// continuation of what has accumulated so far.
var ErrInvalidOffset = errors.New("invalid transfer offset")

// Chunk returns the slice of value starting at offset, at most chunkSize
// bytes. offset == len(value) returns an empty chunk, the end-of-value
// signal a reader stops on. offset beyond the end is ErrInvalidOffset.
func Chunk(value []byte, offset, chunkSize int) ([]byte, error) {
	if offset < 0 || chunkSize <= 0 {
		return nil, fmt.Errorf("%w: offset=%d chunkSize=%d", ErrInvalidOffset, offset, chunkSize)
	}
	if offset > len(value) {
		return nil, fmt.Errorf("%w: offset %d past value length %d", ErrInvalidOffset, offset, len(value))
	}
	end := offset + chunkSize
	if end > len(value) {
		end = len(value)
	}
	return value[offset:end], nil
}

// Chunks splits value into sequential chunks of at most chunkSize bytes.
// A value that fits one chunk comes back as a single element; an empty
// value yields one empty chunk so a zero-length write still goes out.
func Chunks(value []byte, chunkSize int) [][]byte {
	if chunkSize <= 0 || len(value) <= chunkSize {
		return [][]byte{value}
	}
	out := make([][]byte, 0, (len(value)+chunkSize-1)/chunkSize)
	for off := 0; off < len(value); off += chunkSize {
		end := off + chunkSize
		if end > len(value) {
			end = len(value)
		}
		out = append(out, value[off:end])
	}
	return out
}

// Assembler accumulates the chunks of one incoming long write. Chunks
// must arrive in order: each offset has to equal the accumulated length.
type Assembler struct {
	buf bytes.Buffer
}

// Append adds a chunk at the given offset. An offset that is not the
// exact accumulated length fails with ErrInvalidOffset and leaves what
// has accumulated so far untouched; the caller decides whether the
// transfer aborts.
func (a *Assembler) Append(offset int, chunk []byte) error {
	if offset != a.buf.Len() {
		return fmt.Errorf("%w: chunk offset %d, accumulated %d", ErrInvalidOffset, offset, a.buf.Len())
	}
	a.buf.Write(chunk)
	return nil
}

// Len returns the accumulated length.
func (a *Assembler) Len() int { return a.buf.Len() }

// Bytes returns a copy of the accumulated value.
func (a *Assembler) Bytes() []byte {
	out := make([]byte, a.buf.Len())
	copy(out, a.buf.Bytes())
	return out
}

// Reset discards everything accumulated.
func (a *Assembler) Reset() { a.buf.Reset() }

// Committed is one attribute value produced by an executed transfer.
type Committed struct {
	Handle uint16
	Value  []byte
}

// Store tracks the in-flight prepared writes of one session, keyed by
// attribute handle. The execute signal commits or cancels all of them
// at once, mirroring the ATT execute-write request.
type Store struct {
	pending map[uint16]*Assembler
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{pending: make(map[uint16]*Assembler)}
}

// Prepare adds a chunk to the handle's transfer, starting one when the
// handle has nothing pending. An out-of-sequence offset aborts that
// handle's transfer: the error is returned and the partial value is
// dropped, so an eventual execute commits nothing for it.
func (s *Store) Prepare(handle uint16, offset int, chunk []byte) error {
	asm, ok := s.pending[handle]
	if !ok {
		asm = &Assembler{}
		s.pending[handle] = asm
	}
	if err := asm.Append(offset, chunk); err != nil {
		delete(s.pending, handle)
		return err
	}
	return nil
}

// Active reports whether any transfer is pending.
func (s *Store) Active() bool { return len(s.pending) > 0 }

// Execute ends all pending transfers. With commit true it returns the
// accumulated value per handle in ascending handle order; with commit
// false everything is discarded and the result is nil. Either way the
// store is empty afterwards.
func (s *Store) Execute(commit bool) []Committed {
	if !commit || len(s.pending) == 0 {
		s.pending = make(map[uint16]*Assembler)
		return nil
	}

	handles := make([]int, 0, len(s.pending))
	for h := range s.pending {
		handles = append(handles, int(h))
	}
	sort.Ints(handles)

	out := make([]Committed, 0, len(handles))
	for _, h := range handles {
		asm := s.pending[uint16(h)]
		out = append(out, Committed{Handle: uint16(h), Value: asm.Bytes()})
	}
	s.pending = make(map[uint16]*Assembler)
	return out
}

// Clear drops all pending transfers without committing.
func (s *Store) Clear() {
	s.pending = make(map[uint16]*Assembler)
}
