package transfer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunk(t *testing.T) {
	value := []byte("0123456789")

	tests := []struct {
		name     string
		offset   int
		size     int
		expected string
		wantErr  bool
	}{
		{"from start", 0, 4, "0123", false},
		{"middle", 4, 4, "4567", false},
		{"tail shorter than chunk", 8, 4, "89", false},
		{"offset at end yields empty", 10, 4, "", false},
		{"whole value in one chunk", 0, 32, "0123456789", false},
		{"offset past end", 11, 4, "", true},
		{"negative offset", -1, 4, "", true},
		{"zero chunk size", 0, 0, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Chunk(value, tt.offset, tt.size)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidOffset)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(got))
		})
	}
}

func TestChunks(t *testing.T) {
	split := Chunks([]byte("0123456789"), 4)
	require.Len(t, split, 3)
	assert.Equal(t, "0123", string(split[0]))
	assert.Equal(t, "4567", string(split[1]))
	assert.Equal(t, "89", string(split[2]))

	// A value that fits stays whole.
	split = Chunks([]byte("ok"), 20)
	require.Len(t, split, 1)
	assert.Equal(t, "ok", string(split[0]))

	// Zero-length write still produces one (empty) chunk.
	split = Chunks(nil, 20)
	require.Len(t, split, 1)
	assert.Empty(t, split[0])
}

func TestAssemblerSequentialOffsets(t *testing.T) {
	// The long-write pattern: 40 bytes in 18-byte chunks lands chunks at
	// offsets 0, 18 and 36.
	value := bytes.Repeat([]byte{0xAB}, 40)
	var asm Assembler

	for _, chunk := range Chunks(value, 18) {
		require.NoError(t, asm.Append(asm.Len(), chunk))
	}
	assert.Equal(t, value, asm.Bytes(), "reassembled value MUST equal the concatenation")
}

func TestAssemblerRejectsGap(t *testing.T) {
	var asm Assembler
	require.NoError(t, asm.Append(0, make([]byte, 18)))

	err := asm.Append(19, []byte{0x01})
	assert.ErrorIs(t, err, ErrInvalidOffset, "a gap in offsets MUST be rejected")
	assert.Equal(t, 18, asm.Len(), "a failed append MUST NOT disturb the accumulation")
}

func TestStoreCommit(t *testing.T) {
	s := NewStore()

	// Interleaved transfers for two handles.
	require.NoError(t, s.Prepare(0x0010, 0, []byte("hello ")))
	require.NoError(t, s.Prepare(0x000A, 0, []byte("abc")))
	require.NoError(t, s.Prepare(0x0010, 6, []byte("world")))
	require.True(t, s.Active())

	committed := s.Execute(true)
	require.Len(t, committed, 2)
	// Ascending handle order.
	assert.Equal(t, uint16(0x000A), committed[0].Handle)
	assert.Equal(t, "abc", string(committed[0].Value))
	assert.Equal(t, uint16(0x0010), committed[1].Handle)
	assert.Equal(t, "hello world", string(committed[1].Value))

	assert.False(t, s.Active(), "execute MUST leave the store empty")
}

func TestStoreCancel(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Prepare(0x0010, 0, []byte("partial")))

	assert.Nil(t, s.Execute(false), "cancel MUST commit nothing")
	assert.False(t, s.Active())
}

func TestStoreInvalidOffsetAbortsHandle(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Prepare(0x0010, 0, make([]byte, 18)))

	err := s.Prepare(0x0010, 19, []byte{0x01})
	require.ErrorIs(t, err, ErrInvalidOffset)

	// The aborted handle contributes nothing on execute.
	assert.Empty(t, s.Execute(true))
}
