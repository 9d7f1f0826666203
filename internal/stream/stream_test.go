package stream

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadReturnsFedBytes(t *testing.T) {
	r := NewReader(64)
	defer r.Close()

	assert.Equal(t, 5, r.Feed([]byte("hello")))
	assert.Equal(t, 6, r.Feed([]byte(" world")))

	buf := make([]byte, 32)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(buf[:n]))
	assert.Equal(t, uint64(11), r.Fed())
}

func TestReadBlocksUntilFeed(t *testing.T) {
	r := NewReader(64)
	defer r.Close()

	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 8)
		n, err := r.Read(buf)
		if err != nil {
			got <- "err:" + err.Error()
			return
		}
		got <- string(buf[:n])
	}()

	// Give the reader a moment to block, then feed.
	time.Sleep(20 * time.Millisecond)
	r.Feed([]byte("ping"))

	select {
	case s := <-got:
		assert.Equal(t, "ping", s)
	case <-time.After(2 * time.Second):
		t.Fatal("Read did not wake after Feed")
	}
}

func TestOverflowDropsAndCounts(t *testing.T) {
	r := NewReader(4)
	defer r.Close()

	accepted := r.Feed([]byte("abcdef"))
	assert.Equal(t, 4, accepted, "only the capacity MUST be accepted")
	assert.Equal(t, uint64(2), r.Dropped())

	buf := make([]byte, 8)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(buf[:n]))
}

func TestCloseDrainsThenEOF(t *testing.T) {
	r := NewReader(16)
	r.Feed([]byte("tail"))
	require.NoError(t, r.Close())

	assert.Equal(t, 0, r.Feed([]byte("late")), "feeding after close MUST be a no-op")

	buf := make([]byte, 8)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "tail", string(buf[:n]))

	_, err = r.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestCloseWakesBlockedRead(t *testing.T) {
	r := NewReader(16)

	done := make(chan error, 1)
	go func() {
		_, err := r.Read(make([]byte, 4))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, r.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(2 * time.Second):
		t.Fatal("Read did not wake after Close")
	}
}
