package ringchan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendDropsOldestWhenFull(t *testing.T) {
	rc := New[int](3)
	for i := 1; i <= 5; i++ {
		rc.Send(i)
	}

	// Only the newest three survive.
	var got []int
	for {
		v, ok := rc.TryReceive()
		if !ok {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []int{3, 4, 5}, got)

	m := rc.Metrics()
	assert.Equal(t, int64(5), m.Sent)
	assert.Equal(t, int64(2), m.Dropped)
	assert.Equal(t, int64(3), m.Processed)
}

func TestTrySendRefusesWhenFull(t *testing.T) {
	rc := New[string](1)
	require.True(t, rc.TrySend("a"))
	assert.False(t, rc.TrySend("b"))
}

func TestReceiveAfterClose(t *testing.T) {
	rc := New[int](2)
	rc.Send(7)
	rc.Close()

	v, ok := rc.Receive()
	require.True(t, ok)
	assert.Equal(t, 7, v)

	_, ok = rc.Receive()
	assert.False(t, ok, "closed channel MUST report ok=false")
}

func TestNewPanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
