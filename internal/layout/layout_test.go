package layout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLayout(epoch uint64) Layout {
	return Layout{
		Epoch:         epoch,
		ClusterID:     "c1",
		LayoutServers: []string{"a:9000", "b:9000", "c:9000"},
		Sequencers:    []string{"a:9000", "b:9000"},
		LogServers:    []string{"a:9000", "b:9000", "c:9000"},
	}
}

func TestLayoutSuccessor(t *testing.T) {
	l := testLayout(5)
	next := l.Successor([]string{"c:9000", "a:9000", "zz:1"})
	require.Equal(t, uint64(6), next.Epoch)
	require.Equal(t, []string{"a:9000", "c:9000"}, next.Unresponsive)
	require.Equal(t, []string{"b:9000"}, next.ActiveNodes())

	seq, ok := next.PrimarySequencer()
	require.True(t, ok)
	require.Equal(t, "b:9000", seq)

	healed := next.Successor(nil)
	require.Empty(t, healed.Unresponsive)
	require.Len(t, healed.ActiveNodes(), 3)
	require.Empty(t, l.Unresponsive, "successor must not alias the original")
}

func TestLayoutValidate(t *testing.T) {
	require.NoError(t, testLayout(1).Validate())
	bad := testLayout(1)
	bad.Sequencers = nil
	require.ErrorIs(t, bad.Validate(), ErrInvalid)
}

func TestHolderUpdateMonotonic(t *testing.T) {
	h := NewHolder(testLayout(3))
	v := h.Load().Version
	require.False(t, h.Update(testLayout(3)))
	require.False(t, h.Update(testLayout(2)))
	require.True(t, h.Update(testLayout(4)))
	require.Equal(t, uint64(4), h.Epoch())
	require.Equal(t, v+1, h.Load().Version)
}

func TestHolderSnapshotIsolation(t *testing.T) {
	h := NewHolder(testLayout(1))
	snap := h.Load()
	h.Update(testLayout(2))
	require.Equal(t, uint64(1), snap.Layout.Epoch)

	l := h.Layout()
	l.LogServers[0] = "mutated"
	require.Equal(t, "a:9000", h.Layout().LogServers[0])
}

func TestHolderWaitForEpoch(t *testing.T) {
	h := NewHolder(testLayout(1))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond)
		h.Update(testLayout(2))
		time.Sleep(10 * time.Millisecond)
		h.Update(testLayout(3))
	}()
	l, err := h.WaitForEpoch(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, uint64(3), l.Epoch)
	wg.Wait()

	_, err = h.WaitForEpoch(ctx, 2)
	require.ErrorIs(t, err, ErrEpochOvershot)

	short, cancelShort := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelShort()
	_, err = h.WaitForEpoch(short, 9)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
