package threadid

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquire_AssignsDenseIncreasingIds(t *testing.T) {
	m := NewManager(8)
	for want := uint64(0); want < 4; want++ {
		got, err := m.Acquire()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	require.Equal(t, uint64(4), m.InUse())
}

func TestAcquire_ReturnsErrExhaustedAtBound(t *testing.T) {
	m := NewManager(2)
	_, err := m.Acquire()
	require.NoError(t, err)
	_, err = m.Acquire()
	require.NoError(t, err)

	_, err = m.Acquire()
	require.ErrorIs(t, err, ErrExhausted)
}

func TestRelease_MakesIdReacquirable(t *testing.T) {
	m := NewManager(4)
	id, err := m.Acquire()
	require.NoError(t, err)
	require.NoError(t, m.Release(id))

	again, err := m.Acquire()
	require.NoError(t, err)
	require.Equal(t, id, again)
}

func TestRelease_DoubleReleaseFails(t *testing.T) {
	m := NewManager(4)
	id, err := m.Acquire()
	require.NoError(t, err)
	require.NoError(t, m.Release(id))
	require.ErrorIs(t, m.Release(id), ErrNotAcquired)
}

func TestRelease_UnacquiredIdFails(t *testing.T) {
	m := NewManager(4)
	require.ErrorIs(t, m.Release(0), ErrNotAcquired)
}

func TestAcquire_PrefersSmallestReleasedGap(t *testing.T) {
	m := NewManager(8)
	ids := make([]uint64, 4)
	for i := range ids {
		id, err := m.Acquire()
		require.NoError(t, err)
		ids[i] = id
	}

	// Release a middle id, leaving a gap; the next acquire must reuse it
	// rather than extend past the current high-water mark.
	require.NoError(t, m.Release(ids[1]))
	got, err := m.Acquire()
	require.NoError(t, err)
	require.Equal(t, ids[1], got)
}

func TestRelease_CompactsWhenHighestIdReleased(t *testing.T) {
	m := NewManager(8)
	var ids []uint64
	for i := 0; i < 4; i++ {
		id, err := m.Acquire()
		require.NoError(t, err)
		ids = append(ids, id)
	}

	// Release in descending order: each release is the current highest
	// held id, so next_id should shrink every time instead of
	// accumulating entries in the released set.
	for i := len(ids) - 1; i >= 0; i-- {
		require.NoError(t, m.Release(ids[i]))
	}
	require.Zero(t, m.InUse())

	// A fresh acquire sequence should reproduce the exact same dense ids.
	for _, want := range ids {
		got, err := m.Acquire()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestRelease_CompactionCascadesThroughReleasedGaps(t *testing.T) {
	m := NewManager(8)
	var ids []uint64
	for i := 0; i < 5; i++ {
		id, err := m.Acquire()
		require.NoError(t, err)
		ids = append(ids, id)
	}

	// Release ids 2 and 3 first (gaps below the current top), then
	// release id 4 (the top): compaction should cascade down through
	// the now-contiguous released run and shrink next_id back to 2.
	require.NoError(t, m.Release(ids[2]))
	require.NoError(t, m.Release(ids[3]))
	require.NoError(t, m.Release(ids[4]))

	next, err := m.Acquire()
	require.NoError(t, err)
	require.Equal(t, ids[2], next, "compaction should have reclaimed the cascaded gap first")
}

func TestAcquireRelease_ConcurrentStaysWithinBound(t *testing.T) {
	const maxConcurrency = 16
	m := NewManager(maxConcurrency)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := m.Acquire()
			if err != nil {
				return
			}
			_ = m.Release(id)
		}()
	}
	wg.Wait()
	require.Zero(t, m.InUse())
	require.LessOrEqual(t, m.InUse(), m.MaxConcurrency())
}
