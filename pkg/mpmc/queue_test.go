package mpmc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquire_GrantsDisjointRanges(t *testing.T) {
	q := New(4, 1024)

	off1 := q.Acquire(0, 100)
	off2 := q.Acquire(1, 200)
	require.Equal(t, uint64(0), off1)
	require.Equal(t, uint64(100), off2)
}

func TestAcquire_ReturnsOffsetMaxWhenOutOfSpace(t *testing.T) {
	q := New(2, 64)
	off := q.Acquire(0, 32)
	require.Equal(t, uint64(0), off)

	off = q.Acquire(1, 64)
	require.Equal(t, OffsetMax, off)

	off = q.Acquire(1, 32)
	require.Equal(t, uint64(32), off)
}

func TestConsume_WaitsForSlowestProducer(t *testing.T) {
	q := New(2, 1024)

	off0 := q.Acquire(0, 100)
	_ = q.Acquire(1, 100)

	// Producer 1 hasn't committed yet, so consume must stop at
	// producer 1's grant (offset 100): only producer 0's committed
	// range [0, 100) becomes ready.
	q.Produce(0)
	ready, n := q.Consume(1)
	require.Equal(t, uint64(0), ready)
	require.Equal(t, uint64(100), n)

	_ = off0
}

func TestConsume_AdvancesPastAllCommittedProducers(t *testing.T) {
	q := New(2, 1024)

	q.Acquire(0, 100)
	q.Acquire(1, 50)
	q.Produce(0)
	q.Produce(1)

	ready, n := q.Consume(1)
	require.Equal(t, uint64(0), ready)
	require.Equal(t, uint64(150), n)
	require.Equal(t, uint64(150), q.ConsumedOffset())
}

func TestConsume_NoNewReservationsIsNoOp(t *testing.T) {
	q := New(1, 1024)
	ready, n := q.Consume(0)
	require.Equal(t, uint64(0), ready)
	require.Zero(t, n)
}

func TestConsume_RestrictsToMaxProducerID(t *testing.T) {
	q := New(3, 1024)
	q.Acquire(0, 10)
	q.Acquire(1, 10)
	// producer 2 never acquires; Consume bounded to id 1 must not wait on it.
	q.Produce(0)
	q.Produce(1)

	ready, n := q.Consume(1)
	require.Equal(t, uint64(0), ready)
	require.Equal(t, uint64(20), n)
}

func TestReset_ClearsAllState(t *testing.T) {
	q := New(2, 1024)
	q.Acquire(0, 100)
	q.Produce(0)
	q.Consume(1)

	q.Reset(512)
	require.Equal(t, uint64(512), q.ConsumedOffset())
	require.Equal(t, uint64(512), q.Acquire(0, 8))
}

func TestAcquireProduce_ConcurrentProducersStayDisjoint(t *testing.T) {
	const numProducers = 8
	const entrySize = 16
	const entriesPerProducer = 200

	q := New(numProducers, numProducers*entrySize*entriesPerProducer)

	var mu sync.Mutex
	claimed := make(map[uint64]bool)

	var wg sync.WaitGroup
	for p := uint64(0); p < numProducers; p++ {
		wg.Add(1)
		go func(producerID uint64) {
			defer wg.Done()
			for i := 0; i < entriesPerProducer; i++ {
				off := q.Acquire(producerID, entrySize)
				require.NotEqual(t, OffsetMax, off)
				mu.Lock()
				require.False(t, claimed[off], "offset %d double-granted", off)
				claimed[off] = true
				mu.Unlock()
				q.Produce(producerID)
			}
		}(p)
	}
	wg.Wait()

	ready, n := q.Consume(numProducers - 1)
	require.Equal(t, uint64(0), ready)
	require.Equal(t, uint64(numProducers*entrySize*entriesPerProducer), n)
}
