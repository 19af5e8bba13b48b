package ringbuffer

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/pmemstream-go/pkg/pmemstream"
)

func openTestStream(t *testing.T, regionSize uint64) *pmemstream.Stream {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ring.pmem")
	s, err := pmemstream.Open(path, pmemstream.Options{
		StreamSize:        4 << 20,
		BlockSize:         4096,
		RegionPayloadSize: regionSize,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestProduceConsume_FIFOOrder(t *testing.T) {
	s := openTestStream(t, 64*1024)
	rb, err := New(s, 64*1024, 2)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, rb.Produce([]byte(fmt.Sprintf("entry-%d", i))))
	}

	for i := 0; i < 5; i++ {
		got, ok := rb.Consume()
		require.True(t, ok)
		require.Equal(t, fmt.Sprintf("entry-%d", i), string(got))
	}

	_, ok := rb.Consume()
	require.False(t, ok, "consumer caught up with producer")
}

func TestConsume_EmptyRuntimeReturnsFalse(t *testing.T) {
	s := openTestStream(t, 64*1024)
	rb, err := New(s, 64*1024, 2)
	require.NoError(t, err)

	_, ok := rb.Consume()
	require.False(t, ok)
}

func TestProduceConsume_CrossesRegionBoundaryAndReclaims(t *testing.T) {
	s := openTestStream(t, 16*1024)
	// Small region (a handful of entries fills it) plus enough
	// pre-allocated regions for the producer to run all 40 entries ahead
	// of the consumer without ever seeing ErrOutOfSpace.
	rb, err := New(s, 16*1024, 3)
	require.NoError(t, err)

	const total = 40
	payload := make([]byte, 512)
	for i := 0; i < total; i++ {
		require.NoError(t, rb.Produce(payload))
	}

	for i := 0; i < total; i++ {
		_, ok := rb.Consume()
		require.True(t, ok, "entry %d should still be readable", i)
	}

	// The ring's region count never grows past what was pre-allocated:
	// once the consumer has drained a region it is freed and a
	// replacement is allocated in its place, so allocated-region count
	// stays bounded regardless of total entries produced.
	require.LessOrEqual(t, len(s.AllocatedRegions()), 3)
}

// A ring's capacity is fixed at construction (numRegions pre-allocated
// regions): once the producer has filled every one of them, Produce
// reports ErrOutOfSpace rather than growing the ring or overwriting
// unconsumed data, exactly the "blocks" behavior this package favors
// over silent data loss. Consuming entries out of an exhausted ring
// does not by itself make more producer capacity available — only
// crossing a region boundary lets the consumer free and replace one.
func TestProduceConsume_BlocksWhenRingIsFull(t *testing.T) {
	s := openTestStream(t, 16*1024)
	rb, err := New(s, 16*1024, 1)
	require.NoError(t, err)

	payload := make([]byte, 512)
	produced := 0
	for {
		if err := rb.Produce(payload); err != nil {
			require.ErrorIs(t, err, pmemstream.ErrOutOfSpace)
			break
		}
		produced++
		require.Less(t, produced, 1000, "producer should have run out of ring capacity by now")
	}
	require.Positive(t, produced)
}
