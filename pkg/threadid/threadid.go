// Package threadid hands out dense, reusable small integer ids bounded by
// a configured max_concurrency, used by the MPMC reservation queue to
// index a producer's slot in its per-producer granted_offset array.
//
// A native implementation of this pattern would typically key the id
// off pthread TLS plus a thread-exit destructor: a thread is assigned
// an id lazily on first use and the destructor releases it
// automatically when the thread dies. Goroutines have neither TLS nor
// exit hooks, so there is no way to reproduce that automatic release —
// a goroutine that never calls Release leaks its id forever. Ids are
// acquired and released explicitly instead, and a Manager constructed
// with a bound refuses to grant more ids than that bound allows.
package threadid

import (
	"container/heap"
	"errors"
	"sync"
)

// ErrExhausted is returned by Acquire when max_concurrency concurrently
// held ids have already been granted.
var ErrExhausted = errors.New("threadid: max_concurrency ids already granted")

// ErrNotAcquired is returned by Release for an id that is not currently
// held, including double-release.
var ErrNotAcquired = errors.New("threadid: id not currently acquired")

type minHeap []uint64

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(uint64)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// Manager assigns ids in [0, maxConcurrency). Acquire always returns the
// smallest id not currently held, and Release makes it available again:
// releasedHeap gives Acquire its min in O(log n), releasedSet is the
// source of truth for membership (the heap can hold stale entries
// already removed by compaction, lazily skipped on pop).
type Manager struct {
	mu             sync.Mutex
	maxConcurrency uint64
	nextID         uint64
	releasedHeap   minHeap
	releasedSet    map[uint64]bool
	held           map[uint64]bool
}

// NewManager constructs a Manager that will not grant more than
// maxConcurrency ids at once.
func NewManager(maxConcurrency uint64) *Manager {
	return &Manager{
		maxConcurrency: maxConcurrency,
		releasedSet:    make(map[uint64]bool),
		held:           make(map[uint64]bool),
	}
}

// Acquire grants the smallest id not currently held. It returns
// ErrExhausted if maxConcurrency ids are already granted.
func (m *Manager) Acquire() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if uint64(len(m.held)) >= m.maxConcurrency {
		return 0, ErrExhausted
	}

	for len(m.releasedHeap) > 0 && !m.releasedSet[m.releasedHeap[0]] {
		heap.Pop(&m.releasedHeap)
	}

	var id uint64
	if len(m.releasedHeap) > 0 {
		id = heap.Pop(&m.releasedHeap).(uint64)
		delete(m.releasedSet, id)
	} else {
		id = m.nextID
		m.nextID++
	}
	m.held[id] = true
	return id, nil
}

// Release returns id to the pool. Releasing the current highest granted
// id shrinks nextID (and any newly-exposed top ids already in the
// released set) instead of just adding id to the released set, keeping
// the set small when ids are released in roughly acquire order.
func (m *Manager) Release(id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.held[id] {
		return ErrNotAcquired
	}
	delete(m.held, id)

	if id == m.nextID-1 {
		m.nextID--
		for m.nextID > 0 && m.releasedSet[m.nextID-1] {
			delete(m.releasedSet, m.nextID-1)
			m.nextID--
		}
		return nil
	}

	m.releasedSet[id] = true
	heap.Push(&m.releasedHeap, id)
	return nil
}

// InUse reports how many ids are currently granted.
func (m *Manager) InUse() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint64(len(m.held))
}

// MaxConcurrency returns the configured bound.
func (m *Manager) MaxConcurrency() uint64 { return m.maxConcurrency }
