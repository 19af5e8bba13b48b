package psll

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// sliceStore is a NodeStore over a plain byte slice: node N's "next"
// field lives at offset N*8. Flush/Drain are no-ops, matching the
// guidance that PSLL property tests substitute no-op runtime primitives.
type sliceStore struct {
	data []byte
}

func newSliceStore(nodes int) *sliceStore {
	return &sliceStore{data: make([]byte, nodes*8)}
}

func (s *sliceStore) Next(offset uint64) uint64 {
	return binary.LittleEndian.Uint64(s.data[offset*8:])
}

func (s *sliceStore) SetNext(offset uint64, next uint64) {
	binary.LittleEndian.PutUint64(s.data[offset*8:], next)
}

func (s *sliceStore) Flush(uint64) {}
func (s *sliceStore) Drain()       {}

func newTestList(nodes int) (*List, *sliceStore) {
	head := make([]byte, 16)
	store := newSliceStore(nodes)
	flush := func(offset uint64, p []byte) { copy(head[offset:], p) }
	l := New(head, 0, 8, store, flush, func() {})
	l.Init()
	return l, store
}

func TestInit_EmptyListInvariants(t *testing.T) {
	l, _ := newTestList(4)
	require.True(t, l.Empty())
	require.Equal(t, Invalid, l.Head())
	require.Equal(t, Invalid, l.Tail())
}

func TestInsertHead_SingleNode(t *testing.T) {
	l, _ := newTestList(4)
	l.InsertHead(0)
	require.Equal(t, uint64(0), l.Head())
	require.Equal(t, uint64(0), l.Tail())
	require.Equal(t, []uint64{0}, l.Foreach())
}

func TestInsertHead_MultipleNodesOrder(t *testing.T) {
	l, _ := newTestList(4)
	l.InsertHead(0)
	l.InsertHead(1)
	l.InsertHead(2)
	require.Equal(t, []uint64{2, 1, 0}, l.Foreach())
	require.Equal(t, uint64(2), l.Head())
	require.Equal(t, uint64(0), l.Tail())
}

func TestInsertTail_MultipleNodesOrder(t *testing.T) {
	l, _ := newTestList(4)
	l.InsertTail(0)
	l.InsertTail(1)
	l.InsertTail(2)
	require.Equal(t, []uint64{0, 1, 2}, l.Foreach())
	require.Equal(t, uint64(0), l.Head())
	require.Equal(t, uint64(2), l.Tail())
}

func TestRemoveHead_DrainsToEmpty(t *testing.T) {
	l, _ := newTestList(4)
	l.InsertTail(0)
	l.InsertTail(1)

	require.Equal(t, uint64(0), l.RemoveHead())
	require.Equal(t, []uint64{1}, l.Foreach())

	require.Equal(t, uint64(1), l.RemoveHead())
	require.True(t, l.Empty())
	require.Equal(t, Invalid, l.Tail())

	require.Equal(t, Invalid, l.RemoveHead())
}

func TestRemove_Middle(t *testing.T) {
	l, _ := newTestList(4)
	l.InsertTail(0)
	l.InsertTail(1)
	l.InsertTail(2)

	require.True(t, l.Remove(1))
	require.Equal(t, []uint64{0, 2}, l.Foreach())
}

func TestRemove_Tail(t *testing.T) {
	l, _ := newTestList(4)
	l.InsertTail(0)
	l.InsertTail(1)

	require.True(t, l.Remove(1))
	require.Equal(t, []uint64{0}, l.Foreach())
	require.Equal(t, uint64(0), l.Tail())
}

func TestRemove_NotFound(t *testing.T) {
	l, _ := newTestList(4)
	l.InsertTail(0)
	require.False(t, l.Remove(3))
}

// TestRuntimeInit_RollsBackTornInsertHead simulates a crash in
// InsertHead after node.next <- head but before head <- offset: the new
// node links to the old head, but nothing links to it, so head still
// points at the old head and runtime_init leaves the pre-operation list.
func TestRuntimeInit_RollsBackTornInsertHead(t *testing.T) {
	l, store := newTestList(4)
	l.InsertTail(0) // head=0, tail=0

	// Simulate the torn insert of node 1 as the new head: its next link
	// is durable (node 1 -> 0) but the head pointer was never updated.
	store.SetNext(1, 0)

	l.RuntimeInit()

	// runtime_init only ever advances tail by walking from the existing
	// head to the real last reachable node; it cannot discover node 1
	// since nothing points to it from head. So this configuration is
	// simply the pre-operation list, and runtime_init is a no-op here —
	// demonstrating the "rolled back" half of the single-store guarantee.
	require.Equal(t, []uint64{0}, l.Foreach())
	require.Equal(t, uint64(0), l.Tail())
}

// TestRuntimeInit_RepairsTornTailAfterInsertTail simulates a crash in
// InsertTail after node.next <- Invalid and next(old_tail) <- offset but
// before tail <- offset: the new node is reachable from head but tail
// still names the old last node.
func TestRuntimeInit_RepairsTornTailAfterInsertTail(t *testing.T) {
	l, store := newTestList(4)
	l.InsertTail(0) // head=0, tail=0

	// Simulate node 0's next already updated to point at 1, and node 1's
	// own next already Invalid, but tail was never advanced past 0.
	store.SetNext(0, 1)
	store.SetNext(1, Invalid)

	l.RuntimeInit()

	require.Equal(t, []uint64{0, 1}, l.Foreach())
	require.Equal(t, uint64(1), l.Tail())
}

func TestRuntimeInit_IdempotentOnAlreadyConsistentList(t *testing.T) {
	l, _ := newTestList(4)
	l.InsertTail(0)
	l.InsertTail(1)
	l.InsertTail(2)

	l.RuntimeInit()
	first := l.Foreach()
	firstTail := l.Tail()

	l.RuntimeInit()
	require.Equal(t, first, l.Foreach())
	require.Equal(t, firstTail, l.Tail())
}

func TestRuntimeInit_EmptyListRepairsStaleTail(t *testing.T) {
	l, _ := newTestList(4)
	// head already Invalid but tail left dangling from a prior state —
	// the "head == Invalid iff tail == Invalid" invariant violated.
	l.setTail(7)

	l.RuntimeInit()
	require.Equal(t, Invalid, l.Tail())
	require.True(t, l.Empty())
}
