package allocator

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/pmemstream-go/pkg/pmem"
	"github.com/marmos91/pmemstream-go/pkg/span"
)

const testRegionPayload = 256
const testBlockSize = 512
const testHeaderOff = 0

func newTestAllocator(t *testing.T, arenaSize uint64) (*Allocator, *pmem.Mapping) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arena.pmem")
	arenaBase := span.AlignUp(HeaderSize, testBlockSize)
	totalSize := arenaBase + arenaSize
	m, err := pmem.Create(path, totalSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	a := Open(m.Bytes(), m, testHeaderOff, arenaBase, arenaSize, testRegionPayload, testBlockSize)
	a.Init()
	return a, m
}

func TestAllocate_ExtendsArenaWhenFreeListEmpty(t *testing.T) {
	a, _ := newTestAllocator(t, 16*1024)

	off1, err := a.Allocate(testRegionPayload)
	require.NoError(t, err)
	require.Equal(t, a.arenaBase, off1)

	off2, err := a.Allocate(testRegionPayload)
	require.NoError(t, err)
	require.Greater(t, off2, off1)
	require.Equal(t, a.regionTotalSize(), off2-off1)

	require.Equal(t, []uint64{off1, off2}, a.AllocatedRegions())
	require.Empty(t, a.FreeRegions())
}

func TestAllocate_RegionIsBlockAligned(t *testing.T) {
	a, _ := newTestAllocator(t, 16*1024)
	off, err := a.Allocate(testRegionPayload)
	require.NoError(t, err)
	require.Zero(t, off%testBlockSize)
	require.Zero(t, a.regionTotalSize()%testBlockSize)
	require.GreaterOrEqual(t, a.regionTotalSize(), span.HeaderSize(span.Region)+testRegionPayload)
}

func TestAllocate_RejectsWrongSize(t *testing.T) {
	a, _ := newTestAllocator(t, 16*1024)
	_, err := a.Allocate(testRegionPayload + 1)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestAllocate_OutOfSpace(t *testing.T) {
	a, _ := newTestAllocator(t, a0RegionTotalSize(t))
	_, err := a.Allocate(testRegionPayload)
	require.NoError(t, err)

	_, err = a.Allocate(testRegionPayload)
	require.ErrorIs(t, err, ErrOutOfSpace)
}

// a0RegionTotalSize sizes an arena to fit exactly one region, using a
// throwaway allocator purely to compute the per-region footprint.
func a0RegionTotalSize(t *testing.T) uint64 {
	t.Helper()
	a, _ := newTestAllocator(t, 16*1024)
	return a.regionTotalSize()
}

func TestFree_MovesRegionBackToFreeList(t *testing.T) {
	a, _ := newTestAllocator(t, 16*1024)
	off, err := a.Allocate(testRegionPayload)
	require.NoError(t, err)

	require.NoError(t, a.Free(off))
	require.Empty(t, a.AllocatedRegions())
	require.Equal(t, []uint64{off}, a.FreeRegions())
}

func TestAllocate_ReusesFreedRegionBeforeExtendingArena(t *testing.T) {
	a, _ := newTestAllocator(t, 16*1024)
	off1, err := a.Allocate(testRegionPayload)
	require.NoError(t, err)
	freeOffsetAfterFirst := a.FreeOffset()

	require.NoError(t, a.Free(off1))

	off2, err := a.Allocate(testRegionPayload)
	require.NoError(t, err)
	require.Equal(t, off1, off2, "reused region should come from the free list, not a new extension")
	require.Equal(t, freeOffsetAfterFirst, a.FreeOffset(), "free_offset must not advance when reusing a freed region")
}

func TestAllocate_ZeroesReusedPayload(t *testing.T) {
	a, m := newTestAllocator(t, 16*1024)
	off, err := a.Allocate(testRegionPayload)
	require.NoError(t, err)

	data := m.Bytes()
	payloadStart := off + span.RegionHeaderSize
	for i := uint64(0); i < testRegionPayload; i++ {
		data[payloadStart+i] = 0xAB
	}

	require.NoError(t, a.Free(off))
	off2, err := a.Allocate(testRegionPayload)
	require.NoError(t, err)
	require.Equal(t, off, off2)

	for i := uint64(0); i < testRegionPayload; i++ {
		require.Zero(t, data[payloadStart+i])
	}
}

func TestRuntimeInit_RecoversStaleFreeOffsetAfterExtension(t *testing.T) {
	a, m := newTestAllocator(t, 16*1024)

	// Simulate the crash window inside Allocate's arena-extension path:
	// the new region span and its free-list insertion are durable, but
	// free_offset itself was never advanced.
	offset := a.freeOffset()
	total := a.regionTotalSize()
	span.CreateRegion(m.Bytes(), offset, testRegionPayload, Invalid, InvalidTimestamp)
	require.NoError(t, m.PersistRange(offset, total))
	a.freeList.InsertHead(offset)

	require.Equal(t, offset, a.freeOffset(), "free_offset should still be stale before recovery")

	a.RuntimeInit()

	require.Equal(t, offset+total, a.freeOffset())
	require.Equal(t, []uint64{offset}, a.FreeRegions())
}

func TestRuntimeInit_FinishesInterruptedAllocation(t *testing.T) {
	a, _ := newTestAllocator(t, 16*1024)
	off, err := a.Allocate(testRegionPayload)
	require.NoError(t, err)
	require.NoError(t, a.Free(off))

	// Simulate the crash window inside Allocate's move step: the region
	// has been linked into the allocated list's tail but not yet
	// unlinked from the free list's head.
	a.allocList.InsertTail(off)
	require.Contains(t, a.FreeRegions(), off)
	require.Contains(t, a.AllocatedRegions(), off)

	a.RuntimeInit()

	require.NotContains(t, a.FreeRegions(), off)
	require.Contains(t, a.AllocatedRegions(), off)
}

func TestRuntimeInit_FinishesInterruptedFree(t *testing.T) {
	a, _ := newTestAllocator(t, 16*1024)
	off, err := a.Allocate(testRegionPayload)
	require.NoError(t, err)

	// Simulate the crash window inside Free: offset_to_free recorded but
	// neither list mutation has happened yet.
	a.setOffsetToFree(off)

	a.RuntimeInit()

	require.Equal(t, Invalid, a.offsetToFree())
	require.NotContains(t, a.AllocatedRegions(), off)
	require.Contains(t, a.FreeRegions(), off)
}

func TestRuntimeInit_IsIdempotent(t *testing.T) {
	a, _ := newTestAllocator(t, 16*1024)
	off1, err := a.Allocate(testRegionPayload)
	require.NoError(t, err)
	_, err = a.Allocate(testRegionPayload)
	require.NoError(t, err)
	require.NoError(t, a.Free(off1))

	a.RuntimeInit()
	alloc1 := append([]uint64(nil), a.AllocatedRegions()...)
	free1 := append([]uint64(nil), a.FreeRegions()...)

	a.RuntimeInit()
	require.Equal(t, alloc1, a.AllocatedRegions())
	require.Equal(t, free1, a.FreeRegions())
}
