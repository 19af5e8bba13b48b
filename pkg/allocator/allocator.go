// Package allocator implements the region allocator: a crash-safe
// free/allocated list pair, built from two psll.Lists threaded through
// region spans in a shared arena, that hands out fixed-size regions and
// takes them back.
package allocator

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/marmos91/pmemstream-go/pkg/pmem"
	"github.com/marmos91/pmemstream-go/pkg/psll"
	"github.com/marmos91/pmemstream-go/pkg/span"
)

var (
	// ErrOutOfSpace is returned when the arena has no room left to
	// extend the free list for a new region.
	ErrOutOfSpace = errors.New("allocator: out of space")
	// ErrInvalidArgument is returned for a region size that does not
	// match the allocator's fixed region size.
	ErrInvalidArgument = errors.New("allocator: invalid argument")
	// ErrNotAllocated is returned by Free when the given offset is not
	// currently in the allocated list.
	ErrNotAllocated = errors.New("allocator: offset not allocated")
)

// Invalid is the PSLL sentinel, re-exported so callers comparing region
// offsets against "no region" don't need to import psll directly.
const Invalid = ^uint64(0)

// InvalidTimestamp seeds a newly created region's max_valid_timestamp.
const InvalidTimestamp = 0

// HeaderSize is the persistent footprint of an Allocator's header: two
// PSLL list head/tail pairs, free_offset, total_size, and the
// offset_to_free redo sentinel — embedded directly inside the stream
// header (see pkg/pmemstream/header.go).
const HeaderSize = 7 * 8

const (
	freeListHeadOff  = 0
	freeListTailOff  = 8
	allocListHeadOff = 16
	allocListTailOff = 24
	freeOffsetOff    = 32
	totalSizeOff     = 40
	offsetToFreeOff  = 48
)

// fieldNodeStore adapts span's region link fields to psll.NodeStore. The
// two link fields (NextFree, NextAllocated) coexist in a region's header,
// so one fieldNodeStore per list shares the same backing data safely,
// including while Allocate or Free has a region on both lists at once.
type fieldNodeStore struct {
	data    []byte
	mapping *pmem.Mapping
	isFree  bool
}

func (s *fieldNodeStore) Next(offset uint64) uint64 {
	h := span.ReadRegionHeader(s.data, offset)
	if s.isFree {
		return h.NextFree
	}
	return h.NextAllocated
}

func (s *fieldNodeStore) SetNext(offset uint64, next uint64) {
	if s.isFree {
		span.SetNextFree(s.data, offset, next)
	} else {
		span.SetNextAllocated(s.data, offset, next)
	}
}

func (s *fieldNodeStore) Flush(offset uint64) {
	fieldOff := uint64(span.RegionNextAllocatedOffset)
	if s.isFree {
		fieldOff = uint64(span.RegionNextFreeOffset)
	}
	_ = s.mapping.PersistRange(offset+fieldOff, 8)
}

func (s *fieldNodeStore) Drain() { s.mapping.Drain() }

// Allocator carves fixed-size regions out of a contiguous arena that
// starts at arenaBase within data and extends for arenaSize bytes. Its
// own header (the two list head/tail pairs, free_offset, total_size, and
// offset_to_free) lives at headerOff, normally inside the stream header.
type Allocator struct {
	data      []byte
	mapping   *pmem.Mapping
	headerOff uint64
	arenaBase uint64
	arenaSize uint64
	regionLen uint64 // fixed payload size of every region this allocator hands out
	blockSize uint64

	freeList  *psll.List
	allocList *psll.List
}

// Open binds an Allocator to an already-initialized header at headerOff
// (Init must have been called at stream-creation time; RuntimeInit must
// be called once per process before Allocate/Free are used).
func Open(data []byte, mapping *pmem.Mapping, headerOff, arenaBase, arenaSize, regionPayloadSize, blockSize uint64) *Allocator {
	a := &Allocator{
		data:      data,
		mapping:   mapping,
		headerOff: headerOff,
		arenaBase: arenaBase,
		arenaSize: arenaSize,
		regionLen: regionPayloadSize,
		blockSize: blockSize,
	}
	flush := func(offset uint64, p []byte) {
		copy(data[offset:], p)
		_ = mapping.PersistRange(offset, uint64(len(p)))
	}
	a.freeList = psll.New(data, headerOff+freeListHeadOff, headerOff+freeListTailOff,
		&fieldNodeStore{data: data, mapping: mapping, isFree: true}, flush, mapping.Drain)
	a.allocList = psll.New(data, headerOff+allocListHeadOff, headerOff+allocListTailOff,
		&fieldNodeStore{data: data, mapping: mapping, isFree: false}, flush, mapping.Drain)
	return a
}

// Init formats a fresh allocator header: both lists empty, free_offset at
// the start of the arena, total_size recorded, offset_to_free cleared.
func (a *Allocator) Init() {
	a.freeList.Init()
	a.allocList.Init()
	a.setFreeOffset(a.arenaBase)
	a.setTotalSize(a.arenaSize)
	a.setOffsetToFree(Invalid)
}

func (a *Allocator) field(off uint64) uint64 {
	return binary.LittleEndian.Uint64(a.data[a.headerOff+off:])
}

func (a *Allocator) setField(off uint64, v uint64) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	copy(a.data[a.headerOff+off:], buf)
	_ = a.mapping.PersistRange(a.headerOff+off, 8)
}

func (a *Allocator) freeOffset() uint64       { return a.field(freeOffsetOff) }
func (a *Allocator) setFreeOffset(v uint64)   { a.setField(freeOffsetOff, v) }
func (a *Allocator) totalSize() uint64        { return a.field(totalSizeOff) }
func (a *Allocator) setTotalSize(v uint64)    { a.setField(totalSizeOff, v) }
func (a *Allocator) offsetToFree() uint64     { return a.field(offsetToFreeOff) }
func (a *Allocator) setOffsetToFree(v uint64) { a.setField(offsetToFreeOff, v) }

// regionTotalSize is the on-media footprint of every region this
// allocator hands out: header plus fixed payload, block-aligned so a
// region never straddles a block boundary.
func (a *Allocator) regionTotalSize() uint64 {
	return span.AlignUp(span.TotalSize(span.Region, a.regionLen), a.blockSize)
}

// RuntimeInit repairs the allocator's on-media state after a possible
// crash, in the order the recovery depends on: first the two PSLL
// invariants, then the allocator's own three recovery steps.
func (a *Allocator) RuntimeInit() {
	a.freeList.RuntimeInit()
	a.allocList.RuntimeInit()

	// Step 1: free-list extension recovery. Allocate() writes a new
	// region and links it into the free list before advancing
	// free_offset; if the crash landed between those two stores,
	// free_offset is stale and must be advanced past the span that is
	// now durably part of the free list.
	if head := a.freeList.Head(); head != Invalid && head >= a.freeOffset() {
		a.setFreeOffset(head + a.regionTotalSize())
	}

	// Step 2: allocation-in-progress recovery. Allocate() moves a region
	// from the free list to the tail of the allocated list by inserting
	// it into the allocated list first, then removing it from the free
	// list. If the crash landed in between, the region is reachable from
	// both lists; finish the removal.
	if allocTail := a.allocList.Tail(); allocTail != Invalid {
		if freeHead := a.freeList.Head(); freeHead == allocTail {
			a.freeList.RemoveHead()
		}
	}

	// Step 3: free-in-progress recovery. Free() durably records the
	// offset being freed before mutating either list, and clears it only
	// after both mutations land; offset_to_free != Invalid on recovery
	// means the free did not finish.
	if pending := a.offsetToFree(); pending != Invalid {
		if a.freeList.Head() != pending {
			a.freeList.InsertHead(pending)
		}
		a.allocList.Remove(pending)
		a.setOffsetToFree(Invalid)
	}
}

// Allocate hands out one region of the allocator's fixed payload size,
// extending the arena if the free list is empty, and returns its offset.
// size must equal the allocator's configured region payload size — every
// region an allocator hands out is the same size.
func (a *Allocator) Allocate(size uint64) (uint64, error) {
	if size != a.regionLen {
		return 0, fmt.Errorf("%w: region size %d, got %d", ErrInvalidArgument, a.regionLen, size)
	}

	if a.freeList.Empty() {
		offset := a.freeOffset()
		total := a.regionTotalSize()
		if offset+total > a.arenaBase+a.totalSize() {
			return 0, ErrOutOfSpace
		}
		span.CreateRegion(a.data, offset, a.regionLen, Invalid, InvalidTimestamp)
		if err := a.mapping.PersistRange(offset, total); err != nil {
			return 0, err
		}
		a.freeList.InsertHead(offset)
		a.setFreeOffset(offset + total)
	}

	candidate := a.freeList.Head()
	a.zeroPayload(candidate)
	a.allocList.InsertTail(candidate)
	a.freeList.RemoveHead()
	return candidate, nil
}

func (a *Allocator) zeroPayload(offset uint64) {
	start := offset + span.RegionHeaderSize
	end := offset + a.regionTotalSize()
	for i := start; i < end; i++ {
		a.data[i] = 0
	}
	_ = a.mapping.PersistRange(start, end-start)
}

// Free returns a previously allocated region to the free list. Store
// order: offset_to_free <- offset (durable), insert at free-list head,
// remove from allocated list, offset_to_free <- Invalid. A crash at any
// point is resolved by RuntimeInit's step 3.
func (a *Allocator) Free(offset uint64) error {
	allocated := false
	for _, r := range a.allocList.Foreach() {
		if r == offset {
			allocated = true
			break
		}
	}
	if !allocated {
		return fmt.Errorf("%w: %d", ErrNotAllocated, offset)
	}

	a.setOffsetToFree(offset)
	a.freeList.InsertHead(offset)
	a.allocList.Remove(offset)
	a.setOffsetToFree(Invalid)
	return nil
}

// AllocatedRegions returns every region offset currently allocated, in
// allocated-list order.
func (a *Allocator) AllocatedRegions() []uint64 {
	return a.allocList.Foreach()
}

// FreeRegions returns every region offset currently on the free list.
func (a *Allocator) FreeRegions() []uint64 {
	return a.freeList.Foreach()
}

// RegionPayloadSize is the fixed payload size every Allocate call returns.
func (a *Allocator) RegionPayloadSize() uint64 { return a.regionLen }

// RegionTotalSize is the on-media footprint of a region, including header.
func (a *Allocator) RegionTotalSize() uint64 { return a.regionTotalSize() }

// FreeOffset reports the current high-water mark of the arena.
func (a *Allocator) FreeOffset() uint64 { return a.freeOffset() }
