package pmemstream

import (
	"github.com/marmos91/pmemstream-go/pkg/span"
)

// RegionIterator walks the span chain from the start of the arena,
// yielding the offset of every REGION span and skipping EMPTY runs.
// It is a one-shot forward cursor; construct a fresh one
// with Regions to iterate again.
type RegionIterator struct {
	s      *Stream
	cur    uint64
	end    uint64
	offset uint64
	valid  bool
}

// Regions returns a RegionIterator positioned before the first region.
// Call Next to advance to (and yield) each region offset in arena order.
func (s *Stream) Regions() *RegionIterator {
	return &RegionIterator{s: s, cur: s.hdr.arenaBase(), end: s.streamSize}
}

// Next advances to the next region, returning its offset and true, or
// (0, false) once the arena is exhausted.
func (it *RegionIterator) Next() (uint64, bool) {
	for it.cur < it.end {
		t, size, err := span.ReadBase(it.s.data, it.cur)
		if err != nil {
			// Unrecoverable corruption: stop scanning rather
			// than risk stepping past the arena on a bad size field.
			it.valid = false
			return 0, false
		}
		total := span.TotalSize(t, size)
		offset := it.cur
		it.cur += total
		if t == span.Region {
			it.offset = offset
			it.valid = true
			return offset, true
		}
	}
	it.valid = false
	return 0, false
}

// SeekFirst resets the iterator to the start of the arena.
func (it *RegionIterator) SeekFirst() {
	it.cur = it.s.hdr.arenaBase()
	it.valid = false
}

// IsValid reports whether the most recent Next call yielded a region.
func (it *RegionIterator) IsValid() bool { return it.valid }

// Get returns the region offset the iterator currently sits on. Only
// meaningful when IsValid reports true.
func (it *RegionIterator) Get() uint64 { return it.offset }

// EntryIterator walks the entries of a single region in append order,
// starting at the region's first data offset. It is safe
// to use concurrently with appends to the same region: concurrent
// appends only grow the sequence, and the timestamp validation below
// ensures an in-progress, unpublished entry is never surfaced.
type EntryIterator struct {
	s            *Stream
	regionOffset uint64
	rt           *regionRuntime
	cur          uint64 // absolute offset within the mapping
	offset       uint64
	payload      []byte
	timestamp    uint64
	valid        bool
	err          error
}

// Entries returns an EntryIterator positioned before the region's first
// entry. regionOffset must name a currently allocated region.
func (s *Stream) Entries(regionOffset uint64) (*EntryIterator, error) {
	rt, err := s.getOrCreateRegionRuntime(regionOffset)
	if err != nil {
		return nil, err
	}
	return &EntryIterator{s: s, regionOffset: regionOffset, rt: rt, cur: rt.dataOffset}, nil
}

// SeekFirst resets the iterator to the region's first entry.
func (it *EntryIterator) SeekFirst() {
	it.cur = it.rt.dataOffset
	it.valid = false
	it.err = nil
}

// Next advances to the next entry span, validating it against the
// stream's persisted_timestamp. It stops (returning false) at the
// region's live append_offset if the region is already WRITE_READY, or
// at the first invalid span otherwise — in which case, if the region is
// still READ_READY, it triggers the READ_READY -> WRITE_READY
// transition with this offset as the recovered tail.
func (it *EntryIterator) Next() bool {
	end := it.rt.dataOffset + it.rt.capacity
	if it.cur >= end {
		it.valid = false
		return false
	}

	if regionState(it.rt.state.Load()) == regionWriteReady {
		appendOffset := it.rt.dataOffset + (it.rt.appendOffset.Load() &^ DirtyBit)
		if it.cur >= appendOffset {
			it.valid = false
			return false
		}
	}

	t, size, err := span.ReadBase(it.s.data, it.cur)
	if err != nil || t != span.Entry {
		if regionState(it.rt.state.Load()) == regionReadReady {
			it.err = it.s.ensureWriteReady(it.rt)
		}
		it.valid = false
		return false
	}

	ts := span.ReadEntryTimestamp(it.s.data, it.cur)
	if ts == InvalidTimestamp || ts > it.s.persistedTimestamp.Load() {
		if regionState(it.rt.state.Load()) == regionReadReady {
			it.err = it.s.ensureWriteReady(it.rt)
		}
		it.valid = false
		return false
	}

	dataOffset := it.cur + span.EntryHeaderSize
	it.offset = it.cur
	it.payload = it.s.data[dataOffset : dataOffset+size]
	it.timestamp = ts
	it.cur += span.TotalSize(span.Entry, size)
	it.valid = true
	return true
}

// IsValid reports whether the most recent Next call yielded an entry.
func (it *EntryIterator) IsValid() bool { return it.valid }

// Get returns the payload, offset, and timestamp of the entry the
// iterator currently sits on. Only meaningful when IsValid reports true.
func (it *EntryIterator) Get() (payload []byte, offset uint64, timestamp uint64) {
	return it.payload, it.offset, it.timestamp
}

// Err returns any error encountered while triggering region recovery
// during iteration (Next itself never returns an error; read this after
// a Next call returns false to distinguish "end of region" from a
// recovery failure).
func (it *EntryIterator) Err() error { return it.err }
