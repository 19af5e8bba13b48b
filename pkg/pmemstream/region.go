package pmemstream

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/marmos91/pmemstream-go/pkg/span"
)

type regionState int32

const (
	regionReadReady regionState = iota
	regionWriteReady
)

// regionRuntime is the volatile per-region state: an
// append cursor rebuilt on demand by scanning entries, and the
// READ_READY/WRITE_READY state machine that gates it.
type regionRuntime struct {
	offset     uint64
	dataOffset uint64
	capacity   uint64 // payload bytes available for entries

	state atomic.Int32
	// appendOffset is relative to dataOffset, tagged with DirtyBit while
	// the region's tail has not yet been zeroed.
	appendOffset atomic.Uint64

	mu sync.Mutex // serializes the READ_READY -> WRITE_READY transition
}

func newRegionRuntime(offset uint64, sp span.Runtime) *regionRuntime {
	rt := &regionRuntime{offset: offset, dataOffset: sp.DataOffset, capacity: sp.Size}
	rt.state.Store(int32(regionReadReady))
	return rt
}

// getOrCreateRegionRuntime looks up or lazily creates a region's runtime
// state. The lock is held only for insertion, preserving the
// "concurrent ordered map... lock used only for insertion" — lookups
// take the read lock and return immediately.
func (s *Stream) getOrCreateRegionRuntime(offset uint64) (*regionRuntime, error) {
	s.regionsMu.RLock()
	rt, ok := s.regions[offset]
	s.regionsMu.RUnlock()
	if ok {
		return rt, nil
	}

	s.regionsMu.Lock()
	defer s.regionsMu.Unlock()
	if rt, ok := s.regions[offset]; ok {
		return rt, nil
	}

	sp, err := span.At(s.data, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: region at %d: %v", ErrCorrupted, offset, err)
	}
	if sp.Type != span.Region {
		return nil, fmt.Errorf("%w: offset %d is not a region", ErrRegionNotFound, offset)
	}
	rt = newRegionRuntime(offset, sp)
	s.regions[offset] = rt
	return rt, nil
}

// ensureWriteReady performs the READ_READY -> WRITE_READY transition:
// scan entries from the region's data offset, validating each against
// the stream's persisted_timestamp, and stop at the first invalid span.
// That offset becomes append_offset, tagged dirty until the tail is
// zeroed, then cleared. Idempotent: a region already WRITE_READY returns
// immediately without re-scanning.
func (s *Stream) ensureWriteReady(rt *regionRuntime) error {
	if regionState(rt.state.Load()) == regionWriteReady {
		return nil
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if regionState(rt.state.Load()) == regionWriteReady {
		return nil
	}

	persisted := s.persistedTimestamp.Load()
	end := rt.dataOffset + rt.capacity
	cur := rt.dataOffset

	for cur < end {
		t, size, err := span.ReadBase(s.data, cur)
		if err != nil {
			// Unrecoverable corruption: treat the first
			// malformed span as the tail, truncating the region.
			break
		}
		if t != span.Entry {
			break
		}
		ts := span.ReadEntryTimestamp(s.data, cur)
		if ts == InvalidTimestamp || ts > persisted {
			break
		}
		cur += span.TotalSize(span.Entry, size)
	}

	tail := cur - rt.dataOffset
	rt.appendOffset.Store(tail | DirtyBit)

	if cur < end {
		for i := cur; i < end; i++ {
			s.data[i] = 0
		}
		if err := s.mapping.PersistRange(cur, end-cur); err != nil {
			return err
		}
	}

	rt.appendOffset.Store(tail)
	rt.state.Store(int32(regionWriteReady))
	return nil
}

// markRegionsForRecovery stamps every region whose max_valid_timestamp
// is still InvalidTimestamp with the stream's persisted_timestamp as of
// this open (nothing is stamped while persisted_timestamp is still
// InvalidTimestamp). The field is only written here: entry validity is
// decided by timestamp <= persisted_timestamp alone, and no code path
// reads the stamp to accept or reject entries.
func (s *Stream) markRegionsForRecovery() error {
	persisted := s.persistedTimestamp.Load()
	if persisted == InvalidTimestamp {
		return nil
	}

	it := s.Regions()
	for {
		offset, ok := it.Next()
		if !ok {
			return nil
		}
		if span.ReadRegionHeader(s.data, offset).MaxValidTimestamp != InvalidTimestamp {
			continue
		}
		span.SetMaxValidTimestamp(s.data, offset, persisted)
		if err := s.mapping.PersistRange(offset+span.RegionMaxValidTimestampOffset, 8); err != nil {
			return err
		}
	}
}

// AllocateRegion carves out a new region of the stream's fixed region
// payload size (every region allocation is the same fixed size).
func (s *Stream) AllocateRegion(size uint64) (uint64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	if size != s.regionPayloadSize {
		return 0, fmt.Errorf("%w: region size is fixed at %d, got %d", ErrInvalidArgument, s.regionPayloadSize, size)
	}

	s.allocMu.Lock()
	defer s.allocMu.Unlock()
	return s.alloc.Allocate(size)
}

// FreeRegion returns a region to the allocator's free list and drops its
// runtime state; a subsequent lookup of the same offset re-reads it from
// the allocator as a fresh region.
func (s *Stream) FreeRegion(offset uint64) error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.allocMu.Lock()
	err := s.alloc.Free(offset)
	s.allocMu.Unlock()
	if err != nil {
		return err
	}

	s.regionsMu.Lock()
	delete(s.regions, offset)
	s.regionsMu.Unlock()
	return nil
}

// RegionSize returns the payload size of the region at offset.
func (s *Stream) RegionSize(offset uint64) (uint64, error) {
	sp, err := span.At(s.data, offset)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if sp.Type != span.Region {
		return 0, fmt.Errorf("%w: offset %d is not a region", ErrInvalidArgument, offset)
	}
	return sp.Size, nil
}

// RuntimeInitRegion forces the READ_READY -> WRITE_READY transition for
// offset, exposed so callers (and tests) can trigger recovery explicitly
// rather than waiting for the first Reserve.
func (s *Stream) RuntimeInitRegion(offset uint64) error {
	rt, err := s.getOrCreateRegionRuntime(offset)
	if err != nil {
		return err
	}
	return s.ensureWriteReady(rt)
}

// AllocatedRegions returns every region offset currently allocated (not
// on the allocator's free list), in allocated-list order.
func (s *Stream) AllocatedRegions() []uint64 {
	s.allocMu.Lock()
	defer s.allocMu.Unlock()
	return s.alloc.AllocatedRegions()
}

// FreeRegions returns every region offset currently on the allocator's
// free list, in free-list order.
func (s *Stream) FreeRegions() []uint64 {
	s.allocMu.Lock()
	defer s.allocMu.Unlock()
	return s.alloc.FreeRegions()
}
