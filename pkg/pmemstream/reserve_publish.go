package pmemstream

import (
	"fmt"
	"runtime"

	"github.com/marmos91/pmemstream-go/internal/logger"
	"github.com/marmos91/pmemstream-go/pkg/mpmc"
	"github.com/marmos91/pmemstream-go/pkg/span"
)

// Reserve bumps a region's append cursor by the aligned total size of an
// entry of size bytes and returns the entry's offset plus a slice into
// persistent memory the caller fills with payload. It does not write an
// entry header and does not assign a timestamp — concurrent readers see
// this span as EMPTY until Publish runs. Reserve fails without mutating
// region state if the reservation would exceed the region's capacity.
func (s *Stream) Reserve(regionOffset uint64, size uint64) (entryOffset uint64, payload []byte, err error) {
	if s.closed.Load() {
		return 0, nil, ErrClosed
	}

	rt, err := s.getOrCreateRegionRuntime(regionOffset)
	if err != nil {
		return 0, nil, err
	}
	if err := s.ensureWriteReady(rt); err != nil {
		return 0, nil, err
	}

	total := span.TotalSize(span.Entry, size)
	for {
		cur := rt.appendOffset.Load()
		if cur+total > rt.capacity {
			return 0, nil, ErrOutOfSpace
		}
		if rt.appendOffset.CompareAndSwap(cur, cur+total) {
			entryOffset = rt.dataOffset + cur
			dataOffset := entryOffset + span.EntryHeaderSize
			return entryOffset, s.data[dataOffset : dataOffset+size], nil
		}
	}
}

// Publish acquires a globally monotonic timestamp for the entry at
// entryOffset within regionOffset (payloadLen bytes, already written by
// the caller into the slice Reserve returned), writes the entry header,
// persists header plus payload plus a zero-initialized trailing header
// word, produces on the timestamp queue, and blocks until the durable
// watermark reaches the assigned timestamp. producerID must have been
// acquired from s.IDs().
func (s *Stream) Publish(regionOffset, entryOffset uint64, payloadLen uint64, producerID uint64) error {
	if s.closed.Load() {
		return ErrClosed
	}

	rt, err := s.getOrCreateRegionRuntime(regionOffset)
	if err != nil {
		return err
	}

	grantOffset := s.queue.Acquire(producerID, 1)
	if grantOffset == mpmc.OffsetMax {
		return fmt.Errorf("%w: timestamp queue exhausted", ErrOutOfSpace)
	}
	timestamp := FirstTimestamp + grantOffset

	span.CreateEntry(s.data, entryOffset, payloadLen, timestamp)
	total := span.TotalSize(span.Entry, payloadLen)
	if err := s.mapping.PersistRange(entryOffset, total); err != nil {
		return err
	}

	// Persist the BaseHeaderSize bytes immediately following this entry,
	// which Allocate/ensureWriteReady zeroed and which therefore read as
	// the EMPTY tail sentinel. They are not rewritten here: a concurrent
	// Reserve may already own that offset and have published its entry
	// header there.
	trailingOffset := entryOffset + total
	regionEnd := rt.dataOffset + rt.capacity
	if trailingOffset+span.BaseHeaderSize <= regionEnd {
		if err := s.mapping.PersistRange(trailingOffset, span.BaseHeaderSize); err != nil {
			return err
		}
	}

	s.queue.Produce(producerID)
	s.advanceWatermark(timestamp)
	return nil
}

// advanceWatermark implements the commit-watermark advance: any thread may
// consume the MPMC queue to compute the new committed_timestamp; the
// thread whose CAS succeeds persists it as persisted_timestamp. The
// caller blocks until persisted_timestamp reaches timestamp, cooperating
// with other publishers' consume attempts to make progress.
func (s *Stream) advanceWatermark(timestamp uint64) {
	maxProducerID := s.ids.MaxConcurrency() - 1
	for {
		if ready, n := s.queue.Consume(maxProducerID); n > 0 {
			committed := ready + n
			s.watermarkMu.Lock()
			if committed > s.persistedTimestamp.Load() {
				s.persistedTimestamp.Store(committed)
				s.hdr.setPersistedTimestamp(committed)
				_ = s.mapping.PersistRange(persistedTimestampOffset, 8)
			}
			s.watermarkMu.Unlock()
		}
		if s.persistedTimestamp.Load() >= timestamp {
			return
		}
		runtime.Gosched()
	}
}

// Append reserves space for data, copies it in, and publishes it under a
// freshly acquired producer id, released once the call returns.
func (s *Stream) Append(regionOffset uint64, data []byte) (uint64, error) {
	entryOffset, dst, err := s.Reserve(regionOffset, uint64(len(data)))
	if err != nil {
		return 0, err
	}
	copy(dst, data)

	producerID, err := s.ids.Acquire()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrOutOfSpace, err)
	}
	defer s.ids.Release(producerID)

	if err := s.Publish(regionOffset, entryOffset, uint64(len(data)), producerID); err != nil {
		return 0, err
	}
	logger.Debug("entry appended", logger.RegionOffset(regionOffset), logger.EntryOffset(entryOffset), logger.EntrySize(uint64(len(data))))
	return entryOffset, nil
}

// DataMover drives the payload copy step of AsyncAppend. The returned
// channel carries a single error (nil on success) and is then closed.
// Production code backs this with whatever asynchronous copy engine the
// deployment provides; DefaultDataMover copies synchronously in place.
type DataMover interface {
	Copy(dst, src []byte) <-chan error
}

type syncDataMover struct{}

func (syncDataMover) Copy(dst, src []byte) <-chan error {
	ch := make(chan error, 1)
	copy(dst, src)
	ch <- nil
	close(ch)
	return ch
}

// DefaultDataMover copies payloads synchronously; it exists so
// AsyncAppend has a usable mover when no real asynchronous engine is
// wired in, treating the data-mover as an
// external collaborator.
var DefaultDataMover DataMover = syncDataMover{}

// Future is the pollable handle AsyncAppend returns: a two-step chain
// (memcpy via the DataMover, then Publish) whose terminal state is
// reached when the assigned timestamp is durable.
type Future struct {
	done        chan struct{}
	entryOffset uint64
	err         error
}

// Wait blocks until the append completes and returns its entry offset
// or the first error encountered.
func (f *Future) Wait() (uint64, error) {
	<-f.done
	return f.entryOffset, f.err
}

// Ready reports whether the future has completed without blocking.
func (f *Future) Ready() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// AsyncAppend is Append with the payload copy driven by mover instead of
// an inline copy: Reserve happens synchronously (it only bumps an
// offset), then mover.Copy runs the memcpy, and Publish is chained to
// run on its completion.
func (s *Stream) AsyncAppend(mover DataMover, regionOffset uint64, data []byte) *Future {
	f := &Future{done: make(chan struct{})}

	entryOffset, dst, err := s.Reserve(regionOffset, uint64(len(data)))
	if err != nil {
		f.err = err
		close(f.done)
		return f
	}

	producerID, err := s.ids.Acquire()
	if err != nil {
		f.err = fmt.Errorf("%w: %v", ErrOutOfSpace, err)
		close(f.done)
		return f
	}

	go func() {
		defer s.ids.Release(producerID)
		if copyErr := <-mover.Copy(dst, data); copyErr != nil {
			f.err = copyErr
			close(f.done)
			return
		}
		f.entryOffset = entryOffset
		f.err = s.Publish(regionOffset, entryOffset, uint64(len(data)), producerID)
		close(f.done)
	}()

	return f
}
