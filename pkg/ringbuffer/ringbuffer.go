// Package ringbuffer is a bounded, fixed-capacity log built on top of a
// pmemstream.Stream: a single producer appends entries into the current
// region while a single consumer walks the same regions behind it,
// freeing and reallocating a region once the consumer has drained past
// it. The producer and consumer each track a position pair — a region
// iterator paired with an entry iterator — and free-then-reallocate the
// region a position just finished whenever it crosses a region boundary.
package ringbuffer

import (
	"errors"
	"sync/atomic"

	"github.com/marmos91/pmemstream-go/pkg/pmemstream"
)

// entryNotInitialized marks a producer or consumer position that has
// not read any entry yet.
const entryNotInitialized = ^uint64(0)

// position walks a stream's regions in arena order, one entry at a
// time, recreating its entry iterator whenever it crosses into the
// next region.
type position struct {
	s             *pmemstream.Stream
	regionIter    *pmemstream.RegionIterator
	entryIter     *pmemstream.EntryIterator
	currentRegion uint64
	currentEntry  atomic.Uint64 // offset, or entryNotInitialized
	currentData   []byte
}

func newPosition(s *pmemstream.Stream) (*position, error) {
	regionIter := s.Regions()
	region, ok := regionIter.Next()
	if !ok {
		return nil, pmemstream.ErrInvalidArgument
	}
	entryIter, err := s.Entries(region)
	if err != nil {
		return nil, err
	}
	p := &position{s: s, regionIter: regionIter, entryIter: entryIter, currentRegion: region}
	p.currentEntry.Store(entryNotInitialized)
	return p, nil
}

// movedToNextRegion reports that next crossed a region boundary.
func (p *position) next() (movedToNextRegion bool, ok bool) {
	if p.entryIter.Next() {
		payload, off, _ := p.entryIter.Get()
		p.currentData = payload
		p.currentEntry.Store(off)
		return false, true
	}

	region, regionOK := p.regionIter.Next()
	if !regionOK {
		return false, false
	}
	p.currentRegion = region

	entryIter, err := p.s.Entries(region)
	if err != nil {
		return false, false
	}
	p.entryIter = entryIter

	if !p.entryIter.Next() {
		return true, false
	}
	payload, off, _ := p.entryIter.Get()
	p.currentData = payload
	p.currentEntry.Store(off)
	return true, true
}

func equalPositions(lhs, rhs *position) bool {
	return lhs.currentEntry.Load() == rhs.currentEntry.Load()
}

// Runtime is a single-producer, single-consumer ring buffer: Produce
// appends behind the producer position, Consume reads behind the
// consumer position, and a region is freed and reallocated as soon as
// the consumer finishes reading it.
type Runtime struct {
	s          *pmemstream.Stream
	regionSize uint64
	producer   *position
	consumer   *position
}

// New builds a Runtime over s. If s has no regions yet, numRegions
// regions of regionSize are allocated up front to seed a fixed-capacity
// ring: the producer only ever advances into a region that already
// exists in the chain, and a region is freed and a same-size replacement allocated
// only once the consumer has fully drained it (see Consume). numRegions
// bounds how far the producer may run ahead of the consumer before
// Produce starts returning pmemstream.ErrOutOfSpace.
func New(s *pmemstream.Stream, regionSize uint64, numRegions int) (*Runtime, error) {
	if _, ok := s.Regions().Next(); !ok {
		for i := 0; i < numRegions; i++ {
			if _, err := s.AllocateRegion(regionSize); err != nil {
				return nil, err
			}
		}
	}

	producer, err := newPosition(s)
	if err != nil {
		return nil, err
	}
	consumer, err := newPosition(s)
	if err != nil {
		return nil, err
	}

	return &Runtime{s: s, regionSize: regionSize, producer: producer, consumer: consumer}, nil
}

// Produce appends data behind the producer's current region, moving on
// to the next region in the chain when the current one is full, and
// advances the producer position past the new entry.
func (r *Runtime) Produce(data []byte) error {
	_, err := r.s.Append(r.producer.currentRegion, data)
	for errors.Is(err, pmemstream.ErrOutOfSpace) {
		region, ok := r.producer.regionIter.Next()
		if !ok {
			return err
		}
		entryIter, iterErr := r.s.Entries(region)
		if iterErr != nil {
			return iterErr
		}
		r.producer.currentRegion, r.producer.entryIter = region, entryIter
		_, err = r.s.Append(region, data)
	}
	if err != nil {
		return err
	}
	r.producer.next()
	return nil
}

// Consume returns the next entry behind the consumer position, or
// (nil, false) if the consumer has caught up with the producer. When
// consuming crosses a region boundary, the region just finished is
// freed and a fresh one of the same size is allocated to take its
// place, keeping total capacity bounded.
func (r *Runtime) Consume() ([]byte, bool) {
	if r.producer.currentEntry.Load() == entryNotInitialized {
		return nil, false
	}
	if equalPositions(r.consumer, r.producer) {
		return nil, false
	}

	previousRegion := r.consumer.currentRegion
	movedToNextRegion, ok := r.consumer.next()
	if !ok {
		return nil, false
	}
	if movedToNextRegion {
		if err := r.s.FreeRegion(previousRegion); err != nil {
			return nil, false
		}
		if _, err := r.s.AllocateRegion(r.regionSize); err != nil {
			return nil, false
		}
	}

	return append([]byte(nil), r.consumer.currentData...), true
}
