// Package pmemstream implements the stream facade that composes the
// span, psll, allocator, threadid, and mpmc packages into the public
// append-only log engine: region allocation, reserve/publish/append,
// async append, iteration, and timestamp telemetry.
package pmemstream

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/marmos91/pmemstream-go/internal/logger"
	"github.com/marmos91/pmemstream-go/pkg/allocator"
	"github.com/marmos91/pmemstream-go/pkg/mpmc"
	"github.com/marmos91/pmemstream-go/pkg/pmem"
	"github.com/marmos91/pmemstream-go/pkg/span"
	"github.com/marmos91/pmemstream-go/pkg/threadid"
)

// queueCapacity bounds the MPMC queue's offset domain, which is reused
// directly as the timestamp domain. It only needs to be
// larger than any realistic number of entries a stream will ever commit
// in one process lifetime; it is never persisted.
const queueCapacity = ^uint64(0) >> 1

// Options configures Open. BlockSize and StreamSize are validated
// against a persisted header on reopen and used verbatim to format a
// fresh mapping. RegionPayloadSize is the fixed payload size every
// AllocateRegion call must request, every region sharing a single fixed payload size.
type Options struct {
	StreamSize        uint64
	BlockSize         uint64
	RegionPayloadSize uint64
	MaxConcurrency    uint64
}

// DefaultMaxConcurrency is the configuration default.
const DefaultMaxConcurrency = 1024

func (o Options) withDefaults() Options {
	if o.MaxConcurrency == 0 {
		o.MaxConcurrency = DefaultMaxConcurrency
	}
	return o
}

// Stream is an open pmem stream: a formatted mapping plus the volatile
// runtime state (region map, thread-id table, MPMC queue) layered over
// it. All exported methods are safe for concurrent use.
type Stream struct {
	mapping *pmem.Mapping
	data    []byte
	hdr     header

	streamSize        uint64
	blockSize         uint64
	regionPayloadSize uint64

	alloc   *allocator.Allocator
	allocMu sync.Mutex // allocator list mutations serialize behind one mutex

	ids   *threadid.Manager
	queue *mpmc.Queue

	regionsMu sync.RWMutex
	regions   map[uint64]*regionRuntime

	persistedTimestamp atomic.Uint64
	watermarkMu        sync.Mutex // serializes the "consumer that advances the watermark" write

	closed atomic.Bool
}

// Open formats path on first use (signature all-zero) or validates an
// existing header against opts (mismatched block_size or
// stream_size against a persisted header is a hard error, not a silent
// reformat) and replays crash recovery.
func Open(path string, opts Options) (*Stream, error) {
	opts = opts.withDefaults()
	if err := validateSizes(opts.StreamSize, opts.BlockSize); err != nil {
		return nil, err
	}
	if opts.RegionPayloadSize == 0 {
		return nil, fmt.Errorf("%w: region_payload_size must be > 0", ErrInvalidArgument)
	}

	var m *pmem.Mapping
	var err error
	if pmem.Exists(path) {
		m, err = pmem.Open(path)
	} else {
		m, err = pmem.Create(path, opts.StreamSize)
	}
	if err != nil {
		return nil, err
	}

	if m.Len() != opts.StreamSize {
		m.Close()
		return nil, fmt.Errorf("%w: mapping size %d does not match stream_size %d", ErrInvalidArgument, m.Len(), opts.StreamSize)
	}

	data := m.Bytes()
	hdr := header{data: data}

	fresh := !hdr.signatureInitialized()
	if !fresh {
		if !hdr.signatureMatches() {
			m.Close()
			return nil, fmt.Errorf("%w: signature mismatch", ErrCorrupted)
		}
		if hdr.streamSize() != opts.StreamSize || hdr.blockSize() != opts.BlockSize {
			m.Close()
			return nil, fmt.Errorf("%w: stream_size/block_size mismatch with persisted header", ErrInvalidArgument)
		}
	} else {
		hdr.format(opts.StreamSize, opts.BlockSize)
		if err := m.PersistRange(0, HeaderSize); err != nil {
			m.Close()
			return nil, err
		}
	}

	arenaBase := hdr.arenaBase()
	arenaSize := opts.StreamSize - arenaBase
	alloc := allocator.Open(data, m, allocatorHeaderOffset, arenaBase, arenaSize, opts.RegionPayloadSize, opts.BlockSize)
	if fresh {
		alloc.Init()
	} else {
		alloc.RuntimeInit()
	}

	s := &Stream{
		mapping:           m,
		data:              data,
		hdr:               hdr,
		streamSize:        opts.StreamSize,
		blockSize:         opts.BlockSize,
		regionPayloadSize: opts.RegionPayloadSize,
		alloc:             alloc,
		ids:               threadid.NewManager(opts.MaxConcurrency),
		queue:             mpmc.New(opts.MaxConcurrency, queueCapacity),
		regions:           make(map[uint64]*regionRuntime),
	}
	s.persistedTimestamp.Store(hdr.persistedTimestamp())
	s.queue.Reset(s.persistedTimestamp.Load())

	if !fresh {
		if err := s.markRegionsForRecovery(); err != nil {
			m.Close()
			return nil, err
		}
	}

	logger.Info("stream opened",
		logger.StreamSize(opts.StreamSize),
		logger.BlockSize(opts.BlockSize),
		logger.PersistedTS(s.persistedTimestamp.Load()),
		logger.MaxConcurrent(opts.MaxConcurrency),
	)
	return s, nil
}

// Close persists any remaining state and unmaps the stream. It is not
// safe to call Close concurrently with in-flight appends.
func (s *Stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	logger.Info("stream closing", logger.PersistedTS(s.persistedTimestamp.Load()))
	return s.mapping.Close()
}

// CommittedTimestamp returns the highest timestamp whose producer has
// completed produce().
func (s *Stream) CommittedTimestamp() uint64 {
	return s.queue.ConsumedOffset()
}

// PersistedTimestamp returns the highest timestamp known durable.
func (s *Stream) PersistedTimestamp() uint64 {
	return s.persistedTimestamp.Load()
}

// EntryTimestamp reads the timestamp field of the entry at offset. It
// returns InvalidTimestamp rather than an error for a non-entry offset.
func (s *Stream) EntryTimestamp(offset uint64) uint64 {
	t, _, err := span.ReadBase(s.data, offset)
	if err != nil || t != span.Entry {
		return InvalidTimestamp
	}
	return span.ReadEntryTimestamp(s.data, offset)
}

// IDs exposes the stream's thread-id manager. Append and AsyncAppend
// acquire and release a producer id internally for each call; a caller
// that wants to pin one id across several Publish calls (avoiding the
// acquire/release overhead per append) can Acquire it here and pass it
// directly to Publish.
func (s *Stream) IDs() *threadid.Manager { return s.ids }
