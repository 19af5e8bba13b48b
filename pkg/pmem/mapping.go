// Package pmem provides the byte-addressable persistent mapping primitive
// that every other package in this module treats as an external collaborator:
// a fixed-size memory-mapped region with explicit flush/drain/persist calls
// standing in for non-temporal stores on real persistent memory.
//
// Go has no non-temporal store or cache-line flush intrinsics, so durability
// here is delegated to msync over an mmap'd regular file.
package pmem

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Mapping is a fixed-size region of byte-addressable persistent memory,
// backed by a memory-mapped regular file. It has no knowledge of spans,
// regions, or streams; it only offers raw bytes plus durability primitives.
type Mapping struct {
	mu     sync.RWMutex
	file   *os.File
	data   []byte
	closed bool
}

// Create maps a new file of exactly size bytes at path, failing if the
// file already exists.
func Create(path string, size uint64) (*Mapping, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("create mapping file %q: %w", path, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("truncate mapping file %q to %d: %w", path, size, err)
	}
	return mapFile(f, size)
}

// Open maps an existing file at path. The mapping's size is the file's
// current size; callers validate that size against stream metadata.
func Open(path string) (*Mapping, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open mapping file %q: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat mapping file %q: %w", path, err)
	}
	return mapFile(f, uint64(info.Size()))
}

func mapFile(f *os.File, size uint64) (*Mapping, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &Mapping{file: f, data: data}, nil
}

// Bytes returns the mapping's backing slice. Callers must not retain it
// past Close; all reads/writes go directly against live, mapped memory.
func (m *Mapping) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data
}

// Len reports the mapping size in bytes.
func (m *Mapping) Len() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.data))
}

// Flush is the non-temporal-store-plus-flush stand-in: it writes p at
// offset and schedules the modified range for eventual persistence. On a
// regular mmap'd file this is just a copy; durability is established by a
// later Persist/Drain call, matching the "flush defers, persist commits"
// split the span and allocator algorithms assume.
func (m *Mapping) Flush(offset uint64, p []byte) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	copy(m.data[offset:], p)
}

// Drain enforces ordering between two dependent stores. mmap'd writes to
// the same process's address space are already ordered from the writer's
// point of view, so this is a no-op placed at call sites that need it for
// documentation and for a future real-pmem backend to hook into.
func (m *Mapping) Drain() {}

// Persist makes the entire mapping durable, synchronously. It is the
// analogue of a full-mapping cache flush (pmem_persist over the whole
// range) and is what every publish path relies on before acknowledging a
// commit.
func (m *Mapping) Persist() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := unix.Msync(m.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("msync: %w", err)
	}
	return nil
}

// PersistRange makes the given byte range durable. Used by hot paths
// (publish) that only need to wait on the bytes they just wrote rather
// than the whole mapping.
func (m *Mapping) PersistRange(offset uint64, length uint64) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	end := offset + length
	if end > uint64(len(m.data)) {
		end = uint64(len(m.data))
	}
	if offset >= end {
		return nil
	}
	// msync requires a page-aligned start address: round offset down.
	start := offset &^ (uint64(os.Getpagesize()) - 1)
	if err := unix.Msync(m.data[start:end], unix.MS_SYNC); err != nil {
		return fmt.Errorf("msync range: %w", err)
	}
	return nil
}

// Close unmaps and closes the backing file, persisting first.
func (m *Mapping) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	if m.data != nil {
		_ = unix.Msync(m.data, unix.MS_SYNC)
		if err := unix.Munmap(m.data); err != nil {
			return fmt.Errorf("munmap: %w", err)
		}
		m.data = nil
	}
	if m.file != nil {
		if err := m.file.Close(); err != nil {
			return fmt.Errorf("close file: %w", err)
		}
		m.file = nil
	}
	return nil
}

// Exists reports whether a mapping file already exists at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
