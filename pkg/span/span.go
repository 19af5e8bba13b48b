// Package span implements the typed, variable-length framing that every
// byte range in a stream's arena is wrapped in: region spans, entry spans,
// and the implicit empty span that marks unused tail space.
//
// A span's header is a single 8-byte little-endian word: the top two bits
// encode the type, the remaining 62 bits encode the payload size. Region
// and entry spans carry additional persistent fields immediately after
// that word; an empty span carries none; a zero-initialized word is an
// empty span of size zero, which is what lets a freshly extended or
// zeroed arena read back as "end of data" without any explicit marker.
package span

import (
	"encoding/binary"
	"fmt"
)

// Type is the two-bit span discriminant stored in the header word's top bits.
type Type uint8

const (
	// Empty marks unused space; the default interpretation of a
	// zero-initialized header word.
	Empty Type = 0b00
	// Entry is a user-visible record tagged with a commit timestamp.
	Entry Type = 0b10
	// Region is an allocator-owned sub-log; also a PSLL node.
	Region Type = 0b11
	// unknown is any other bit pattern; only reachable on corruption.
	unknown Type = 0b01
)

func (t Type) String() string {
	switch t {
	case Empty:
		return "EMPTY"
	case Entry:
		return "ENTRY"
	case Region:
		return "REGION"
	default:
		return "UNKNOWN"
	}
}

const (
	// Alignment is the minimum alignment for any span offset.
	Alignment = 8
	// CacheLineSize is the alignment used for region span bodies.
	CacheLineSize = 64

	typeShift = 62
	sizeMask  = (uint64(1) << typeShift) - 1

	// BaseHeaderSize is the size of the common header word shared by
	// every span type.
	BaseHeaderSize = 8
	// EntryHeaderSize is BaseHeaderSize plus the entry's timestamp field.
	EntryHeaderSize = BaseHeaderSize + 8
	// RegionHeaderSize is the cache-line-aligned header carrying the two
	// PSLL link fields plus max_valid_timestamp.
	RegionHeaderSize = CacheLineSize
)

// AlignUp rounds x up to the nearest multiple of align. align must be a
// power of two.
func AlignUp(x, align uint64) uint64 {
	return (x + align - 1) &^ (align - 1)
}

// HeaderSize returns the persistent header size for a span of type t.
func HeaderSize(t Type) uint64 {
	switch t {
	case Entry:
		return EntryHeaderSize
	case Region:
		return RegionHeaderSize
	default:
		return BaseHeaderSize
	}
}

// TotalSize returns header_size(t) + size, rounded up to Alignment —
// the number of bytes a span of type t and payload size occupies on media.
func TotalSize(t Type, size uint64) uint64 {
	return AlignUp(HeaderSize(t)+size, Alignment)
}

// ErrUnknownType is returned by ReadBase when the header word's type bits
// do not match any known span type; only reachable on corruption.
var ErrUnknownType = fmt.Errorf("span: unknown type in header word")

func packHeader(t Type, size uint64) uint64 {
	return uint64(t)<<typeShift | (size & sizeMask)
}

func unpackHeader(word uint64) (Type, uint64) {
	return Type(word >> typeShift), word & sizeMask
}

// ReadBase reads the header word at offset and returns its type and
// payload size. offset must be 8-byte aligned and within data.
func ReadBase(data []byte, offset uint64) (Type, uint64, error) {
	word := binary.LittleEndian.Uint64(data[offset : offset+BaseHeaderSize])
	t, size := unpackHeader(word)
	if t == unknown {
		return unknown, 0, ErrUnknownType
	}
	return t, size, nil
}

// writeBase writes only the header word, leaving any type-specific fields
// untouched. Callers that create a new span always follow with the
// type-specific writer below; writeBase alone is used to rewrite an
// existing span's word in place (e.g. zeroing the tail to EMPTY).
func writeBase(data []byte, offset uint64, t Type, size uint64) {
	binary.LittleEndian.PutUint64(data[offset:offset+BaseHeaderSize], packHeader(t, size))
}

// Runtime is a fully decoded view of a span: its type, offset, payload
// size, and the computed offsets a caller needs to read or write its
// payload and to advance to the next span.
type Runtime struct {
	Offset     uint64
	Type       Type
	Size       uint64 // payload size in bytes
	DataOffset uint64 // offset of the first payload byte
	TotalSize  uint64 // header + payload, rounded to Alignment
}

// At decodes the span at offset, dispatching on its type to compute
// DataOffset correctly for region and entry spans.
func At(data []byte, offset uint64) (Runtime, error) {
	t, size, err := ReadBase(data, offset)
	if err != nil {
		return Runtime{}, err
	}
	return Runtime{
		Offset:     offset,
		Type:       t,
		Size:       size,
		DataOffset: offset + HeaderSize(t),
		TotalSize:  TotalSize(t, size),
	}, nil
}

// RegionHeader is the decoded body of a region span, immediately
// following the common header word.
type RegionHeader struct {
	NextAllocated     uint64
	NextFree          uint64
	MaxValidTimestamp uint64
}

// Field offsets within a region span body, relative to the span's own
// offset. Exported so the allocator can persist a single modified field
// (e.g. after updating a PSLL link) without flushing the whole header.
const (
	RegionNextAllocatedOffset     = BaseHeaderSize
	RegionNextFreeOffset          = RegionNextAllocatedOffset + 8
	RegionMaxValidTimestampOffset = RegionNextFreeOffset + 8

	regionNextAllocatedOff = RegionNextAllocatedOffset
	regionNextFreeOff      = RegionNextFreeOffset
	regionMaxValidTSOff    = RegionMaxValidTimestampOffset
)

// CreateRegion writes a complete region span at offset: header word,
// PSLL link fields initialized to INVALID (caller links them in), and
// max_valid_timestamp. Caller is responsible for flushing/persisting.
func CreateRegion(data []byte, offset uint64, size uint64, invalidOffset uint64, maxValidTimestamp uint64) {
	binary.LittleEndian.PutUint64(data[offset+regionNextAllocatedOff:], invalidOffset)
	binary.LittleEndian.PutUint64(data[offset+regionNextFreeOff:], invalidOffset)
	binary.LittleEndian.PutUint64(data[offset+regionMaxValidTSOff:], maxValidTimestamp)
	// Header word written last: its presence is what makes an iterator
	// recognize this span as a REGION rather than leftover EMPTY bytes.
	writeBase(data, offset, Region, size)
}

// ReadRegionHeader reads the region-specific fields at offset. The
// caller must already know offset holds a REGION span.
func ReadRegionHeader(data []byte, offset uint64) RegionHeader {
	return RegionHeader{
		NextAllocated:     binary.LittleEndian.Uint64(data[offset+regionNextAllocatedOff:]),
		NextFree:          binary.LittleEndian.Uint64(data[offset+regionNextFreeOff:]),
		MaxValidTimestamp: binary.LittleEndian.Uint64(data[offset+regionMaxValidTSOff:]),
	}
}

// SetNextAllocated updates a region span's PSLL link for the allocated list.
func SetNextAllocated(data []byte, offset uint64, next uint64) {
	binary.LittleEndian.PutUint64(data[offset+regionNextAllocatedOff:], next)
}

// SetNextFree updates a region span's PSLL link for the free list.
func SetNextFree(data []byte, offset uint64, next uint64) {
	binary.LittleEndian.PutUint64(data[offset+regionNextFreeOff:], next)
}

// SetMaxValidTimestamp updates the reserved recovery-marking field (see
// the stream's Open-time recovery pass).
func SetMaxValidTimestamp(data []byte, offset uint64, ts uint64) {
	binary.LittleEndian.PutUint64(data[offset+regionMaxValidTSOff:], ts)
}

const entryTimestampOff = BaseHeaderSize

// CreateEntry writes an entry span's header word and timestamp field at
// offset. Payload bytes are written separately by the caller (reserve
// returns a pointer directly to the payload area).
func CreateEntry(data []byte, offset uint64, size uint64, timestamp uint64) {
	binary.LittleEndian.PutUint64(data[offset+entryTimestampOff:], timestamp)
	writeBase(data, offset, Entry, size)
}

// ReadEntryTimestamp reads an entry span's timestamp field. The caller
// must already know offset holds an ENTRY span.
func ReadEntryTimestamp(data []byte, offset uint64) uint64 {
	return binary.LittleEndian.Uint64(data[offset+entryTimestampOff:])
}

// WriteEmpty zero-fills the header word at offset, marking it EMPTY with
// size 0.
func WriteEmpty(data []byte, offset uint64) {
	writeBase(data, offset, Empty, 0)
}
