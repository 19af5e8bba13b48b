package pmemstream

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/marmos91/pmemstream-go/pkg/allocator"
	"github.com/marmos91/pmemstream-go/pkg/span"
)

// SignatureSize is the fixed width of the stream header's identifying
// tag. A zero-filled signature means the mapping has never been
// formatted; anything else is compared byte-for-byte against Signature.
const SignatureSize = 64

// Signature is stamped last during format, after every other header
// field, so that a process that crashes mid-format leaves a
// zero-signature mapping indistinguishable from a never-formatted one.
var Signature = func() [SignatureSize]byte {
	var sig [SignatureSize]byte
	copy(sig[:], "PMEMSTREAM_GO_V1")
	return sig
}()

const (
	signatureOffset          = 0
	streamSizeOffset         = signatureOffset + SignatureSize // 64
	blockSizeOffset          = streamSizeOffset + 8            // 72
	persistedTimestampOffset = blockSizeOffset + 8          // 80
	allocatorHeaderOffset    = persistedTimestampOffset + 8 // 88

	// HeaderSize is the stream header's total persistent footprint,
	// before alignment to block_size. The arena begins at
	// align_up(HeaderSize, block_size).
	HeaderSize = allocatorHeaderOffset + allocator.HeaderSize // 144
)

// MinBlockSize is the smallest block_size the format allows,
// requires block_size be both a power of two and a multiple of 64 (the
// cache-line / region-header alignment), and 64 is the smallest value
// satisfying both.
const MinBlockSize = span.CacheLineSize

func isPowerOfTwo(v uint64) bool { return v != 0 && v&(v-1) == 0 }

// validateSizes enforces the header invariants: block_size a
// power of two and a multiple of 64, stream_size large enough for the
// header plus at least one region span.
func validateSizes(streamSize, blockSize uint64) error {
	if blockSize < MinBlockSize || !isPowerOfTwo(blockSize) {
		return fmt.Errorf("%w: block_size %d must be a power of two >= %d", ErrInvalidArgument, blockSize, MinBlockSize)
	}
	if blockSize%span.CacheLineSize != 0 {
		return fmt.Errorf("%w: block_size %d must be a multiple of %d", ErrInvalidArgument, blockSize, span.CacheLineSize)
	}
	arenaBase := span.AlignUp(HeaderSize, blockSize)
	minRegion := span.AlignUp(span.TotalSize(span.Region, 1), blockSize)
	if streamSize < arenaBase+minRegion {
		return fmt.Errorf("%w: stream_size %d too small for header (%d) plus one region", ErrInvalidArgument, streamSize, arenaBase)
	}
	return nil
}

// header is a thin accessor over the stream header's fixed-offset
// fields within the mapping's backing slice; it holds no state of its
// own beyond the slice reference.
type header struct {
	data []byte
}

func (h header) signatureInitialized() bool {
	return !bytes.Equal(h.data[signatureOffset:signatureOffset+SignatureSize], make([]byte, SignatureSize))
}

func (h header) signatureMatches() bool {
	return bytes.Equal(h.data[signatureOffset:signatureOffset+SignatureSize], Signature[:])
}

func (h header) streamSize() uint64 { return binary.LittleEndian.Uint64(h.data[streamSizeOffset:]) }
func (h header) blockSize() uint64  { return binary.LittleEndian.Uint64(h.data[blockSizeOffset:]) }

func (h header) persistedTimestamp() uint64 {
	return binary.LittleEndian.Uint64(h.data[persistedTimestampOffset:])
}

func (h header) arenaBase() uint64 {
	return span.AlignUp(HeaderSize, h.blockSize())
}

// format writes a brand-new header: every field except the signature,
// then the signature last, preserving the invariant for
// detecting a half-initialized header.
func (h header) format(streamSize, blockSize uint64) {
	binary.LittleEndian.PutUint64(h.data[streamSizeOffset:], streamSize)
	binary.LittleEndian.PutUint64(h.data[blockSizeOffset:], blockSize)
	binary.LittleEndian.PutUint64(h.data[persistedTimestampOffset:], InvalidTimestamp)
	copy(h.data[signatureOffset:signatureOffset+SignatureSize], Signature[:])
}

func (h header) setPersistedTimestamp(ts uint64) {
	binary.LittleEndian.PutUint64(h.data[persistedTimestampOffset:], ts)
}
