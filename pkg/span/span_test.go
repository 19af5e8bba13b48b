package span

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadBase_RoundTripsEveryType(t *testing.T) {
	data := make([]byte, 64)

	WriteEmpty(data, 0)
	tp, size, err := ReadBase(data, 0)
	require.NoError(t, err)
	require.Equal(t, Empty, tp)
	require.Equal(t, uint64(0), size)

	CreateEntry(data, 8, 5, 42)
	tp, size, err = ReadBase(data, 8)
	require.NoError(t, err)
	require.Equal(t, Entry, tp)
	require.Equal(t, uint64(5), size)
	require.Equal(t, uint64(42), ReadEntryTimestamp(data, 8))

	CreateRegion(data, 16, 100, ^uint64(0), 0)
	tp, size, err = ReadBase(data, 16)
	require.NoError(t, err)
	require.Equal(t, Region, tp)
	require.Equal(t, uint64(100), size)
}

func TestReadBase_RejectsUnknownType(t *testing.T) {
	data := make([]byte, 8)
	// Top bits 01 is the unused pattern; payload size bits are irrelevant.
	data[7] = 0b0100_0000
	_, _, err := ReadBase(data, 0)
	require.ErrorIs(t, err, ErrUnknownType)
}

func TestTotalSize_RoundsUpToAlignment(t *testing.T) {
	require.Equal(t, uint64(24), TotalSize(Entry, 1)) // 16-byte header + 1 byte, rounded up
	require.Equal(t, uint64(8), TotalSize(Empty, 0))
	require.Equal(t, uint64(72), TotalSize(Region, 8))
}

func TestAlignUp(t *testing.T) {
	require.Equal(t, uint64(0), AlignUp(0, 8))
	require.Equal(t, uint64(8), AlignUp(1, 8))
	require.Equal(t, uint64(8), AlignUp(8, 8))
	require.Equal(t, uint64(16), AlignUp(9, 8))
}

func TestCreateRegion_InitializesLinksAndMaxValidTimestamp(t *testing.T) {
	data := make([]byte, 128)
	CreateRegion(data, 0, 64, ^uint64(0), 7)

	h := ReadRegionHeader(data, 0)
	require.Equal(t, ^uint64(0), h.NextAllocated)
	require.Equal(t, ^uint64(0), h.NextFree)
	require.Equal(t, uint64(7), h.MaxValidTimestamp)

	SetNextAllocated(data, 0, 99)
	SetNextFree(data, 0, 100)
	SetMaxValidTimestamp(data, 0, 5)
	h = ReadRegionHeader(data, 0)
	require.Equal(t, uint64(99), h.NextAllocated)
	require.Equal(t, uint64(100), h.NextFree)
	require.Equal(t, uint64(5), h.MaxValidTimestamp)
}

func TestAt_ComputesDataOffsetPerType(t *testing.T) {
	data := make([]byte, 256)
	CreateEntry(data, 0, 10, 1)
	rt, err := At(data, 0)
	require.NoError(t, err)
	require.Equal(t, Entry, rt.Type)
	require.Equal(t, uint64(EntryHeaderSize), rt.DataOffset)
	require.Equal(t, uint64(10), rt.Size)

	CreateRegion(data, 128, 20, ^uint64(0), 0)
	rt, err = At(data, 128)
	require.NoError(t, err)
	require.Equal(t, Region, rt.Type)
	require.Equal(t, uint64(128+RegionHeaderSize), rt.DataOffset)
}
