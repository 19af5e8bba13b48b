package pmemstream

// Sentinel values for timestamps and offsets.
const (
	// InvalidTimestamp marks "no timestamp assigned" — the value every
	// region's max_valid_timestamp field carries until an Open stamps it.
	InvalidTimestamp uint64 = 0
	// FirstTimestamp is the timestamp assigned to the very first
	// committed entry in a stream's lifetime.
	FirstTimestamp uint64 = 1
	// InvalidOffset marks "no offset" across region/entry handles.
	InvalidOffset uint64 = ^uint64(0)
	// DirtyBit tags a region's append_offset while its tail has not yet
	// been zeroed after a READ_READY -> WRITE_READY transition.
	DirtyBit uint64 = 1 << 63
)
