package volume

// NodeReader reads from segment members on behalf of a recovery hook
type NodeReader interface {
	ReadNode(n Node, sector uint64, buf []byte) error
}

// RAID5Recoverer rebuilds the chunk of failed at sector (a member-relative
// sector) into buf for a raid4 or raid5 segment.
type RAID5Recoverer interface {
	RecoverRAID5(r NodeReader, seg *Segment, failed int, buf []byte, sector uint64) error
}

// RAID6Recoverer is the raid6 counterpart; parity is the node holding P for
// the stripe and Q follows it. Implementations handle dual failures or
// report them.
type RAID6Recoverer interface {
	RecoverRAID6(r NodeReader, seg *Segment, failed, parity int, buf []byte, sector uint64) error
}

// nodeReader threads the current volume path through hook reads so cycles
// are still caught underneath a recovery.
type nodeReader struct {
	cat  *Catalog
	path []*LogicalVolume
}

func (r nodeReader) ReadNode(n Node, sector uint64, buf []byte) error {
	return r.cat.readNode(n, sector, buf, r.path)
}
