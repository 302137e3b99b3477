package volume

import "math"

// Placement is one location of a chunk on a segment member
type Placement struct {
	Node   int
	Sector uint64
}

// chunkSize returns the interleave unit in sectors. Unchunked segments behave
// as one chunk covering the whole address space.
func (s *Segment) chunkSize() uint64 {
	if s.StripeSize == 0 {
		return math.MaxUint64
	}
	return s.StripeSize
}

// Replicas appends to dst every placement holding the chunk that contains
// sector of a striped, mirror or raid10 segment, in the order they should be
// tried. It also returns how many sectors remain in that chunk.
func (s *Segment) Replicas(dst []Placement, sector uint64) ([]Placement, uint64) {
	count := uint64(len(s.Nodes))
	stripe := s.chunkSize()
	chunk, b := sector/stripe, sector%stripe
	near, far := s.near(), s.far()

	// rows advance by ofs chunks; offset layouts interleave the far copies
	// of each row directly after it
	ofs := uint64(1)
	var farOfs uint64
	if s.Type == RAID10 {
		if s.offsetLayout() {
			ofs = far
			farOfs = stripe
		} else {
			farOfs = s.RaidMemberSize / (far * stripe) * stripe
		}
	}

	pos := chunk * near
	row, disk := pos/count, pos%count
	for i := uint64(0); i < near; i++ {
		d, r := disk+i, row
		for d >= count {
			d -= count
			r++
		}
		base := r*ofs*stripe + b
		for j := uint64(0); j < far; j++ {
			dst = append(dst, Placement{
				Node:   int((d + j*near) % count),
				Sector: base + j*farOfs,
			})
		}
	}
	return dst, stripe - b
}

// ParityPlacement locates a data chunk of a raid4/5/6 segment
type ParityPlacement struct {
	// Node holds the data, Parity the P block of the stripe
	Node   int
	Parity int
	Sector uint64
	// Left is the number of sectors remaining in the chunk
	Left uint64
}

// Locate maps sector of a raid4/5/6 segment onto its data member
func (s *Segment) Locate(sector uint64) ParityPlacement {
	count := uint64(len(s.Nodes))
	n := s.Type.parityCount()
	stripe := s.chunkSize()

	chunk, b := sector/stripe, sector%stripe
	row, d := chunk/(count-n), chunk%(count-n)

	var p uint64
	if s.Type == RAID4 {
		p = count - n
	} else {
		p = row % count
		if s.Layout&LayoutRight == 0 {
			p = count - 1 - p
		}
		if s.Layout&LayoutSymmetric != 0 {
			d = (p + n + d) % count
		} else if p+n <= count {
			if d >= p {
				d += n
			}
		} else {
			d += p + n - count
		}
	}

	return ParityPlacement{
		Node:   int(d),
		Parity: int(p),
		Sector: row*stripe + b,
		Left:   stripe - b,
	}
}
