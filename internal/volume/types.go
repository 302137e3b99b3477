package volume

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/sigreer/raidview/internal/disk"
)

// RaidType is the mapping rule of a segment
type RaidType int

const (
	Striped RaidType = 0
	Mirror  RaidType = 1
	RAID4   RaidType = 4
	RAID5   RaidType = 5
	RAID6   RaidType = 6
	RAID10  RaidType = 10
)

func (t RaidType) String() string {
	switch t {
	case Striped:
		return "striped"
	case Mirror:
		return "mirror"
	case RAID4, RAID5, RAID6, RAID10:
		return fmt.Sprintf("raid%d", int(t))
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// parityCount is the number of parity members per stripe
func (t RaidType) parityCount() uint64 {
	switch t {
	case RAID4, RAID5:
		return 1
	case RAID6:
		return 2
	}
	return 0
}

// Parity layout flags for raid4/5/6 segments. Left asymmetric is zero.
const (
	LayoutRight     uint32 = 1
	LayoutSymmetric uint32 = 2

	LayoutLeftAsymmetric  = 0
	LayoutRightAsymmetric = LayoutRight
	LayoutLeftSymmetric   = LayoutSymmetric
	LayoutRightSymmetric  = LayoutRight | LayoutSymmetric
)

// RAID10 layouts pack near copies in the low byte, far copies in the next
// byte and a non-zero value above bit 16 selects the "offset" variant.
const (
	raid10NearMask   = 0xff
	raid10FarShift   = 8
	raid10OffsetBits = 16
)

// RAID10Layout builds a raid10 layout word
func RAID10Layout(near, far uint32, offset bool) uint32 {
	l := near&raid10NearMask | (far&raid10NearMask)<<raid10FarShift
	if offset {
		l |= 1 << raid10OffsetBits
	}
	return l
}

// PVID identifies a member slot within its group: either uuid bytes or a
// small integer such as an md role number.
type PVID interface {
	Equal(other PVID) bool
	String() string
	isPVID()
}

// UUIDID is a byte-string member identity
type UUIDID []byte

func (id UUIDID) Equal(other PVID) bool {
	o, ok := other.(UUIDID)
	return ok && bytes.Equal(id, o)
}

func (id UUIDID) String() string {
	return hex.EncodeToString(id)
}

func (UUIDID) isPVID() {}

// IndexID is an integer member identity
type IndexID uint64

func (id IndexID) Equal(other PVID) bool {
	o, ok := other.(IndexID)
	return ok && id == o
}

func (id IndexID) String() string {
	return fmt.Sprintf("#%d", uint64(id))
}

func (IndexID) isPVID() {}

// VolumeGroup is one assembled array or set
type VolumeGroup struct {
	Name string
	UUID []byte
	// ExtentSize is the allocation unit in sectors
	ExtentSize uint64
	PVs        []*PhysicalVolume
	LVs        []*LogicalVolume
	// Detector names the format that recognised the group
	Detector string
}

// PhysicalVolume is one member slot of a group. A nil Disk means the member
// hasn't been found.
type PhysicalVolume struct {
	Name string
	ID   PVID
	Disk disk.Disk
	// DriverName is the driver Disk was opened through
	DriverName string
	// StartSector is the absolute sector of the member's data area on Disk
	StartSector uint64
	// Sectors is the member size declared by the metadata, if known
	Sectors   uint64
	PartStart uint64
	PartSize  uint64
	// PartTrail is the chain of partition maps leading to the member
	PartTrail []string
}

// Present reports whether the member's disk has been found
func (pv *PhysicalVolume) Present() bool {
	return pv.Disk != nil
}

// LogicalVolume is a named readable target
type LogicalVolume struct {
	Name     string
	FullName string
	IDName   string
	Number   uint64
	// Size in sectors
	Size     uint64
	Segments []Segment
	Visible  bool

	// BecameReadableAt is the insertion sequence at which the volume first
	// became readable; zero while it is unreadable.
	BecameReadableAt uint64
	// Scanned is set once the volume itself has been probed for members of
	// other groups.
	Scanned bool

	VG *VolumeGroup
}

// Segment is one contiguous mapping rule in a volume's address space
type Segment struct {
	StartExtent uint64
	ExtentCount uint64
	Type        RaidType
	// StripeSize is the chunk size in sectors. Zero is allowed for mirrors
	// and single-node stripes and means unchunked.
	StripeSize uint64
	Layout     uint32
	// RaidMemberSize is the member data size in sectors, used for raid10 far
	// copies.
	RaidMemberSize uint64
	Nodes          []Node
}

func (s *Segment) endExtent() uint64 {
	return s.StartExtent + s.ExtentCount
}

// near returns the number of adjacent copies of each chunk; mirrors keep
// one copy per node
func (s *Segment) near() uint64 {
	switch s.Type {
	case Mirror:
		return uint64(len(s.Nodes))
	case RAID10:
		if near := uint64(s.Layout & raid10NearMask); near > 0 {
			return near
		}
	}
	return 1
}

// far returns the number of distant copies of each chunk
func (s *Segment) far() uint64 {
	if s.Type != RAID10 {
		return 1
	}
	if far := uint64(s.Layout >> raid10FarShift & raid10NearMask); far > 0 {
		return far
	}
	return 1
}

// redundancy is the copy count used to decide readability: the near count,
// or the far count for pure far layouts.
func (s *Segment) redundancy() uint64 {
	n := uint64(s.Layout & raid10NearMask)
	if n == 1 {
		n = uint64(s.Layout >> raid10FarShift & raid10NearMask)
	}
	return n
}

func (s *Segment) offsetLayout() bool {
	return s.Type == RAID10 && s.Layout>>raid10OffsetBits != 0
}

// Node is a segment's child: a PVNode or an LVNode. A nil Node is an
// unresolved reference.
type Node interface {
	isNode()
}

// PVNode maps onto a physical volume, Start sectors into its data area
type PVNode struct {
	Name  string
	PV    *PhysicalVolume
	Start uint64
}

func (PVNode) isNode() {}

// LVNode maps onto a nested logical volume, Start sectors into it
type LVNode struct {
	Name  string
	LV    *LogicalVolume
	Start uint64
}

func (LVNode) isNode() {}
