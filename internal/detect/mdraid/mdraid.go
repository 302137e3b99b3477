// Package mdraid recognises members of Linux md arrays with version 1.x
// superblocks.
package mdraid

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/sigreer/raidview/internal/disk"
	"github.com/sigreer/raidview/internal/mlog"
	"github.com/sigreer/raidview/internal/volume"
)

const (
	// NamePrefix and IDPrefix are the device namespaces of md arrays
	NamePrefix = "md/"
	IDPrefix   = "mduuid/"
)

// ErrUnsupported is returned for md features the assembler can't follow
var ErrUnsupported = errors.New("unsupported md array")

// Detector finds md superblocks at the 1.0, 1.1 and 1.2 locations
type Detector struct {
	log *logrus.Entry
}

// New returns an md detector
func New() *Detector {
	return &Detector{log: mlog.GetPackageLogger("mdraid")}
}

func (d *Detector) Name() string {
	return "mdraid1x"
}

// superblockSector returns where a minor version keeps its superblock on a
// device of size sectors.
func superblockSector(minor int, size uint64) (uint64, bool) {
	switch minor {
	case 0:
		if size < 16 {
			return 0, false
		}
		return (size - 16) &^ 7, true
	case 1:
		return 0, true
	case 2:
		return 8, size > 8
	}
	return 0, false
}

func (d *Detector) Detect(cat *volume.Catalog, cand *volume.Candidate) (*volume.Detection, error) {
	size := cand.Sectors()
	for minor := 0; minor < 3; minor++ {
		sector, ok := superblockSector(minor, size)
		if !ok {
			continue
		}
		n := min(uint64(sbSectors), size-sector)
		buf := make([]byte, n*disk.SectorSize)
		if err := cand.ReadSectors(sector, buf); err != nil {
			return nil, err
		}

		sb, err := ParseSuperblock(buf)
		if errors.Is(err, errNoSuperblock) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if sb.MajorVersion != 1 || sb.SuperOffset != sector {
			continue
		}
		return d.member(cat, cand, sb, minor)
	}
	return nil, nil
}

func (d *Detector) member(cat *volume.Catalog, cand *volume.Candidate, sb *Superblock, minor int) (*volume.Detection, error) {
	log := d.logger().WithFields(logrus.Fields{
		"candidate": cand.Name(),
		"array":     sb.ArrayName(),
		"version":   fmt.Sprintf("1.%d", minor),
	})

	if sb.FeatureMap&featureReshapeActive != 0 {
		return nil, fmt.Errorf("%w: %s is reshaping", ErrUnsupported, sb.ArrayName())
	}
	role, ok := sb.Role()
	if !ok {
		log.Debug("not an active member")
		return nil, nil
	}
	if uint32(role) >= sb.RaidDisks {
		return nil, fmt.Errorf("md role %d beyond %d raid disks", role, sb.RaidDisks)
	}

	id := IDPrefix + hex.EncodeToString(sb.SetUUID[:])
	if strings.HasPrefix(cand.Filter, IDPrefix) && cand.Filter != id {
		return nil, nil
	}

	vg := cat.VGByUUID(sb.SetUUID[:])
	if vg == nil {
		var err error
		if vg, err = Assemble(sb); err != nil {
			return nil, err
		}
	}

	log.WithField("role", role).Debug("found member")
	return &volume.Detection{
		VG:     vg,
		Member: volume.IndexID(role),
		Start:  sb.DataOffset,
	}, nil
}

func (d *Detector) logger() *logrus.Entry {
	if d.log == nil {
		d.log = mlog.GetPackageLogger("mdraid")
	}
	return d.log
}

// Assemble builds the group described by sb with one empty slot per raid
// disk.
func Assemble(sb *Superblock) (*volume.VolumeGroup, error) {
	typ, layout, err := mapLevel(sb.Level, sb.Layout)
	if err != nil {
		return nil, err
	}

	count := uint64(sb.RaidDisks)
	chunk := uint64(sb.ChunkSize)
	memberSize := sb.Size
	if memberSize == 0 {
		memberSize = sb.DataSize
	}
	if typ != volume.Mirror && chunk > 0 {
		memberSize -= memberSize % chunk
	}

	var total uint64
	switch typ {
	case volume.Striped:
		total = count * memberSize
	case volume.Mirror:
		total = memberSize
		chunk = 0
	case volume.RAID4, volume.RAID5:
		total = (count - 1) * memberSize
	case volume.RAID6:
		total = (count - 2) * memberSize
	case volume.RAID10:
		copies := uint64(layout&0xff) * uint64(layout>>8&0xff)
		if copies == 0 {
			return nil, fmt.Errorf("%w: raid10 layout %#x", ErrUnsupported, layout)
		}
		total = count * memberSize / copies
	}
	if count == 0 || total == 0 {
		return nil, fmt.Errorf("%w: empty array %s", ErrUnsupported, sb.ArrayName())
	}

	name := sb.ArrayName()
	pvs := make([]*volume.PhysicalVolume, count)
	nodes := make([]volume.Node, count)
	for i := range pvs {
		pvs[i] = &volume.PhysicalVolume{
			Name:    fmt.Sprintf("%s:%d", name, i),
			ID:      volume.IndexID(i),
			Sectors: memberSize,
		}
		nodes[i] = volume.PVNode{Name: pvs[i].Name, PV: pvs[i]}
	}

	lv := &volume.LogicalVolume{
		Name:     name,
		FullName: NamePrefix + name,
		IDName:   IDPrefix + hex.EncodeToString(sb.SetUUID[:]),
		Size:     total,
		Visible:  true,
		Segments: []volume.Segment{{
			ExtentCount:    total,
			Type:           typ,
			StripeSize:     chunk,
			Layout:         layout,
			RaidMemberSize: memberSize,
			Nodes:          nodes,
		}},
	}

	return &volume.VolumeGroup{
		Name:       name,
		UUID:       append([]byte(nil), sb.SetUUID[:]...),
		ExtentSize: 1,
		PVs:        pvs,
		LVs:        []*volume.LogicalVolume{lv},
	}, nil
}

// algorithmParityN is md's raid4-style layout with parity on the last disk
const algorithmParityN = 5

func mapLevel(level int32, layout uint32) (volume.RaidType, uint32, error) {
	switch level {
	case 0:
		return volume.Striped, 0, nil
	case 1:
		return volume.Mirror, 0, nil
	case 4:
		return volume.RAID4, 0, nil
	case 5, 6:
		typ := volume.RAID5
		if level == 6 {
			typ = volume.RAID6
		}
		switch {
		case layout <= volume.LayoutRightSymmetric:
			return typ, layout, nil
		case layout == algorithmParityN:
			if typ == volume.RAID5 {
				return volume.RAID4, 0, nil
			}
		}
		return 0, 0, fmt.Errorf("%w: raid%d layout %d", ErrUnsupported, level, layout)
	case 10:
		return volume.RAID10, layout, nil
	}
	return 0, 0, fmt.Errorf("%w: level %d", ErrUnsupported, level)
}
