// Package static assembles arrays declared in the configuration from their
// member device paths.
package static

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/sigreer/raidview/internal/config"
	"github.com/sigreer/raidview/internal/mlog"
	"github.com/sigreer/raidview/internal/volume"
)

const (
	// NamePrefix and IDPrefix are the device namespaces of static arrays
	NamePrefix = "static/"
	IDPrefix   = "staticid/"
)

var ErrInvalidArray = errors.New("invalid array declaration")

// Detector matches whole disks against declared member paths
type Detector struct {
	arrays []config.Array
	log    *logrus.Entry
}

// New returns a detector for the declared arrays
func New(arrays []config.Array) *Detector {
	return &Detector{
		arrays: arrays,
		log:    mlog.GetPackageLogger("static"),
	}
}

func (d *Detector) Name() string {
	return "static"
}

func (d *Detector) Detect(cat *volume.Catalog, cand *volume.Candidate) (*volume.Detection, error) {
	if cand.Partition != nil {
		return nil, nil
	}
	name := filepath.Clean(cand.Disk.Name())

	for i := range d.arrays {
		a := &d.arrays[i]
		member := memberIndex(a, name)
		if member < 0 {
			continue
		}
		if strings.HasPrefix(cand.Filter, IDPrefix) && cand.Filter != IDPrefix+arrayID(a) {
			continue
		}

		vg := cat.VGByUUID(groupUUID(a))
		if vg == nil {
			var err error
			if vg, err = Assemble(a); err != nil {
				return nil, err
			}
		}
		d.log.WithFields(logrus.Fields{
			"array":  a.Name,
			"member": member,
			"disk":   name,
		}).Debug("found declared member")
		return &volume.Detection{
			VG:     vg,
			Member: volume.IndexID(member),
			Start:  a.DataOffset,
		}, nil
	}
	return nil, nil
}

// resolveLink follows stable names such as /dev/disk/by-id links to the
// kernel device they point at
var resolveLink = filepath.EvalSymlinks

func memberIndex(a *config.Array, name string) int {
	for i, m := range a.Members {
		m = filepath.Clean(m)
		if m == name {
			return i
		}
		if target, err := resolveLink(m); err == nil && target == name {
			return i
		}
	}
	return -1
}

func arrayID(a *config.Array) string {
	if a.UUID != "" {
		return a.UUID
	}
	return a.Name
}

func groupUUID(a *config.Array) []byte {
	return []byte("static:" + arrayID(a))
}

// Assemble builds the group a declares, with an empty slot per member
func Assemble(a *config.Array) (*volume.VolumeGroup, error) {
	count := uint64(len(a.Members))
	if count == 0 || a.MemberSectors == 0 {
		return nil, fmt.Errorf("%w: %s has no members", ErrInvalidArray, a.Name)
	}

	pvs := make([]*volume.PhysicalVolume, count)
	nodes := make([]volume.Node, count)
	for i, m := range a.Members {
		pvs[i] = &volume.PhysicalVolume{
			Name:    m,
			ID:      volume.IndexID(i),
			Sectors: a.MemberSectors,
		}
		nodes[i] = volume.PVNode{Name: m, PV: pvs[i]}
	}

	segs, err := segments(a, nodes)
	if err != nil {
		return nil, err
	}
	lv := &volume.LogicalVolume{
		Name:     a.Name,
		FullName: NamePrefix + a.Name,
		IDName:   IDPrefix + arrayID(a),
		Visible:  true,
		Segments: segs,
	}
	return &volume.VolumeGroup{
		Name:       a.Name,
		UUID:       groupUUID(a),
		ExtentSize: 1,
		PVs:        pvs,
		LVs:        []*volume.LogicalVolume{lv},
	}, nil
}

func segments(a *config.Array, nodes []volume.Node) ([]volume.Segment, error) {
	count := uint64(len(nodes))
	size := a.MemberSectors
	chunk := a.ChunkSectors
	if chunk > 0 && a.Level != "raid1" && a.Level != "mirror" && a.Level != "linear" {
		size -= size % chunk
	}

	seg := volume.Segment{StripeSize: chunk, RaidMemberSize: size, Nodes: nodes}
	switch a.Level {
	case "linear":
		// one segment per member, back to back
		segs := make([]volume.Segment, count)
		for i := range nodes {
			segs[i] = volume.Segment{
				StartExtent: uint64(i) * size,
				ExtentCount: size,
				Type:        volume.Striped,
				Nodes:       nodes[i : i+1],
			}
		}
		return segs, nil
	case "raid0", "striped":
		seg.Type = volume.Striped
		seg.ExtentCount = count * size
	case "raid1", "mirror":
		seg.Type = volume.Mirror
		seg.StripeSize = 0
		seg.ExtentCount = size
	case "raid4":
		seg.Type = volume.RAID4
		seg.ExtentCount = (count - 1) * size
	case "raid5", "raid6":
		seg.Type = volume.RAID5
		parity := uint64(1)
		if a.Level == "raid6" {
			seg.Type = volume.RAID6
			parity = 2
		}
		layout, err := parityLayout(a.Layout)
		if err != nil {
			return nil, err
		}
		seg.Layout = layout
		if count <= parity {
			return nil, fmt.Errorf("%w: %s needs more than %d members", ErrInvalidArray, a.Name, parity)
		}
		seg.ExtentCount = (count - parity) * size
	case "raid10":
		seg.Type = volume.RAID10
		layout, err := raid10Layout(a.Layout)
		if err != nil {
			return nil, err
		}
		seg.Layout = layout
		copies := uint64(layout&0xff) * uint64(layout>>8&0xff)
		seg.ExtentCount = count * size / copies
	default:
		return nil, fmt.Errorf("%w: %s has unknown level %q", ErrInvalidArray, a.Name, a.Level)
	}
	if seg.ExtentCount == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrInvalidArray, a.Name)
	}
	return []volume.Segment{seg}, nil
}

// parityLayout accepts md's layout names, defaulting to left-symmetric
func parityLayout(name string) (uint32, error) {
	switch name {
	case "", "left-symmetric", "ls":
		return volume.LayoutLeftSymmetric, nil
	case "left-asymmetric", "la":
		return volume.LayoutLeftAsymmetric, nil
	case "right-symmetric", "rs":
		return volume.LayoutRightSymmetric, nil
	case "right-asymmetric", "ra":
		return volume.LayoutRightAsymmetric, nil
	}
	return 0, fmt.Errorf("%w: unknown parity layout %q", ErrInvalidArray, name)
}

// raid10Layout parses mdadm's n2, f2 and o2 style layouts, defaulting to n2
func raid10Layout(name string) (uint32, error) {
	if name == "" {
		name = "n2"
	}
	if len(name) < 2 {
		return 0, fmt.Errorf("%w: unknown raid10 layout %q", ErrInvalidArray, name)
	}
	copies, err := strconv.ParseUint(name[1:], 10, 8)
	if err != nil || copies == 0 {
		return 0, fmt.Errorf("%w: unknown raid10 layout %q", ErrInvalidArray, name)
	}
	switch name[0] {
	case 'n':
		return volume.RAID10Layout(uint32(copies), 1, false), nil
	case 'f':
		return volume.RAID10Layout(1, uint32(copies), false), nil
	case 'o':
		return volume.RAID10Layout(1, uint32(copies), true), nil
	}
	return 0, fmt.Errorf("%w: unknown raid10 layout %q", ErrInvalidArray, name)
}
