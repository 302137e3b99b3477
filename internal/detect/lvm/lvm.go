// Package lvm recognises LVM2 physical volumes and builds their volume
// groups from the text metadata.
package lvm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/sigreer/raidview/internal/mlog"
	"github.com/sigreer/raidview/internal/volume"
)

const (
	// NamePrefix and IDPrefix are the device namespaces of LVM volumes
	NamePrefix = "lvm/"
	IDPrefix   = "lvmid/"
)

// ErrUnsupportedSegment is returned for segment types raidview can't map
var ErrUnsupportedSegment = errors.New("unsupported segment type")

// Detector reads LVM2 labels and metadata areas
type Detector struct {
	log *logrus.Entry
}

// New returns an LVM2 detector
func New() *Detector {
	return &Detector{log: mlog.GetPackageLogger("lvm")}
}

func (d *Detector) Name() string {
	return "lvm2"
}

func (d *Detector) Detect(cat *volume.Catalog, cand *volume.Candidate) (*volume.Detection, error) {
	label, err := ReadLabel(cand)
	if errors.Is(err, errNoLabel) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	log := d.logger().WithFields(logrus.Fields{
		"candidate": cand.Name(),
		"pv":        label.PVUUID,
	})
	if len(label.MetadataAreas) == 0 {
		log.Debug("physical volume carries no metadata copy")
		return nil, nil
	}

	hdr, err := ReadMetadataHeader(cand, label.MetadataAreas[0])
	if err != nil {
		return nil, err
	}
	text, err := ReadText(cand, hdr)
	if err != nil {
		return nil, err
	}
	root, err := ParseText(text)
	if err != nil {
		return nil, fmt.Errorf("parsing metadata of %s: %w", cand.Name(), err)
	}
	sec := vgSection(root)
	if sec == nil {
		return nil, errors.New("metadata holds no volume group")
	}
	id, ok := sec.String("id")
	if !ok {
		return nil, fmt.Errorf("volume group %q has no id", sec.Name)
	}
	if strings.HasPrefix(cand.Filter, IDPrefix) && !strings.HasPrefix(cand.Filter, IDPrefix+id+"/") {
		return nil, nil
	}

	vg := cat.VGByUUID([]byte(compactID(id)))
	if vg == nil {
		if vg, err = d.build(sec); err != nil {
			return nil, err
		}
	}

	log.WithField("vg", vg.Name).Debug("found physical volume")
	return &volume.Detection{
		VG:     vg,
		Member: volume.UUIDID(label.PVUUID),
		Start:  volume.StartFromMetadata,
	}, nil
}

func (d *Detector) logger() *logrus.Entry {
	if d.log == nil {
		d.log = mlog.GetPackageLogger("lvm")
	}
	return d.log
}

// vgSection is the first section of the metadata; the rest are comments
// and format fields.
func vgSection(root *Section) *Section {
	if len(root.Children) == 0 {
		return nil
	}
	return root.Children[0]
}

// compactID strips the dashes LVM prints uuids with
func compactID(id string) string {
	return strings.ReplaceAll(id, "-", "")
}

// escapeName doubles dashes the way device-mapper names do
func escapeName(name string) string {
	return strings.ReplaceAll(name, "-", "--")
}

// build turns the volume group section into a group with one empty slot per
// physical volume. Volumes using segment types that can't be mapped are
// dropped on their own.
func (d *Detector) build(sec *Section) (*volume.VolumeGroup, error) {
	log := d.logger().WithField("vg", sec.Name)

	id, _ := sec.String("id")
	extentSize, ok := sec.Uint("extent_size")
	if !ok || extentSize == 0 {
		return nil, fmt.Errorf("volume group %q has no extent size", sec.Name)
	}
	vg := &volume.VolumeGroup{
		Name:       sec.Name,
		UUID:       []byte(compactID(id)),
		ExtentSize: extentSize,
	}

	pvs := map[string]*volume.PhysicalVolume{}
	if list := sec.Child("physical_volumes"); list != nil {
		for _, p := range list.Children {
			pid, ok := p.String("id")
			if !ok {
				return nil, fmt.Errorf("physical volume %q has no id", p.Name)
			}
			start, _ := p.Uint("pe_start")
			size, _ := p.Uint("dev_size")
			pv := &volume.PhysicalVolume{
				Name:        p.Name,
				ID:          volume.UUIDID(compactID(pid)),
				StartSector: start,
				Sectors:     size,
			}
			pvs[p.Name] = pv
			vg.PVs = append(vg.PVs, pv)
		}
	}

	list := sec.Child("logical_volumes")
	if list == nil {
		return vg, nil
	}
	lvs := map[string]*volume.LogicalVolume{}
	for _, l := range list.Children {
		lid, _ := l.String("id")
		lv := &volume.LogicalVolume{
			Name:     l.Name,
			FullName: NamePrefix + escapeName(vg.Name) + "-" + escapeName(l.Name),
			IDName:   IDPrefix + id + "/" + lid,
			Visible:  l.HasFlag("status", "VISIBLE"),
		}
		lvs[l.Name] = lv
	}

	dropped := map[*volume.LogicalVolume]bool{}
	for _, l := range list.Children {
		lv := lvs[l.Name]
		for _, s := range l.Children {
			if !strings.HasPrefix(s.Name, "segment") {
				continue
			}
			seg, err := segment(s, extentSize, pvs, lvs)
			if err != nil {
				log.WithError(err).WithField("lv", l.Name).Warn("skipping logical volume")
				dropped[lv] = true
				break
			}
			lv.Segments = append(lv.Segments, seg)
		}
	}

	for _, l := range list.Children {
		lv := lvs[l.Name]
		if dropped[lv] {
			continue
		}
		for i := range lv.Segments {
			nodes := lv.Segments[i].Nodes
			for j, n := range nodes {
				if ln, ok := n.(volume.LVNode); ok && dropped[ln.LV] {
					nodes[j] = volume.LVNode{Name: ln.Name, Start: ln.Start}
				}
			}
		}
		vg.LVs = append(vg.LVs, lv)
	}
	return vg, nil
}

// segment maps one segmentN section. Offsets in area lists are extents.
func segment(s *Section, extentSize uint64, pvs map[string]*volume.PhysicalVolume, lvs map[string]*volume.LogicalVolume) (volume.Segment, error) {
	start, ok := s.Uint("start_extent")
	if !ok {
		return volume.Segment{}, fmt.Errorf("%s: no start_extent", s.Name)
	}
	count, ok := s.Uint("extent_count")
	if !ok {
		return volume.Segment{}, fmt.Errorf("%s: no extent_count", s.Name)
	}
	typ, _ := s.String("type")
	seg := volume.Segment{StartExtent: start, ExtentCount: count}
	seg.StripeSize, _ = s.Uint("stripe_size")

	pvNode := func(name string, off uint64) volume.Node {
		return volume.PVNode{Name: name, PV: pvs[name], Start: off * extentSize}
	}
	lvNode := func(name string, off uint64) volume.Node {
		return volume.LVNode{Name: name, LV: lvs[name], Start: off * extentSize}
	}

	var err error
	switch typ {
	case "striped", "linear":
		seg.Type = volume.Striped
		seg.Nodes, err = areaNodes(s, "stripes", pvNode)
		return seg, err
	case "mirror":
		seg.Type = volume.Mirror
		seg.StripeSize = 0
		seg.Nodes, err = areaNodes(s, "mirrors", lvNode)
		return seg, err
	case "raid0", "raid0_meta":
		seg.Type = volume.Striped
	case "raid1":
		seg.Type = volume.Mirror
		seg.StripeSize = 0
	case "raid4", "raid5_n":
		seg.Type = volume.RAID4
	case "raid5", "raid5_ls":
		seg.Type, seg.Layout = volume.RAID5, volume.LayoutLeftSymmetric
	case "raid5_la":
		seg.Type, seg.Layout = volume.RAID5, volume.LayoutLeftAsymmetric
	case "raid5_rs":
		seg.Type, seg.Layout = volume.RAID5, volume.LayoutRightSymmetric
	case "raid5_ra":
		seg.Type, seg.Layout = volume.RAID5, volume.LayoutRightAsymmetric
	case "raid6", "raid6_zr":
		seg.Type, seg.Layout = volume.RAID6, volume.LayoutRightAsymmetric
	case "raid6_nr", "raid6_nc":
		// the N layouts place P and Q in positions Locate doesn't model
		return seg, fmt.Errorf("%w: %q", ErrUnsupportedSegment, typ)
	case "raid10":
		seg.Type = volume.RAID10
	default:
		return seg, fmt.Errorf("%w: %q", ErrUnsupportedSegment, typ)
	}

	images, err := raidImages(s)
	if err != nil {
		return seg, err
	}
	for _, name := range images {
		seg.Nodes = append(seg.Nodes, lvNode(name, 0))
	}

	if seg.Type == volume.RAID10 {
		copies, ok := s.Uint("data_copies")
		if !ok || copies == 0 {
			copies = 2
		}
		seg.Layout = volume.RAID10Layout(uint32(copies), 1, false)
		if n := uint64(len(images)); n > 0 {
			seg.RaidMemberSize = count * extentSize * copies / n
		}
	}
	return seg, nil
}

// areaNodes decodes a ["name", offset, ...] area list
func areaNodes(s *Section, key string, node func(name string, off uint64) volume.Node) ([]volume.Node, error) {
	list, ok := s.List(key)
	if !ok || len(list) == 0 || len(list)%2 != 0 {
		return nil, fmt.Errorf("%s: malformed %s list", s.Name, key)
	}
	nodes := make([]volume.Node, 0, len(list)/2)
	for i := 0; i < len(list); i += 2 {
		name, off := list[i], list[i+1]
		if name.IsInt || name.IsList || !off.IsInt || off.Int < 0 {
			return nil, fmt.Errorf("%s: malformed %s entry %d", s.Name, key, i/2)
		}
		nodes = append(nodes, node(name.Str, uint64(off.Int)))
	}
	return nodes, nil
}

// raidImages returns the data sub-volumes of a raid segment. The raids list
// pairs each image with its metadata volume unless it holds images only.
func raidImages(s *Section) ([]string, error) {
	list, ok := s.List("raids")
	if !ok || len(list) == 0 {
		return nil, fmt.Errorf("%s: no raids list", s.Name)
	}
	names := make([]string, len(list))
	for i, v := range list {
		if v.IsInt || v.IsList {
			return nil, fmt.Errorf("%s: malformed raids entry %d", s.Name, i)
		}
		names[i] = v.Str
	}

	devices, ok := s.Uint("device_count")
	if !ok {
		devices, _ = s.Uint("stripe_count")
	}
	switch uint64(len(names)) {
	case devices:
		return names, nil
	case 2 * devices:
		images := make([]string, 0, devices)
		for i := 1; i < len(names); i += 2 {
			images = append(images, names[i])
		}
		return images, nil
	}
	return nil, fmt.Errorf("%s: %d raids entries for %d devices", s.Name, len(names), devices)
}
