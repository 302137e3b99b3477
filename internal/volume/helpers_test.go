package volume

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/sigreer/raidview/internal/disk"
	"github.com/sigreer/raidview/internal/mlog"
)

func newTestCatalog() *Catalog {
	return New(mlog.Discard())
}

// taggedDisk returns a disk whose every sector starts with tag followed by
// the little-endian sector number.
func taggedDisk(name string, sectors uint64, tag byte) *disk.Memory {
	m := disk.NewMemory(name, sectors)
	buf := make([]byte, disk.SectorSize)
	for s := uint64(0); s < sectors; s++ {
		buf[0] = tag
		binary.LittleEndian.PutUint64(buf[1:], s)
		m.WriteSectors(s, buf)
	}
	return m
}

// sectorTag decodes what taggedDisk wrote
func sectorTag(sector []byte) (byte, uint64) {
	return sector[0], binary.LittleEndian.Uint64(sector[1:])
}

func pvs(disks ...disk.Disk) []*PhysicalVolume {
	out := make([]*PhysicalVolume, len(disks))
	for i, d := range disks {
		out[i] = &PhysicalVolume{
			Name: fmt.Sprintf("pv%d", i),
			ID:   IndexID(i),
			Disk: d,
		}
		if d != nil {
			out[i].PartSize = d.Sectors()
		}
	}
	return out
}

func pvNodes(pvs []*PhysicalVolume) []Node {
	nodes := make([]Node, len(pvs))
	for i, pv := range pvs {
		nodes[i] = PVNode{Name: pv.Name, PV: pv}
	}
	return nodes
}

// singleSegmentVG builds a group with one volume spanning extents sectors of
// extent size 1 over the given members.
func singleSegmentVG(name string, typ RaidType, stripe uint64, layout uint32, extents uint64, members []*PhysicalVolume) *VolumeGroup {
	lv := &LogicalVolume{
		Name:     name,
		FullName: "static/" + name,
		IDName:   "staticid/" + name,
		Visible:  true,
		Segments: []Segment{{
			ExtentCount: extents,
			Type:        typ,
			StripeSize:  stripe,
			Layout:      layout,
			Nodes:       pvNodes(members),
		}},
	}
	return &VolumeGroup{
		Name:       name,
		UUID:       []byte(name),
		ExtentSize: 1,
		PVs:        members,
		LVs:        []*LogicalVolume{lv},
	}
}

// headerMagic marks sectors understood by headerDetector
const headerMagic = "TESTVG01"

// writeHeader stores "magic uuid member lvSectors" in sector of m
func writeHeader(m *disk.Memory, sector uint64, uuid string, member int, lvSectors uint64) {
	buf := make([]byte, disk.SectorSize)
	copy(buf, fmt.Sprintf("%s %s %d %d\n", headerMagic, uuid, member, lvSectors))
	m.WriteSectors(sector, buf)
}

// headerDetector recognises writeHeader sectors at sector 0 of a candidate.
// Data starts one sector after the header.
type headerDetector struct {
	// build creates the group for a uuid; nil means a one-member mirror
	build func(uuid string, lvSectors uint64) *VolumeGroup
	calls int
	keys  int
}

func (d *headerDetector) Name() string {
	return "header"
}

func (d *headerDetector) Detect(cat *Catalog, cand *Candidate) (*Detection, error) {
	d.calls++
	buf := make([]byte, disk.SectorSize)
	if err := cand.ReadSectors(0, buf); err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(buf, []byte(headerMagic)) {
		return nil, nil
	}
	line, _, _ := strings.Cut(string(buf), "\n")
	var magic, uuid string
	var member int
	var lvSectors uint64
	if _, err := fmt.Sscanf(line, "%s %s %d %d", &magic, &uuid, &member, &lvSectors); err != nil {
		return nil, err
	}
	if cand.Filter != "" && strings.HasPrefix(cand.Filter, "staticid/") && cand.Filter != "staticid/"+uuid {
		return nil, nil
	}

	vg := cat.VGByUUID([]byte(uuid))
	if vg == nil {
		if d.build != nil {
			vg = d.build(uuid, lvSectors)
		} else {
			vg = singleSegmentVG(uuid, Mirror, 0, 0, lvSectors, []*PhysicalVolume{{Name: uuid + "-0", ID: IndexID(0)}})
		}
	}
	return &Detection{VG: vg, Member: IndexID(member), Start: 1}, nil
}

func (d *headerDetector) RecoverKey(cand *Candidate, vg *VolumeGroup) error {
	d.keys++
	return nil
}
