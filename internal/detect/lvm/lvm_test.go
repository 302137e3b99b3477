package lvm

import (
	"encoding/binary"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigreer/raidview/internal/disk"
	"github.com/sigreer/raidview/internal/mlog"
	"github.com/sigreer/raidview/internal/volume"
)

const (
	vgID   = "aaaaaa-bbbb-cccc-dddd-eeee-ffff-gggggg"
	pv0ID  = "p0p0p0-0000-0000-0000-0000-0000-000000"
	pv1ID  = "p1p1p1-1111-1111-1111-1111-1111-111111"
	rootID = "rootid-0000-0000-0000-0000-0000-000000"

	pvSectors = 512
	peStart   = 64
	mdaOffset = 4096
	mdaSize   = peStart*disk.SectorSize - mdaOffset
)

var metadata = `vg-data {
id = "` + vgID + `"
seqno = 4
format = "lvm2"
status = ["RESIZEABLE", "READ", "WRITE"]
extent_size = 8
max_lv = 0

physical_volumes {

pv0 {
id = "` + pv0ID + `"
device = "/dev/sda"
status = ["ALLOCATABLE"]
dev_size = 512
pe_start = 64
pe_count = 56
}

pv1 {
id = "` + pv1ID + `"
device = "/dev/sdb"
status = ["ALLOCATABLE"]
dev_size = 512
pe_start = 64
pe_count = 56
}
}

logical_volumes {

root {
id = "` + rootID + `"
status = ["READ", "WRITE", "VISIBLE"]
segment_count = 1

segment1 {
start_extent = 0
extent_count = 4
type = "striped"
stripe_count = 1

stripes = [
"pv0", 0
]
}
}

mirr {
id = "mirrid-0000-0000-0000-0000-0000-000000"
status = ["READ", "WRITE", "VISIBLE"]
segment_count = 1

segment1 {
start_extent = 0
extent_count = 2
type = "raid1"
device_count = 2
region_size = 1024

raids = [
"mirr_rmeta_0", "mirr_rimage_0",
"mirr_rmeta_1", "mirr_rimage_1"
]
}
}

mirr_rimage_0 {
id = "img000-0000-0000-0000-0000-0000-000000"
status = ["READ", "WRITE"]
segment_count = 1

segment1 {
start_extent = 0
extent_count = 2
type = "striped"
stripe_count = 1

stripes = [
"pv0", 4
]
}
}

mirr_rimage_1 {
id = "img111-0000-0000-0000-0000-0000-000000"
status = ["READ", "WRITE"]
segment_count = 1

segment1 {
start_extent = 0
extent_count = 2
type = "striped"
stripe_count = 1

stripes = [
"pv1", 4
]
}
}

pool {
id = "pool00-0000-0000-0000-0000-0000-000000"
status = ["READ", "WRITE", "VISIBLE"]
segment_count = 1

segment1 {
start_extent = 0
extent_count = 1
type = "thin-pool"
}
}
}
}
# Generated by LVM2
contents = "Text Format Volume Group"
version = 1
creation_time = 1700000000
`

func pad(b []byte) []byte {
	if r := len(b) % disk.SectorSize; r != 0 {
		b = append(b, make([]byte, disk.SectorSize-r)...)
	}
	return b
}

// writeLabel stores a label in sector 1 with one data area and one
// metadata area at mdaOffset.
func writeLabel(t *testing.T, m *disk.Memory, pvuuid string) {
	t.Helper()
	le := binary.LittleEndian
	buf := make([]byte, disk.SectorSize)
	copy(buf, labelID)
	le.PutUint64(buf[8:], 1)
	le.PutUint32(buf[20:], 32)
	copy(buf[24:], labelType)

	hdr := buf[32:]
	copy(hdr, pvuuid)
	le.PutUint64(hdr[32:], m.Sectors()*disk.SectorSize)
	le.PutUint64(hdr[40:], peStart*disk.SectorSize)
	// data list ends at 56, metadata list starts at 72
	le.PutUint64(hdr[72:], mdaOffset)
	le.PutUint64(hdr[80:], mdaSize)
	require.NoError(t, m.WriteSectors(1, buf))
}

func writeMDA(t *testing.T, m *disk.Memory, textOffset, textSize uint64) {
	t.Helper()
	le := binary.LittleEndian
	h := make([]byte, disk.SectorSize)
	copy(h[4:], mdaMagic)
	le.PutUint32(h[20:], mdaVersion)
	le.PutUint64(h[24:], mdaOffset)
	le.PutUint64(h[32:], mdaSize)
	le.PutUint64(h[40:], textOffset)
	le.PutUint64(h[48:], textSize)
	require.NoError(t, m.WriteSectors(mdaOffset/disk.SectorSize, h))
}

// pvDisk builds a physical volume carrying metadata whose data sectors are
// tagged with tag and their sector number.
func pvDisk(t *testing.T, name, pvuuid string, tag byte) *disk.Memory {
	t.Helper()
	m := disk.NewMemory(name, pvSectors)
	writeLabel(t, m, strings.ReplaceAll(pvuuid, "-", ""))
	writeMDA(t, m, mdaHeaderSize, uint64(len(metadata)))
	require.NoError(t, m.WriteSectors(mdaOffset/disk.SectorSize+1, pad([]byte(metadata))))

	buf := make([]byte, disk.SectorSize)
	for s := uint64(peStart); s < pvSectors; s++ {
		buf[0] = tag
		binary.LittleEndian.PutUint64(buf[1:], s)
		require.NoError(t, m.WriteSectors(s, buf))
	}
	return m
}

func sectorTag(b []byte) (byte, uint64) {
	return b[0], binary.LittleEndian.Uint64(b[1:])
}

func newCatalog(disks ...*disk.Memory) *volume.Catalog {
	c := volume.New(mlog.Discard())
	c.AddDriver(disk.NewMemoryDriver("mem", disks...))
	c.AddDetector(New())
	return c
}

func TestReadLabel(t *testing.T) {
	m := pvDisk(t, "sda", pv0ID, 0xa)
	l, err := ReadLabel(m)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), l.Sector)
	assert.Equal(t, "p0p0p000000000000000000000000000", l.PVUUID)
	assert.Equal(t, []Area{{Offset: peStart * disk.SectorSize}}, l.DataAreas)
	assert.Equal(t, []Area{{Offset: mdaOffset, Size: mdaSize}}, l.MetadataAreas)

	h, err := ReadMetadataHeader(m, l.MetadataAreas[0])
	require.NoError(t, err)
	assert.Equal(t, uint64(mdaOffset), h.Start)
	text, err := ReadText(m, h)
	require.NoError(t, err)
	assert.Equal(t, metadata, text)

	_, err = ReadLabel(disk.NewMemory("blank", 8))
	assert.ErrorIs(t, err, errNoLabel)
}

func TestReadTextWraps(t *testing.T) {
	m := disk.NewMemory("ring", pvSectors)
	want := strings.Repeat("a", 300) + strings.Repeat("b", 300)
	// the first 300 bytes end the area, the rest restart past the header
	off := uint64(mdaSize - 300)
	first := make([]byte, 2*disk.SectorSize)
	copy(first[(mdaOffset+off)%disk.SectorSize:], want[:300])
	require.NoError(t, m.WriteSectors((mdaOffset+off)/disk.SectorSize, first[:disk.SectorSize]))
	require.NoError(t, m.WriteSectors(mdaOffset/disk.SectorSize+1, pad([]byte(want[300:]))))

	h := &MetadataHeader{Version: mdaVersion, Start: mdaOffset, Size: mdaSize, Text: Area{Offset: off, Size: 600}}
	got, err := ReadText(m, h)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	h.Text.Size = mdaSize * 2
	_, err = ReadText(m, h)
	assert.Error(t, err)
}

func TestDetectVolumeGroup(t *testing.T) {
	sda := pvDisk(t, "sda", pv0ID, 0xa)
	sdb := pvDisk(t, "sdb", pv1ID, 0xb)
	c := newCatalog(sda, sdb)
	require.NoError(t, c.ScanDevices(""))
	require.Len(t, c.VGs(), 1)

	vg := c.VGs()[0]
	assert.Equal(t, "vg-data", vg.Name)
	assert.Equal(t, "lvm2", vg.Detector)
	assert.Equal(t, uint64(8), vg.ExtentSize)
	for _, pv := range vg.PVs {
		assert.True(t, pv.Present(), pv.Name)
		assert.Equal(t, uint64(peStart), pv.StartSector)
	}

	root := c.FindLV("lvm/vg--data-root")
	require.NotNil(t, root)
	assert.Equal(t, "lvmid/"+vgID+"/"+rootID, root.IDName)
	assert.Equal(t, uint64(32), root.Size)
	assert.True(t, root.Visible)
	assert.Same(t, root, c.FindLV(root.IDName))

	buf := make([]byte, disk.SectorSize)
	require.NoError(t, c.ReadLV(root, 10, buf))
	tag, sector := sectorTag(buf)
	assert.Equal(t, byte(0xa), tag)
	assert.Equal(t, uint64(peStart+10), sector)

	img := c.FindLV("lvm/vg--data-mirr_rimage_1")
	require.NotNil(t, img)
	assert.False(t, img.Visible)

	mirr := c.FindLV("lvm/vg--data-mirr")
	require.NotNil(t, mirr)
	require.Len(t, mirr.Segments[0].Nodes, 2)
	assert.Equal(t, volume.Mirror, mirr.Segments[0].Type)
	require.NoError(t, c.ReadLV(mirr, 3, buf))
	tag, sector = sectorTag(buf)
	assert.Equal(t, byte(0xa), tag)
	assert.Equal(t, uint64(peStart+4*8+3), sector)

	// thin pools aren't mapped; the rest of the group survives
	assert.Nil(t, c.FindLV("lvm/vg--data-pool"))
}

func TestDetectMirrorDegraded(t *testing.T) {
	sdb := pvDisk(t, "sdb", pv1ID, 0xb)
	c := newCatalog(sdb)
	require.NoError(t, c.ScanDevices(""))

	assert.Nil(t, c.FindLV("lvm/vg--data-root").VG.PVs[0].Disk)
	assert.False(t, volume.IsLVReadable(c.FindLV("lvm/vg--data-root"), false))

	mirr := c.FindLV("lvm/vg--data-mirr")
	require.True(t, volume.IsLVReadable(mirr, true))
	dev, err := c.Open("lvm/vg--data-mirr")
	require.NoError(t, err)
	buf := make([]byte, disk.SectorSize)
	require.NoError(t, dev.ReadSectors(0, buf))
	tag, _ := sectorTag(buf)
	assert.Equal(t, byte(0xb), tag)

	var names []string
	require.NoError(t, c.Iterate(disk.PullNone, func(name string) bool {
		names = append(names, name)
		return true
	}))
	assert.Equal(t, []string{"lvm/vg--data-mirr"}, names)
}

func TestDetectFilter(t *testing.T) {
	sda := pvDisk(t, "sda", pv0ID, 0xa)
	drv := disk.NewMemoryDriver("mem", sda)
	d := New()
	c := volume.New(mlog.Discard())

	res, err := d.Detect(c, volume.NewCandidate(drv, sda, nil, "lvmid/other/lv"))
	require.NoError(t, err)
	assert.Nil(t, res)

	res, err = d.Detect(c, volume.NewCandidate(drv, sda, nil, "lvmid/"+vgID+"/"+rootID))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, volume.UUIDID("p0p0p000000000000000000000000000"), res.Member)
	assert.Equal(t, volume.StartFromMetadata, res.Start)
}

func TestSegmentTypes(t *testing.T) {
	tests := []struct {
		typ    string
		want   volume.RaidType
		layout uint32
		extra  string
	}{
		{typ: "raid0", want: volume.Striped, extra: "stripe_count = 2\nstripe_size = 8\nraids = [\"a\", \"b\"]"},
		{typ: "raid4", want: volume.RAID4},
		{typ: "raid5_n", want: volume.RAID4},
		{typ: "raid5", want: volume.RAID5, layout: volume.LayoutLeftSymmetric},
		{typ: "raid5_la", want: volume.RAID5, layout: volume.LayoutLeftAsymmetric},
		{typ: "raid5_ra", want: volume.RAID5, layout: volume.LayoutRightAsymmetric},
		{typ: "raid5_rs", want: volume.RAID5, layout: volume.LayoutRightSymmetric},
		{typ: "raid6_zr", want: volume.RAID6, layout: volume.LayoutRightAsymmetric},
		{typ: "raid10", want: volume.RAID10, layout: volume.RAID10Layout(2, 1, false)},
	}

	for _, tc := range tests {
		t.Run(tc.typ, func(t *testing.T) {
			extra := tc.extra
			if extra == "" {
				extra = "device_count = 2\nstripe_size = 8\nraids = [\"m0\", \"a\", \"m1\", \"b\"]"
			}
			root, err := ParseText(fmt.Sprintf("segment1 {\nstart_extent = 0\nextent_count = 4\ntype = %q\n%s\n}", tc.typ, extra))
			require.NoError(t, err)

			lvs := map[string]*volume.LogicalVolume{"a": {Name: "a"}, "b": {Name: "b"}}
			seg, err := segment(root.Child("segment1"), 8, nil, lvs)
			require.NoError(t, err)
			assert.Equal(t, tc.want, seg.Type)
			assert.Equal(t, tc.layout, seg.Layout)
			require.Len(t, seg.Nodes, 2)
			assert.Same(t, lvs["a"], seg.Nodes[0].(volume.LVNode).LV)
			assert.Same(t, lvs["b"], seg.Nodes[1].(volume.LVNode).LV)
		})
	}

	for _, typ := range []string{"cache", "raid6_nr", "raid6_nc"} {
		root, err := ParseText(fmt.Sprintf("segment1 {\nstart_extent = 0\nextent_count = 1\ntype = %q\n}", typ))
		require.NoError(t, err)
		_, err = segment(root.Child("segment1"), 8, nil, nil)
		assert.ErrorIs(t, err, ErrUnsupportedSegment, typ)
	}
}

func TestEscapedNames(t *testing.T) {
	assert.Equal(t, "a--b", escapeName("a-b"))
	assert.Equal(t, "plain", escapeName("plain"))
	assert.Equal(t, "abc", compactID("a-b-c"))
}
