package volume

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigreer/raidview/internal/disk"
)

type stubRAID6 struct {
	calls int
}

func (s *stubRAID6) RecoverRAID6(r NodeReader, seg *Segment, failed, parity int, buf []byte, sector uint64) error {
	s.calls++
	for i := range buf {
		buf[i] = 0x6d
	}
	return nil
}

func TestDeviceReadDegradedRAID6(t *testing.T) {
	const stripe = 4
	c := newTestCatalog()
	hook := &stubRAID6{}
	c.SetRAID6Recovery(hook)

	disks := []disk.Disk{nil, taggedDisk("r1", 16, 1), taggedDisk("r2", 16, 2), nil, taggedDisk("r4", 16, 4)}
	vg := singleSegmentVG("r6", RAID6, stripe, LayoutLeftSymmetric, 36, pvs(disks...))
	require.NoError(t, c.RegisterVG(vg))
	lv := vg.LVs[0]
	assert.False(t, IsLVReadable(lv, true))

	dev, err := c.Open("static/r6")
	require.NoError(t, err)
	assert.Equal(t, uint64(36), dev.Sectors())
	assert.Equal(t, lv.Number, dev.ID)

	buf := make([]byte, 36*disk.SectorSize)
	require.NoError(t, dev.ReadSectors(0, buf))

	seg := &lv.Segments[0]
	recovered := 0
	for chunk := uint64(0); chunk < 9; chunk++ {
		loc := seg.Locate(chunk * stripe)
		got := buf[chunk*stripe*disk.SectorSize : (chunk+1)*stripe*disk.SectorSize]
		if disks[loc.Node] == nil {
			recovered++
			for _, b := range got {
				require.Equal(t, byte(0x6d), b, "chunk %d", chunk)
			}
			continue
		}
		tag, sector := sectorTag(got)
		assert.Equal(t, byte(loc.Node), tag, "chunk %d", chunk)
		assert.Equal(t, loc.Sector, sector, "chunk %d", chunk)
	}
	assert.NotZero(t, recovered)
	assert.Equal(t, recovered, hook.calls)

	c.SetRAID6Recovery(nil)
	assert.ErrorIs(t, dev.ReadSectors(0, buf), ErrRecoveryModuleMissing)
}

func TestDeviceBounds(t *testing.T) {
	c := newTestCatalog()
	require.NoError(t, c.RegisterVG(singleSegmentVG("m", Mirror, 0, 0, 8, pvs(taggedDisk("m", 8, 0)))))

	dev, err := c.Open("staticid/m")
	require.NoError(t, err)
	assert.Equal(t, "staticid/m", dev.Name())

	assert.ErrorIs(t, dev.ReadSectors(7, make([]byte, 2*disk.SectorSize)), disk.ErrOutOfRange)
	assert.ErrorIs(t, dev.ReadSectors(0, make([]byte, 10)), disk.ErrUnaligned)
	assert.ErrorIs(t, dev.WriteSectors(0, make([]byte, disk.SectorSize)), ErrNotImplemented)
	assert.NoError(t, dev.Close())
}

func TestOpen(t *testing.T) {
	good := disk.NewMemory("sda", 8)
	writeHeader(good, 0, "found", 0, 4)

	tests := []struct {
		label string
		name  string
		err   error
	}{
		{label: "no namespace", name: "sda", err: ErrUnknownDevice},
		{label: "found by scan", name: "static/found"},
		{label: "found by id", name: "staticid/found"},
		{label: "missing", name: "static/nothing", err: ErrUnknownDevice},
	}

	for _, tc := range tests {
		t.Run(tc.label, func(t *testing.T) {
			c := newTestCatalog()
			c.AddDriver(disk.NewMemoryDriver("mem", good))
			c.AddDetector(&headerDetector{})

			dev, err := c.Open(tc.name)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				assert.Nil(t, dev)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, uint64(4), dev.Sectors())
		})
	}
}

func TestOpenUnreadable(t *testing.T) {
	c := newTestCatalog()
	require.NoError(t, c.RegisterVG(singleSegmentVG("gone", Striped, 4, 0, 8, pvs(nil, taggedDisk("x", 8, 0)))))
	_, err := c.Open("static/gone")
	assert.ErrorIs(t, err, ErrUnknownDevice)
}

func collect(t *testing.T, c *Catalog, pull disk.Pull) []string {
	t.Helper()
	var names []string
	require.NoError(t, c.Iterate(pull, func(name string) bool {
		names = append(names, name)
		return true
	}))
	return names
}

func TestIterate(t *testing.T) {
	a := disk.NewMemory("a", 8)
	writeHeader(a, 0, "alpha", 0, 4)
	b := disk.NewMemory("b", 8)
	writeHeader(b, 0, "beta", 0, 4)
	drv := disk.NewMemoryDriver("mem", a)

	c := newTestCatalog()
	c.AddDriver(drv)
	c.AddDetector(&headerDetector{})

	assert.Empty(t, collect(t, c, disk.PullNone))
	assert.Equal(t, []string{"static/alpha"}, collect(t, c, disk.PullRescan))
	assert.Equal(t, []string{"static/alpha"}, collect(t, c, disk.PullNone))

	// a second rescan reports only what is new
	drv.Add(b)
	assert.Equal(t, []string{"static/beta"}, collect(t, c, disk.PullRescan))
	assert.Empty(t, collect(t, c, disk.PullRescan))
	assert.Equal(t, []string{"static/alpha", "static/beta"}, collect(t, c, disk.PullNone))
	assert.Empty(t, collect(t, c, disk.PullRemovable))

	// hidden and unreadable volumes are never listed
	c.FindLV("static/beta").Visible = false
	assert.Equal(t, []string{"static/alpha"}, collect(t, c, disk.PullNone))

	var first []string
	require.NoError(t, c.Iterate(disk.PullNone, func(name string) bool {
		first = append(first, name)
		return false
	}))
	assert.Len(t, first, 1)
}

func TestMembersScansForMissing(t *testing.T) {
	m0 := mirrorMember("sda", 0, 1)
	m1 := mirrorMember("sdb", 1, 1)
	drv := disk.NewMemoryDriver("mem", m0)

	c := newTestCatalog()
	c.AddDriver(drv)
	c.AddDetector(&headerDetector{build: mirrorBuilder})
	require.NoError(t, c.ScanDevices(""))

	drv.Add(m1)
	members, err := c.Members("static/mir")
	require.NoError(t, err)
	require.Len(t, members, 2)
	for i, m := range members {
		assert.True(t, m.Present, "member %d", i)
		assert.Equal(t, IndexID(i), m.ID)
		assert.Equal(t, uint64(1), m.Start)
	}
	assert.Equal(t, "sdb", members[1].Disk)

	_, err = c.Members("static/none")
	assert.ErrorIs(t, err, ErrUnknownDevice)
}

func TestCatalogClose(t *testing.T) {
	m := mirrorMember("sda", 0, 1)
	c := newTestCatalog()
	c.AddDriver(disk.NewMemoryDriver("mem", m))
	c.AddDetector(&headerDetector{build: mirrorBuilder})
	require.NoError(t, c.ScanDevices(""))

	vg := c.VGs()[0]
	require.NoError(t, c.Close())
	assert.Empty(t, c.VGs())
	assert.False(t, vg.PVs[0].Present())
}

func TestIsVirtualName(t *testing.T) {
	for name, want := range map[string]bool{
		"md/root":          true,
		"mduuid/0a1b":      true,
		"lvm/vg-root":      true,
		"lvmid/abc/def":    true,
		"static/x":         true,
		"/dev/sda":         false,
		"images/disk.img":  false,
		"mdraid-not-a-dev": false,
	} {
		assert.Equal(t, want, IsVirtualName(name), name)
	}
}
