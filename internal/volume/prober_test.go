package volume

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigreer/raidview/internal/disk"
)

// mirrorBuilder makes a two-way mirror group for any uuid
func mirrorBuilder(uuid string, lvSectors uint64) *VolumeGroup {
	return singleSegmentVG(uuid, Mirror, 0, 0, lvSectors, []*PhysicalVolume{
		{Name: uuid + "-0", ID: IndexID(0)},
		{Name: uuid + "-1", ID: IndexID(1)},
	})
}

func mirrorMember(name string, member int, tag byte) *disk.Memory {
	m := taggedDisk(name, 17, tag)
	writeHeader(m, 0, "mir", member, 16)
	return m
}

func TestScanMirrorSwap(t *testing.T) {
	m0 := mirrorMember("sda", 0, 0xa0)
	m1 := mirrorMember("sdb", 1, 0xb1)
	drv := disk.NewMemoryDriver("mem", m0)

	c := newTestCatalog()
	c.AddDriver(drv)
	c.AddDetector(&headerDetector{build: mirrorBuilder})
	require.NoError(t, c.ScanDevices(""))

	lv := c.FindLV("static/mir")
	require.NotNil(t, lv)
	assert.True(t, IsLVReadable(lv, true))
	assert.Equal(t, uint64(1), lv.BecameReadableAt)
	assert.Equal(t, uint64(1), lv.VG.PVs[0].StartSector)
	assert.False(t, lv.VG.PVs[1].Present())

	buf := make([]byte, 16*disk.SectorSize)
	require.NoError(t, c.ReadLV(lv, 0, buf))
	tag, sector := sectorTag(buf)
	assert.Equal(t, byte(0xa0), tag)
	assert.Equal(t, uint64(1), sector)
	reads := m0.Reads

	// pull the first disk, attach the second and rescan
	drv.Remove("sda")
	lv.VG.PVs[0].Disk = nil
	m0.FailReads = true
	drv.Add(m1)
	require.NoError(t, c.ScanDevices(""))

	require.True(t, lv.VG.PVs[1].Present())
	assert.True(t, IsLVReadable(lv, true))
	require.NoError(t, c.ReadLV(lv, 0, buf))
	tag, sector = sectorTag(buf[15*disk.SectorSize:])
	assert.Equal(t, byte(0xb1), tag)
	assert.Equal(t, uint64(16), sector)
	assert.Equal(t, reads, m0.Reads)

	// readiness is stamped once
	assert.Equal(t, uint64(1), lv.BecameReadableAt)
}

func TestScanIdempotent(t *testing.T) {
	m0 := mirrorMember("sda", 0, 1)
	m1 := mirrorMember("sdb", 1, 1)
	det := &headerDetector{build: mirrorBuilder}

	c := newTestCatalog()
	c.AddDriver(disk.NewMemoryDriver("mem", m0, m1))
	c.AddDetector(det)
	require.NoError(t, c.ScanDevices(""))
	require.Len(t, c.VGs(), 1)
	seq := c.InsertSeq()
	calls := det.calls

	require.NoError(t, c.ScanDevices(""))
	assert.Len(t, c.VGs(), 1)
	assert.Len(t, c.VGs()[0].PVs, 2)
	assert.Equal(t, seq, c.InsertSeq())
	// known members are skipped before any detector runs
	assert.Equal(t, calls, det.calls)
	assert.Equal(t, 1, det.keys)

	// a direct re-insert of the same candidate changes nothing
	cand := NewCandidate(c.drivers[0], m0, nil, "")
	res, err := det.Detect(c, cand)
	require.NoError(t, err)
	require.NoError(t, c.insertArray(cand, res, det))
	assert.Equal(t, seq, c.InsertSeq())
	assert.Equal(t, uint64(1), c.VGs()[0].PVs[0].StartSector)
}

func TestScanPartitionMember(t *testing.T) {
	m := disk.NewMemory("sdc", 256)
	mbr := make([]byte, disk.SectorSize)
	raw := mbr[446:]
	raw[4] = 0x83
	raw[8] = 64  // start
	raw[12] = 32 // sectors
	mbr[510], mbr[511] = 0x55, 0xaa
	require.NoError(t, m.WriteSectors(0, mbr))
	writeHeader(m, 64, "part", 0, 16)

	c := newTestCatalog()
	c.AddDriver(disk.NewMemoryDriver("mem", m))
	c.AddDetector(&headerDetector{})
	require.NoError(t, c.ScanDevices(""))

	lv := c.FindLV("static/part")
	require.NotNil(t, lv)
	pv := lv.VG.PVs[0]
	assert.Equal(t, uint64(65), pv.StartSector)
	assert.Equal(t, uint64(64), pv.PartStart)
	assert.Equal(t, uint64(32), pv.PartSize)
	assert.Equal(t, []string{"msdos1"}, pv.PartTrail)
}

func TestScanLargerCandidateReplaces(t *testing.T) {
	small := disk.NewMemory("small", 20)
	writeHeader(small, 0, "grow", 0, 16)
	big := disk.NewMemory("big", 40)
	writeHeader(big, 0, "grow", 0, 16)

	c := newTestCatalog()
	det := &headerDetector{}
	c.AddDetector(det)
	drv := disk.NewMemoryDriver("mem", small, big)
	c.drivers = append(c.drivers, drv)

	for _, m := range []*disk.Memory{big, small} {
		cand := NewCandidate(drv, m, nil, "")
		res, err := det.Detect(c, cand)
		require.NoError(t, err)
		require.NoError(t, c.insertArray(cand, res, det))
	}
	pv := c.VGs()[0].PVs[0]
	assert.Equal(t, "big", pv.Disk.Name())

	c2 := newTestCatalog()
	for _, m := range []*disk.Memory{small, big} {
		cand := NewCandidate(drv, m, nil, "")
		res, err := det.Detect(c2, cand)
		require.NoError(t, err)
		require.NoError(t, c2.insertArray(cand, res, det))
	}
	pv = c2.VGs()[0].PVs[0]
	assert.Equal(t, "big", pv.Disk.Name())
	assert.Equal(t, uint64(40), pv.PartSize)
	assert.Equal(t, uint64(1), pv.StartSector)
}

func TestScanTargetStopsEarly(t *testing.T) {
	a := disk.NewMemory("a", 8)
	writeHeader(a, 0, "first", 0, 4)
	b := disk.NewMemory("b", 8)
	writeHeader(b, 0, "second", 0, 4)

	c := newTestCatalog()
	c.AddDriver(disk.NewMemoryDriver("one", a))
	c.AddDriver(disk.NewMemoryDriver("two", b))
	c.AddDetector(&headerDetector{})

	require.NoError(t, c.ScanDevices("static/first"))
	assert.NotNil(t, c.FindLV("static/first"))
	assert.Nil(t, c.FindLV("static/second"))
}

func TestScanDegradedStampedAfterScan(t *testing.T) {
	members := make([]*disk.Memory, 3)
	for i := range members {
		members[i] = taggedDisk(fmt.Sprintf("r%d", i), 9, byte(i))
		writeHeader(members[i], 0, "deg", i, 16)
	}
	build := func(uuid string, lvSectors uint64) *VolumeGroup {
		slots := make([]*PhysicalVolume, 4)
		for i := range slots {
			slots[i] = &PhysicalVolume{Name: fmt.Sprintf("%s-%d", uuid, i), ID: IndexID(i)}
		}
		return singleSegmentVG(uuid, RAID5, 4, LayoutLeftSymmetric, 24, slots)
	}

	c := newTestCatalog()
	c.AddDriver(disk.NewMemoryDriver("mem", members[0], members[1], members[2]))
	c.AddDetector(&headerDetector{build: build})
	require.NoError(t, c.ScanDevices(""))

	lv := c.FindLV("static/deg")
	require.NotNil(t, lv)
	assert.False(t, IsLVReadable(lv, true))
	assert.True(t, IsLVReadable(lv, false))
	assert.NotZero(t, lv.BecameReadableAt)
	assert.True(t, lv.Scanned)
}

func TestScanDetectorErrorsAreSkipped(t *testing.T) {
	bad := disk.NewMemory("bad", 4)
	bad.FailReads = true
	good := disk.NewMemory("good", 8)
	writeHeader(good, 0, "ok", 0, 4)

	c := newTestCatalog()
	c.AddDriver(disk.NewMemoryDriver("mem", bad, good))
	c.AddDetector(&headerDetector{})
	require.NoError(t, c.ScanDevices(""))
	assert.NotNil(t, c.FindLV("static/ok"))
}

func TestScanNestedVolumes(t *testing.T) {
	// the inner volume's data holds the header of an outer group
	m := disk.NewMemory("base", 32)
	writeHeader(m, 0, "inner", 0, 31)
	writeHeader(m, 1, "outer", 0, 30)

	c := newTestCatalog()
	c.AddDriver(disk.NewMemoryDriver("mem", m))
	c.AddDetector(&headerDetector{})
	require.NoError(t, c.ScanDevices(""))

	outer := c.FindLV("static/outer")
	require.NotNil(t, outer)
	pv := outer.VG.PVs[0]
	require.True(t, pv.Present())
	assert.Equal(t, DriverName, pv.DriverName)
	assert.Equal(t, "static/inner", pv.Disk.Name())
	assert.Greater(t, outer.BecameReadableAt, c.FindLV("static/inner").BecameReadableAt)
}

func TestScanInfiniteNestingHitsDepthCap(t *testing.T) {
	// every sector opens a new group whose data starts one sector later, so
	// each nested volume reveals another
	const size = 256
	m := disk.NewMemory("abyss", size)
	for s := uint64(0); s < size-1; s++ {
		writeHeader(m, s, fmt.Sprintf("gen-%d", s), 0, size-s-1)
	}

	c := newTestCatalog()
	c.AddDriver(disk.NewMemoryDriver("mem", m))
	c.AddDetector(&headerDetector{})

	err := c.ScanDevices("")
	assert.ErrorIs(t, err, ErrScanDepthExceeded)
	assert.Zero(t, c.scanDepth)
	assert.Zero(t, c.readDepth)
}
