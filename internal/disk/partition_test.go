package disk

import (
	"encoding/binary"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func putMBREntry(sector []byte, i int, kind byte, start, count uint32) {
	raw := sector[mbrTableOffset+i*mbrEntrySize:]
	raw[4] = kind
	binary.LittleEndian.PutUint32(raw[8:], start)
	binary.LittleEndian.PutUint32(raw[12:], count)
}

func signMBR(sector []byte) {
	sector[mbrSignatureOffset] = 0x55
	sector[mbrSignatureOffset+1] = 0xaa
}

func TestPartitionsNoTable(t *testing.T) {
	m := NewMemory("blank", 64)
	parts, err := Partitions(m)
	require.NoError(t, err)
	assert.Empty(t, parts)
}

func TestPartitionsMBR(t *testing.T) {
	m := NewMemory("mbr", 4096)

	mbr := make([]byte, SectorSize)
	putMBREntry(mbr, 0, 0x83, 64, 1000)
	putMBREntry(mbr, 1, mbrTypeExtended, 2048, 2000)
	signMBR(mbr)
	require.NoError(t, m.WriteSectors(0, mbr))

	// first EBR: logical at +16, next EBR at +1000 from the extended start
	ebr := make([]byte, SectorSize)
	putMBREntry(ebr, 0, 0x83, 16, 500)
	putMBREntry(ebr, 1, mbrTypeExtended, 1000, 900)
	signMBR(ebr)
	require.NoError(t, m.WriteSectors(2048, ebr))

	ebr2 := make([]byte, SectorSize)
	putMBREntry(ebr2, 0, 0x83, 8, 200)
	signMBR(ebr2)
	require.NoError(t, m.WriteSectors(3048, ebr2))

	parts, err := Partitions(m)
	require.NoError(t, err)
	require.Len(t, parts, 3)

	assert.Equal(t, Partition{Number: 1, Start: 64, Sectors: 1000, Scheme: "msdos"}, parts[0])
	assert.Equal(t, Partition{Number: 5, Start: 2064, Sectors: 500, Scheme: "msdos"}, parts[1])
	assert.Equal(t, Partition{Number: 6, Start: 3056, Sectors: 200, Scheme: "msdos"}, parts[2])
	assert.Equal(t, "msdos5", parts[1].Trail())
}

func TestPartitionsGPT(t *testing.T) {
	m := NewMemory("gpt", 4096)

	mbr := make([]byte, SectorSize)
	putMBREntry(mbr, 0, mbrTypeGPT, 1, 4095)
	signMBR(mbr)
	require.NoError(t, m.WriteSectors(0, mbr))

	hdr := make([]byte, SectorSize)
	copy(hdr, gptSignature)
	binary.LittleEndian.PutUint64(hdr[72:], 2)
	binary.LittleEndian.PutUint32(hdr[80:], 4)
	binary.LittleEndian.PutUint32(hdr[84:], 128)
	require.NoError(t, m.WriteSectors(1, hdr))

	table := make([]byte, SectorSize)
	entry := table[128:] // second slot; first slot left unused
	entry[0] = 0xaf      // non-zero type GUID
	unique := []byte{0x33, 0x22, 0x11, 0x00, 0x55, 0x44, 0x77, 0x66, 0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	copy(entry[16:], unique)
	binary.LittleEndian.PutUint64(entry[32:], 2048)
	binary.LittleEndian.PutUint64(entry[40:], 4000)
	require.NoError(t, m.WriteSectors(2, table))

	parts, err := Partitions(m)
	require.NoError(t, err)
	require.Len(t, parts, 1)

	p := parts[0]
	assert.Equal(t, 2, p.Number)
	assert.Equal(t, uint64(2048), p.Start)
	assert.Equal(t, uint64(1953), p.Sectors)
	assert.Equal(t, "gpt2", p.Trail())
	assert.Equal(t, uuid.MustParse("00112233-4455-6677-8899-aabbccddeeff"), p.GUID)
}

func TestSectionReadsRelativeToPartition(t *testing.T) {
	m := NewMemory("sec", 16)
	buf := make([]byte, SectorSize)
	buf[0] = 0x42
	require.NoError(t, m.WriteSectors(10, buf))

	s := NewSection(m, &Partition{Start: 8, Sectors: 4})
	got := make([]byte, SectorSize)
	require.NoError(t, s.ReadSectors(2, got))
	assert.Equal(t, byte(0x42), got[0])

	assert.ErrorIs(t, s.ReadSectors(4, got), ErrOutOfRange)
	assert.ErrorIs(t, s.ReadSectors(0, make([]byte, 100)), ErrUnaligned)
}

func TestMemoryDriver(t *testing.T) {
	a := NewMemory("b", 1)
	b := NewMemory("a", 1)
	drv := NewMemoryDriver("mem", a, b)

	var names []string
	require.NoError(t, drv.Iterate(PullNone, func(name string) bool {
		names = append(names, name)
		return true
	}))
	assert.Equal(t, []string{"a", "b"}, names)

	names = nil
	require.NoError(t, drv.Iterate(PullRescan, func(name string) bool {
		names = append(names, name)
		return true
	}))
	assert.Empty(t, names)

	_, err := drv.Open("missing")
	assert.ErrorIs(t, err, ErrNoSuchDisk)
}
