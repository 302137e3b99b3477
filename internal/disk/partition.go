package disk

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Partition is one entry of a partition map
type Partition struct {
	Number  int
	Start   uint64 // absolute sector on the parent disk
	Sectors uint64
	Scheme  string // "msdos" or "gpt"
	GUID    uuid.UUID
}

// Trail names the partition the way partition maps are usually chained
// in diagnostics, e.g. "msdos1" or "gpt2".
func (p *Partition) Trail() string {
	return fmt.Sprintf("%s%d", p.Scheme, p.Number)
}

const (
	mbrSignatureOffset = 510
	mbrTableOffset     = 446
	mbrEntrySize       = 16

	mbrTypeEmpty       = 0x00
	mbrTypeExtended    = 0x05
	mbrTypeExtendedLBA = 0x0f
	mbrTypeLinuxExt    = 0x85
	mbrTypeGPT         = 0xee

	// logical partition chains longer than this are treated as corrupt
	maxLogicalPartitions = 128
)

var gptSignature = []byte("EFI PART")

type mbrEntry struct {
	kind    byte
	start   uint64
	sectors uint64
}

// Partitions reads the partition map of d. A disk without a recognisable
// map yields no partitions and no error.
func Partitions(d Disk) ([]Partition, error) {
	if d.Sectors() < 1 {
		return nil, nil
	}

	sector := make([]byte, SectorSize)
	if err := d.ReadSectors(0, sector); err != nil {
		return nil, err
	}
	if sector[mbrSignatureOffset] != 0x55 || sector[mbrSignatureOffset+1] != 0xaa {
		return nil, nil
	}

	entries := parseMBRTable(sector)
	for _, e := range entries {
		if e.kind == mbrTypeGPT {
			return gptPartitions(d)
		}
	}

	var parts []Partition
	for i, e := range entries {
		if e.kind == mbrTypeEmpty || e.sectors == 0 {
			continue
		}
		if isExtended(e.kind) {
			logical, err := logicalPartitions(d, e.start)
			if err != nil {
				return parts, err
			}
			parts = append(parts, logical...)
			continue
		}
		parts = append(parts, Partition{
			Number:  i + 1,
			Start:   e.start,
			Sectors: e.sectors,
			Scheme:  "msdos",
		})
	}

	return parts, nil
}

func isExtended(kind byte) bool {
	return kind == mbrTypeExtended || kind == mbrTypeExtendedLBA || kind == mbrTypeLinuxExt
}

func parseMBRTable(sector []byte) []mbrEntry {
	entries := make([]mbrEntry, 4)
	for i := range entries {
		raw := sector[mbrTableOffset+i*mbrEntrySize:]
		entries[i] = mbrEntry{
			kind:    raw[4],
			start:   uint64(binary.LittleEndian.Uint32(raw[8:])),
			sectors: uint64(binary.LittleEndian.Uint32(raw[12:])),
		}
	}
	return entries
}

// logicalPartitions walks the EBR chain of an extended partition
func logicalPartitions(d Disk, extStart uint64) ([]Partition, error) {
	var parts []Partition
	sector := make([]byte, SectorSize)
	ebr := extStart

	for n := 0; n < maxLogicalPartitions; n++ {
		if ebr >= d.Sectors() {
			return parts, nil
		}
		if err := d.ReadSectors(ebr, sector); err != nil {
			return parts, err
		}
		if sector[mbrSignatureOffset] != 0x55 || sector[mbrSignatureOffset+1] != 0xaa {
			return parts, nil
		}

		entries := parseMBRTable(sector)
		if entries[0].kind != mbrTypeEmpty && entries[0].sectors != 0 {
			parts = append(parts, Partition{
				Number:  5 + n,
				Start:   ebr + entries[0].start,
				Sectors: entries[0].sectors,
				Scheme:  "msdos",
			})
		}

		if !isExtended(entries[1].kind) || entries[1].start == 0 {
			return parts, nil
		}
		ebr = extStart + entries[1].start
	}

	return parts, fmt.Errorf("extended partition chain on %s is too long", d.Name())
}

func gptPartitions(d Disk) ([]Partition, error) {
	if d.Sectors() < 2 {
		return nil, nil
	}

	hdr := make([]byte, SectorSize)
	if err := d.ReadSectors(1, hdr); err != nil {
		return nil, err
	}
	if !bytes.Equal(hdr[:8], gptSignature) {
		return nil, nil
	}

	entriesLBA := binary.LittleEndian.Uint64(hdr[72:])
	count := binary.LittleEndian.Uint32(hdr[80:])
	entrySize := binary.LittleEndian.Uint32(hdr[84:])
	if entrySize < 128 || entrySize%8 != 0 || count > 1024 {
		return nil, fmt.Errorf("%s: malformed GPT header (%d entries of %d bytes)", d.Name(), count, entrySize)
	}

	tableSectors := (uint64(count)*uint64(entrySize) + SectorSize - 1) / SectorSize
	if err := CheckRange(d.Name(), entriesLBA, tableSectors, d.Sectors()); err != nil {
		return nil, err
	}
	table := make([]byte, tableSectors*SectorSize)
	if err := d.ReadSectors(entriesLBA, table); err != nil {
		return nil, err
	}

	var parts []Partition
	for i := uint32(0); i < count; i++ {
		raw := table[i*entrySize:]
		if isZero(raw[:16]) {
			continue
		}
		first := binary.LittleEndian.Uint64(raw[32:])
		last := binary.LittleEndian.Uint64(raw[40:])
		if last < first {
			continue
		}
		parts = append(parts, Partition{
			Number:  int(i) + 1,
			Start:   first,
			Sectors: last - first + 1,
			Scheme:  "gpt",
			GUID:    mixedEndianGUID(raw[16:32]),
		})
	}

	return parts, nil
}

// mixedEndianGUID converts the on-disk GUID byte order to RFC 4122 order
func mixedEndianGUID(b []byte) uuid.UUID {
	var u uuid.UUID
	copy(u[:], b)
	u[0], u[1], u[2], u[3] = b[3], b[2], b[1], b[0]
	u[4], u[5] = b[5], b[4]
	u[6], u[7] = b[7], b[6]
	return u
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
