package lvm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sigreer/raidview/internal/disk"
)

const (
	labelID   = "LABELONE"
	labelType = "LVM2 001"
	// the label lives in one of the first four sectors
	labelScanSectors = 4

	idLen = 32

	mdaMagic      = " LVM2 x[5A%r0N*>"
	mdaHeaderSize = 512
	mdaVersion    = 1
	// raw locations start after checksum, magic, version, start and size
	rlocnOffset = 40

	maxMetadataSize = 1 << 24
)

var (
	errNoLabel    = errors.New("no LVM2 label")
	errNoMetadata = errors.New("no LVM2 metadata area")
)

// reader is the part of a disk the label code needs; candidates satisfy it
type reader interface {
	Sectors() uint64
	ReadSectors(sector uint64, buf []byte) error
}

// Area is an offset and size in bytes on the physical volume
type Area struct {
	Offset uint64
	Size   uint64
}

// Label is the physical volume label and header
type Label struct {
	Sector        uint64
	PVUUID        string
	DeviceSize    uint64
	DataAreas     []Area
	MetadataAreas []Area
}

// MetadataHeader is the header at the start of a metadata area
type MetadataHeader struct {
	Version uint32
	// Start and Size locate the whole metadata area in bytes
	Start uint64
	Size  uint64
	// Text is the first raw location, relative to Start
	Text Area
}

// ReadLabel looks for the label in the first sectors of r
func ReadLabel(r reader) (*Label, error) {
	n := min(uint64(labelScanSectors), r.Sectors())
	if n == 0 {
		return nil, errNoLabel
	}
	buf := make([]byte, n*disk.SectorSize)
	if err := r.ReadSectors(0, buf); err != nil {
		return nil, err
	}
	for s := uint64(0); s < n; s++ {
		l, err := parseLabel(buf[s*disk.SectorSize:(s+1)*disk.SectorSize], s)
		if errors.Is(err, errNoLabel) {
			continue
		}
		return l, err
	}
	return nil, errNoLabel
}

func parseLabel(sec []byte, sector uint64) (*Label, error) {
	le := binary.LittleEndian
	if string(sec[0:8]) != labelID || string(sec[24:32]) != labelType {
		return nil, errNoLabel
	}
	if le.Uint64(sec[8:]) != sector {
		return nil, errNoLabel
	}

	off := uint64(le.Uint32(sec[20:]))
	if off+idLen+8 > uint64(len(sec)) {
		return nil, fmt.Errorf("pv header at %d outside label sector", off)
	}
	hdr := sec[off:]
	l := &Label{
		Sector:     sector,
		PVUUID:     string(hdr[:idLen]),
		DeviceSize: le.Uint64(hdr[idLen:]),
	}

	// data areas then metadata areas, each list ended by a zero entry
	p := hdr[idLen+8:]
	var err error
	if l.DataAreas, p, err = areaList(p); err != nil {
		return nil, err
	}
	if l.MetadataAreas, _, err = areaList(p); err != nil {
		return nil, err
	}
	return l, nil
}

func areaList(p []byte) ([]Area, []byte, error) {
	var areas []Area
	for {
		if len(p) < 16 {
			return nil, nil, errors.New("unterminated pv header area list")
		}
		a := Area{Offset: binary.LittleEndian.Uint64(p), Size: binary.LittleEndian.Uint64(p[8:])}
		p = p[16:]
		if a.Offset == 0 {
			return areas, p, nil
		}
		areas = append(areas, a)
	}
}

// readBytes reads n bytes at byte offset off of r
func readBytes(r reader, off, n uint64) ([]byte, error) {
	first := off / disk.SectorSize
	last := (off + n + disk.SectorSize - 1) / disk.SectorSize
	buf := make([]byte, (last-first)*disk.SectorSize)
	if err := r.ReadSectors(first, buf); err != nil {
		return nil, err
	}
	skip := off - first*disk.SectorSize
	return buf[skip : skip+n], nil
}

// ReadMetadataHeader decodes the header of the metadata area a
func ReadMetadataHeader(r reader, a Area) (*MetadataHeader, error) {
	buf, err := readBytes(r, a.Offset, mdaHeaderSize)
	if err != nil {
		return nil, err
	}
	le := binary.LittleEndian
	if !bytes.Equal(buf[4:20], []byte(mdaMagic)) {
		return nil, fmt.Errorf("%w: bad magic at byte %d", errNoMetadata, a.Offset)
	}
	h := &MetadataHeader{
		Version: le.Uint32(buf[20:]),
		Start:   le.Uint64(buf[24:]),
		Size:    le.Uint64(buf[32:]),
		Text: Area{
			Offset: le.Uint64(buf[rlocnOffset:]),
			Size:   le.Uint64(buf[rlocnOffset+8:]),
		},
	}
	if h.Version != mdaVersion {
		return nil, fmt.Errorf("unsupported metadata area version %d", h.Version)
	}
	if h.Text.Offset == 0 || h.Text.Size == 0 {
		return nil, fmt.Errorf("%w: empty raw location", errNoMetadata)
	}
	return h, nil
}

// ReadText returns the metadata text h points at. The area is a ring after
// its header, so the text may wrap back to the first byte past it.
func ReadText(r reader, h *MetadataHeader) (string, error) {
	if h.Text.Size > maxMetadataSize || h.Text.Offset >= h.Size {
		return "", fmt.Errorf("metadata location %d+%d outside area of %d bytes", h.Text.Offset, h.Text.Size, h.Size)
	}
	first := h.Text.Size
	wrap := uint64(0)
	if h.Text.Offset+h.Text.Size > h.Size {
		first = h.Size - h.Text.Offset
		wrap = h.Text.Size - first
		if wrap > h.Size-mdaHeaderSize {
			return "", fmt.Errorf("metadata of %d bytes overruns area", h.Text.Size)
		}
	}

	text, err := readBytes(r, h.Start+h.Text.Offset, first)
	if err != nil {
		return "", err
	}
	if wrap > 0 {
		rest, err := readBytes(r, h.Start+mdaHeaderSize, wrap)
		if err != nil {
			return "", err
		}
		text = append(text, rest...)
	}
	return string(text), nil
}
