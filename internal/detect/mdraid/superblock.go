package mdraid

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	sbMagic = 0xa92b4efc

	// fixed part of a version 1 superblock; device roles follow it
	sbFixedSize = 256
	// superblocks are read as a 4 KiB block
	sbSectors = 8

	roleSpare   = 0xffff
	roleFaulty  = 0xfffe
	roleJournal = 0xfffd

	featureReshapeActive = 0x4
)

var (
	errNoSuperblock = errors.New("no md superblock")
	errTruncated    = errors.New("md superblock truncated")
)

// Superblock is the subset of an md version 1 superblock the assembler needs
type Superblock struct {
	MajorVersion uint32
	FeatureMap   uint32
	SetUUID      uuid.UUID
	SetName      string
	Level        int32
	Layout       uint32
	// Size is the used size of each member in sectors
	Size        uint64
	ChunkSize   uint32
	RaidDisks   uint32
	DataOffset  uint64
	DataSize    uint64
	SuperOffset uint64
	DevNumber   uint32
	DeviceUUID  uuid.UUID
	Events      uint64
	MaxDev      uint32
	Roles       []uint16
}

// ParseSuperblock decodes a version 1 superblock from buf
func ParseSuperblock(buf []byte) (*Superblock, error) {
	if len(buf) < sbFixedSize {
		return nil, errTruncated
	}
	le := binary.LittleEndian
	if le.Uint32(buf[0:]) != sbMagic {
		return nil, errNoSuperblock
	}

	sb := &Superblock{
		MajorVersion: le.Uint32(buf[4:]),
		FeatureMap:   le.Uint32(buf[8:]),
		SetName:      cString(buf[32:64]),
		Level:        int32(le.Uint32(buf[72:])),
		Layout:       le.Uint32(buf[76:]),
		Size:         le.Uint64(buf[80:]),
		ChunkSize:    le.Uint32(buf[88:]),
		RaidDisks:    le.Uint32(buf[92:]),
		DataOffset:   le.Uint64(buf[128:]),
		DataSize:     le.Uint64(buf[136:]),
		SuperOffset:  le.Uint64(buf[144:]),
		DevNumber:    le.Uint32(buf[160:]),
		Events:       le.Uint64(buf[200:]),
		MaxDev:       le.Uint32(buf[220:]),
	}
	copy(sb.SetUUID[:], buf[16:32])
	copy(sb.DeviceUUID[:], buf[168:184])

	end := sbFixedSize + 2*int(sb.MaxDev)
	if end > len(buf) {
		return nil, fmt.Errorf("%w: %d device roles", errTruncated, sb.MaxDev)
	}
	sb.Roles = make([]uint16, sb.MaxDev)
	for i := range sb.Roles {
		sb.Roles[i] = le.Uint16(buf[sbFixedSize+2*i:])
	}
	return sb, nil
}

// Role returns this member's slot in the array, or false for spares and
// faulty devices.
func (sb *Superblock) Role() (uint16, bool) {
	if sb.DevNumber >= uint32(len(sb.Roles)) {
		return 0, false
	}
	r := sb.Roles[sb.DevNumber]
	if r == roleSpare || r == roleFaulty || r == roleJournal {
		return 0, false
	}
	return r, true
}

// ArrayName is the set name without its "host:" prefix, falling back to
// the set uuid.
func (sb *Superblock) ArrayName() string {
	name := sb.SetName
	if i := strings.IndexByte(name, ':'); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		return sb.SetUUID.String()
	}
	return name
}

func cString(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
