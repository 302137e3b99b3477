package disk

import (
	"errors"
	"fmt"
)

// SectorSize is the addressing unit of every disk in raidview.
const SectorSize = 512

var (
	// ErrOutOfRange is returned for reads past the end of a disk or partition
	ErrOutOfRange = errors.New("read out of range")

	// ErrUnaligned is returned when a buffer is not a whole number of sectors
	ErrUnaligned = errors.New("buffer is not sector aligned")

	// ErrNoSuchDisk is returned by drivers asked to open a name they don't own
	ErrNoSuchDisk = errors.New("no such disk")
)

// Disk is a sector-addressed, read-only block device
type Disk interface {
	Name() string
	Sectors() uint64
	ReadSectors(sector uint64, buf []byte) error
	Close() error
}

// Pull selects how hard a driver should look for devices
type Pull int

const (
	// PullNone lists devices the driver already knows about
	PullNone Pull = iota
	// PullRemovable additionally lists removable media
	PullRemovable
	// PullRescan re-enumerates from scratch
	PullRescan
	// PullMax is the number of pull classes
	PullMax
)

func (p Pull) String() string {
	switch p {
	case PullNone:
		return "none"
	case PullRemovable:
		return "removable"
	case PullRescan:
		return "rescan"
	default:
		return fmt.Sprintf("pull(%d)", int(p))
	}
}

// Driver enumerates and opens disks of one kind
type Driver interface {
	Name() string
	// Iterate calls fn for each device reachable at the given pull class
	// until fn returns false.
	Iterate(pull Pull, fn func(name string) bool) error
	Open(name string) (Disk, error)
}

// Sectors returns the number of whole sectors in buf
func Sectors(buf []byte) (uint64, error) {
	if len(buf)%SectorSize != 0 {
		return 0, fmt.Errorf("%w: %d bytes", ErrUnaligned, len(buf))
	}
	return uint64(len(buf) / SectorSize), nil
}

// CheckRange validates that [sector, sector+count) lies within size sectors
func CheckRange(name string, sector, count, size uint64) error {
	if sector > size || count > size-sector {
		return fmt.Errorf("%w: %s sector %d+%d beyond %d", ErrOutOfRange, name, sector, count, size)
	}
	return nil
}

// Section is a window of a disk, usually a partition
type Section struct {
	Disk  Disk
	Start uint64
	Count uint64
}

// NewSection returns a view of d starting at p. A nil p covers the whole disk.
func NewSection(d Disk, p *Partition) *Section {
	if p == nil {
		return &Section{Disk: d, Count: d.Sectors()}
	}
	return &Section{Disk: d, Start: p.Start, Count: p.Sectors}
}

func (s *Section) Name() string {
	return s.Disk.Name()
}

func (s *Section) Sectors() uint64 {
	return s.Count
}

// ReadSectors reads relative to the start of the section
func (s *Section) ReadSectors(sector uint64, buf []byte) error {
	n, err := Sectors(buf)
	if err != nil {
		return err
	}
	if err := CheckRange(s.Name(), sector, n, s.Count); err != nil {
		return err
	}
	return s.Disk.ReadSectors(s.Start+sector, buf)
}

// Close is a no-op; the underlying disk is owned by whoever opened it
func (s *Section) Close() error {
	return nil
}
