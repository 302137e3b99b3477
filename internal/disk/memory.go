package disk

import (
	"fmt"
	"sort"
)

// Memory is a RAM-backed disk, used for tests and synthetic arrays
type Memory struct {
	name string
	data []byte

	// FailReads makes every read return an I/O error
	FailReads bool
	// Reads counts successful ReadSectors calls
	Reads int
}

// NewMemory returns a zero-filled disk of the given number of sectors
func NewMemory(name string, sectors uint64) *Memory {
	return &Memory{
		name: name,
		data: make([]byte, sectors*SectorSize),
	}
}

func (m *Memory) Name() string {
	return m.name
}

func (m *Memory) Sectors() uint64 {
	return uint64(len(m.data) / SectorSize)
}

func (m *Memory) ReadSectors(sector uint64, buf []byte) error {
	n, err := Sectors(buf)
	if err != nil {
		return err
	}
	if m.FailReads {
		return fmt.Errorf("%s: simulated I/O error at sector %d", m.name, sector)
	}
	if err := CheckRange(m.name, sector, n, m.Sectors()); err != nil {
		return err
	}
	copy(buf, m.data[sector*SectorSize:])
	m.Reads++
	return nil
}

// WriteSectors fills the disk; only test setup and image builders write
func (m *Memory) WriteSectors(sector uint64, buf []byte) error {
	n, err := Sectors(buf)
	if err != nil {
		return err
	}
	if err := CheckRange(m.name, sector, n, m.Sectors()); err != nil {
		return err
	}
	copy(m.data[sector*SectorSize:], buf)
	return nil
}

func (m *Memory) Close() error {
	return nil
}

// MemoryDriver serves a fixed set of Memory disks
type MemoryDriver struct {
	DriverName string
	Disks      map[string]*Memory
}

// NewMemoryDriver returns a driver listing the given disks
func NewMemoryDriver(name string, disks ...*Memory) *MemoryDriver {
	d := &MemoryDriver{
		DriverName: name,
		Disks:      make(map[string]*Memory),
	}
	for _, m := range disks {
		d.Disks[m.Name()] = m
	}
	return d
}

func (d *MemoryDriver) Name() string {
	return d.DriverName
}

// Iterate lists every disk on PullNone, in name order
func (d *MemoryDriver) Iterate(pull Pull, fn func(name string) bool) error {
	if pull != PullNone {
		return nil
	}

	names := make([]string, 0, len(d.Disks))
	for name := range d.Disks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !fn(name) {
			return nil
		}
	}
	return nil
}

func (d *MemoryDriver) Open(name string) (Disk, error) {
	m, ok := d.Disks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchDisk, name)
	}
	return m, nil
}

// Remove detaches a disk, simulating a pulled drive
func (d *MemoryDriver) Remove(name string) {
	delete(d.Disks, name)
}

// Add attaches a disk
func (d *MemoryDriver) Add(m *Memory) {
	d.Disks[m.Name()] = m
}
