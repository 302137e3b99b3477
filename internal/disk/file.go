package disk

import (
	"fmt"
	"io"
	"os"
)

// File is a disk backed by a block device node or an image file
type File struct {
	name    string
	f       *os.File
	sectors uint64
}

// OpenFile opens path read-only and sizes it
func OpenFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	size, err := fileSize(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to size %s: %w", path, err)
	}

	return &File{
		name:    path,
		f:       f,
		sectors: uint64(size) / SectorSize,
	}, nil
}

func (d *File) Name() string {
	return d.name
}

func (d *File) Sectors() uint64 {
	return d.sectors
}

func (d *File) ReadSectors(sector uint64, buf []byte) error {
	n, err := Sectors(buf)
	if err != nil {
		return err
	}
	if err := CheckRange(d.name, sector, n, d.sectors); err != nil {
		return err
	}

	if _, err := d.f.ReadAt(buf, int64(sector*SectorSize)); err != nil && err != io.EOF {
		return fmt.Errorf("failed to read %s at sector %d: %w", d.name, sector, err)
	}
	return nil
}

func (d *File) Close() error {
	return d.f.Close()
}
