//go:build linux

package disk

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// fileSize returns the size in bytes of a regular file or block device
func fileSize(f *os.File) (int64, error) {
	var stat unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &stat); err != nil {
		return 0, fmt.Errorf("calling fstat: %w", err)
	}

	if stat.Mode&unix.S_IFMT != unix.S_IFBLK {
		return stat.Size, nil
	}

	var size uint64
	_, _, errno := unix.Syscall(
		unix.SYS_IOCTL,
		f.Fd(),
		unix.BLKGETSIZE64,
		uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return 0, fmt.Errorf("calling ioctl BLKGETSIZE64: %w", errors.New(errno.Error()))
	}
	if size == 0 {
		return 0, fmt.Errorf("block device size is invalid")
	}

	return int64(size), nil
}
