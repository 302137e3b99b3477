// Package collector enumerates the disks raidview scans: host block devices
// and configured image files.
package collector

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/sigreer/raidview/internal/cache"
	"github.com/sigreer/raidview/internal/disk"
	"github.com/sigreer/raidview/internal/mlog"
)

// HostDriver lists whole host block devices by device path
type HostDriver struct {
	cache *cache.Cache
	log   *logrus.Entry
}

// NewHostDriver returns a host driver caching listings in c, or in the
// global cache when c is nil.
func NewHostDriver(c *cache.Cache) *HostDriver {
	if c == nil {
		c = cache.Global()
	}
	return &HostDriver{
		cache: c,
		log:   mlog.GetPackageLogger("collector"),
	}
}

func (d *HostDriver) Name() string {
	return "host"
}

// Devices returns the scannable disks sorted by path. lsblk is preferred;
// sysfs is the fallback. A forced refresh forgets earlier listings first, so
// a failed refresh leaves nothing stale behind.
func (d *HostDriver) Devices(forceRefresh bool) ([]*BlockDevice, error) {
	d.cache.Cleanup()
	if forceRefresh {
		d.cache.Delete(lsblkCacheKey)
		d.cache.Delete(sysfsCacheKey)
	}

	devices, err := CollectLsblk(d.cache, forceRefresh)
	if err != nil {
		d.log.WithError(err).Debug("lsblk unavailable, falling back to sysfs")
		devices = CollectSysfsDevices(d.cache, forceRefresh)
		if devices == nil {
			return nil, fmt.Errorf("no block device source: %w", err)
		}
	}

	var out []*BlockDevice
	for _, dev := range devices {
		if dev.Type != "disk" || isExcludedDevice(dev.Name) {
			continue
		}
		out = append(out, dev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Iterate lists fixed disks on PullNone, removable ones on PullRemovable
// and re-enumerates everything on PullRescan.
func (d *HostDriver) Iterate(pull disk.Pull, fn func(name string) bool) error {
	if pull >= disk.PullMax {
		return nil
	}
	devices, err := d.Devices(pull == disk.PullRescan)
	if err != nil {
		return err
	}
	for _, dev := range devices {
		switch {
		case pull == disk.PullNone && dev.Removable:
			continue
		case pull == disk.PullRemovable && !dev.Removable:
			continue
		}
		if !fn(dev.Path) {
			return nil
		}
	}
	return nil
}

func (d *HostDriver) Open(name string) (disk.Disk, error) {
	if !strings.HasPrefix(name, "/dev/") {
		return nil, fmt.Errorf("%w: %s", disk.ErrNoSuchDisk, name)
	}
	f, err := disk.OpenFile(name)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// isExcludedDevice returns true for device names we should skip
func isExcludedDevice(name string) bool {
	excludePrefixes := []string{
		"loop", // Loop devices
		"dm-",  // Device mapper, assembled by the kernel
		"md",   // MD RAID (we want underlying devices)
		"sr",   // CD/DVD
		"zram", // ZRAM swap
		"ram",  // RAM disks
		"fd",   // Floppy
	}

	for _, prefix := range excludePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
