package collector

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sigreer/raidview/internal/cache"
)

const sysfsCacheKey = "collector:sysfs"

// sysfsRoot is where block devices are listed; tests point it elsewhere
var sysfsRoot = "/sys/block"

// CollectSysfsDevices lists block devices purely from sysfs, for hosts
// without lsblk. It returns nil if sysfs can't be read.
func CollectSysfsDevices(c *cache.Cache, forceRefresh bool) map[string]*BlockDevice {
	if !forceRefresh {
		if cached := c.Get(sysfsCacheKey); cached != nil {
			return cached.(map[string]*BlockDevice)
		}
	}

	entries, err := os.ReadDir(sysfsRoot)
	if err != nil {
		return nil
	}

	devices := make(map[string]*BlockDevice)
	for _, entry := range entries {
		if dev := collectSysfsDevice(entry.Name()); dev != nil {
			devices[dev.Name] = dev
		}
	}

	c.SetSysfs(sysfsCacheKey, devices)
	return devices
}

// collectSysfsDevice gathers data for a single device from sysfs
func collectSysfsDevice(name string) *BlockDevice {
	blockPath := filepath.Join(sysfsRoot, name)

	sectors, ok := readSysfsInt(filepath.Join(blockPath, "size"))
	if !ok {
		return nil
	}
	dev := &BlockDevice{
		Name:      name,
		Path:      "/dev/" + name,
		SizeBytes: sectors * 512,
		Type:      "disk",
		Source:    "sysfs",
	}

	if rm, ok := readSysfsInt(filepath.Join(blockPath, "removable")); ok {
		dev.Removable = rm != 0
	}
	if ro, ok := readSysfsInt(filepath.Join(blockPath, "ro")); ok {
		dev.ReadOnly = ro != 0
	}
	if data, err := os.ReadFile(filepath.Join(blockPath, "device", "model")); err == nil {
		if model := strings.TrimSpace(string(data)); model != "" {
			dev.Model = &model
		}
	}
	return dev
}

func readSysfsInt(path string) (int64, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	return n, err == nil
}
