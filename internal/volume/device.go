package volume

import (
	"fmt"
	"strings"

	"github.com/sigreer/raidview/internal/disk"
)

// DriverName is the name the catalog's own devices are listed under
const DriverName = "volume"

// virtualPrefixes are the namespaces of catalog-produced devices
var virtualPrefixes = []string{
	"md/", "mduuid/",
	"lvm/", "lvmid/",
	"static/", "staticid/",
}

// IsVirtualName reports whether name belongs to a catalog device namespace
func IsVirtualName(name string) bool {
	for _, p := range virtualPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// Device is an open handle on a logical volume
type Device struct {
	LV     *LogicalVolume
	ID     uint64
	Total  uint64
	cat    *Catalog
	opened string
}

// Open resolves name to a readable volume, scanning for it if it isn't
// catalogued yet.
func (c *Catalog) Open(name string) (*Device, error) {
	if !IsVirtualName(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, name)
	}

	lv := c.findReadable(name)
	if lv == nil {
		if err := c.ScanDevices(name); err != nil {
			c.log.WithError(err).WithField("name", name).Warn("scan failed")
		}
		lv = c.findReadable(name)
	}
	if lv == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, name)
	}
	return c.device(lv, name), nil
}

func (c *Catalog) device(lv *LogicalVolume, name string) *Device {
	return &Device{
		LV:     lv,
		ID:     lv.Number,
		Total:  lv.Size,
		cat:    c,
		opened: name,
	}
}

func (d *Device) Name() string {
	return d.opened
}

func (d *Device) Sectors() uint64 {
	return d.Total
}

func (d *Device) ReadSectors(sector uint64, buf []byte) error {
	n, err := disk.Sectors(buf)
	if err != nil {
		return err
	}
	if err := disk.CheckRange(d.opened, sector, n, d.Total); err != nil {
		return err
	}
	return d.cat.ReadLV(d.LV, sector, buf)
}

// WriteSectors always fails; volumes are read-only
func (d *Device) WriteSectors(sector uint64, buf []byte) error {
	return fmt.Errorf("%w: write to %s", ErrNotImplemented, d.opened)
}

// Close is a no-op; everything a device uses belongs to the catalog
func (d *Device) Close() error {
	return nil
}

// Iterate calls fn with the name of each visible readable volume. A
// PullRescan first rescans every driver and then reports only volumes that
// became readable during that scan. Other pull classes list nothing.
func (c *Catalog) Iterate(pull disk.Pull, fn func(name string) bool) error {
	epoch := uint64(1)
	switch pull {
	case disk.PullNone:
	case disk.PullRescan:
		epoch = c.insertSeq + 1
		if err := c.ScanDevices(""); err != nil {
			return err
		}
	default:
		return nil
	}

	for _, vg := range c.vgs {
		for _, lv := range vg.LVs {
			if !lv.Visible || lv.FullName == "" || lv.BecameReadableAt < epoch {
				continue
			}
			if !fn(lv.FullName) {
				return nil
			}
		}
	}
	return nil
}

// Member describes one slot of a volume's group
type Member struct {
	Name    string
	ID      PVID
	Present bool
	Disk    string
	Start   uint64
	Trail   []string
}

// Members lists the member slots behind the named volume, scanning first if
// any of them is missing.
func (c *Catalog) Members(name string) ([]Member, error) {
	lv := c.FindLV(name)
	if lv == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, name)
	}

	for _, pv := range lv.VG.PVs {
		if !pv.Present() {
			if err := c.ScanDevices(""); err != nil {
				return nil, err
			}
			break
		}
	}

	members := make([]Member, 0, len(lv.VG.PVs))
	for _, pv := range lv.VG.PVs {
		m := Member{
			Name:    pv.Name,
			ID:      pv.ID,
			Present: pv.Present(),
			Start:   pv.StartSector,
			Trail:   pv.PartTrail,
		}
		if pv.Disk != nil {
			m.Disk = pv.Disk.Name()
		}
		members = append(members, m)
	}
	return members, nil
}

// Driver exposes the catalog's volumes as a disk driver, so volumes can be
// scanned for nested arrays. Unlike Catalog.Open its Open never scans.
func (c *Catalog) Driver() disk.Driver {
	return catalogDriver{c}
}

type catalogDriver struct {
	cat *Catalog
}

func (d catalogDriver) Name() string {
	return DriverName
}

func (d catalogDriver) Iterate(pull disk.Pull, fn func(name string) bool) error {
	return d.cat.Iterate(pull, fn)
}

func (d catalogDriver) Open(name string) (disk.Disk, error) {
	lv := d.cat.findReadable(name)
	if lv == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, name)
	}
	return d.cat.device(lv, name), nil
}
