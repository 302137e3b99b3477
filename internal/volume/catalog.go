package volume

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/sigreer/raidview/internal/disk"
	"github.com/sigreer/raidview/internal/mlog"
)

// Catalog owns every assembled group and the state the prober mutates.
// It is not safe for concurrent use.
type Catalog struct {
	vgs       []*VolumeGroup
	drivers   []disk.Driver
	detectors []Detector

	raid5 RAID5Recoverer
	raid6 RAID6Recoverer

	insertSeq    uint64
	nextLVNumber uint64
	scanDepth    int
	readDepth    int

	log *logrus.Entry
}

// New returns an empty catalog. A nil log uses the package logger.
func New(log *logrus.Entry) *Catalog {
	if log == nil {
		log = mlog.GetPackageLogger("volume")
	}
	return &Catalog{log: log}
}

// AddDriver registers a physical disk driver for scanning
func (c *Catalog) AddDriver(d disk.Driver) {
	c.drivers = append(c.drivers, d)
}

// AddDetector registers a format detector; detectors are tried in the order
// they were added.
func (c *Catalog) AddDetector(d Detector) {
	c.detectors = append(c.detectors, d)
}

// SetRAID5Recovery installs or, with nil, removes the raid4/5 hook
func (c *Catalog) SetRAID5Recovery(r RAID5Recoverer) {
	c.raid5 = r
}

// SetRAID6Recovery installs or, with nil, removes the raid6 hook
func (c *Catalog) SetRAID6Recovery(r RAID6Recoverer) {
	c.raid6 = r
}

// InsertSeq returns the current insertion sequence
func (c *Catalog) InsertSeq() uint64 {
	return c.insertSeq
}

// VGs returns the catalogued groups in registration order
func (c *Catalog) VGs() []*VolumeGroup {
	return c.vgs
}

// VGByUUID returns the group with the given uuid, or nil
func (c *Catalog) VGByUUID(id []byte) *VolumeGroup {
	for _, vg := range c.vgs {
		if bytes.Equal(vg.UUID, id) {
			return vg
		}
	}
	return nil
}

func (c *Catalog) hasVG(vg *VolumeGroup) bool {
	for _, v := range c.vgs {
		if v == vg {
			return true
		}
	}
	return false
}

// RegisterVG adds a new group to the catalog. Volumes whose segments are
// malformed are dropped from the group; the rest are numbered and kept.
func (c *Catalog) RegisterVG(vg *VolumeGroup) error {
	if len(vg.UUID) == 0 {
		return fmt.Errorf("volume group %q has no uuid", vg.Name)
	}
	if c.VGByUUID(vg.UUID) != nil {
		return fmt.Errorf("volume group %q: uuid %x already registered", vg.Name, vg.UUID)
	}
	if vg.ExtentSize == 0 {
		return fmt.Errorf("%w: volume group %q has zero extent size", ErrBadGeometry, vg.Name)
	}

	lvs := vg.LVs[:0]
	for _, lv := range vg.LVs {
		if err := validateLV(vg, lv); err != nil {
			c.log.WithError(err).WithField("lv", lv.Name).Warn("dropping logical volume")
			continue
		}
		lv.VG = vg
		lv.Number = c.nextLVNumber
		c.nextLVNumber++
		lvs = append(lvs, lv)
	}
	vg.LVs = lvs

	c.vgs = append(c.vgs, vg)
	c.log.WithFields(logrus.Fields{
		"vg":       vg.Name,
		"uuid":     fmt.Sprintf("%x", vg.UUID),
		"detector": vg.Detector,
		"pvs":      len(vg.PVs),
		"lvs":      len(vg.LVs),
	}).Debug("registered volume group")
	return nil
}

// validateLV checks segment ordering and per-type layout minimums, and
// fills in the size when the detector left it zero.
func validateLV(vg *VolumeGroup, lv *LogicalVolume) error {
	if len(lv.Segments) == 0 {
		return fmt.Errorf("%w: %s has no segments", ErrBadGeometry, lv.Name)
	}
	sort.SliceStable(lv.Segments, func(i, j int) bool {
		return lv.Segments[i].StartExtent < lv.Segments[j].StartExtent
	})

	var end uint64
	for i := range lv.Segments {
		seg := &lv.Segments[i]
		if i > 0 && seg.StartExtent < lv.Segments[i-1].endExtent() {
			return fmt.Errorf("%w: %s segment %d overlaps its predecessor", ErrBadGeometry, lv.Name, i)
		}
		if err := validateSegment(seg); err != nil {
			return fmt.Errorf("%s segment %d: %w", lv.Name, i, err)
		}
		end = seg.endExtent()
	}

	if lv.Size == 0 {
		lv.Size = end * vg.ExtentSize
	}
	if lv.Size > end*vg.ExtentSize {
		return fmt.Errorf("%w: %s size %d beyond last extent", ErrBadGeometry, lv.Name, lv.Size)
	}
	return nil
}

func validateSegment(seg *Segment) error {
	count := uint64(len(seg.Nodes))
	if count == 0 || seg.ExtentCount == 0 {
		return fmt.Errorf("%w: empty segment", ErrBadGeometry)
	}

	switch seg.Type {
	case Striped:
		if count > 1 && seg.StripeSize == 0 {
			return fmt.Errorf("%w: striped segment without stripe size", ErrBadGeometry)
		}
	case Mirror:
	case RAID4, RAID5, RAID6:
		if count <= seg.Type.parityCount() {
			return fmt.Errorf("%w: %s needs more than %d nodes", ErrBadGeometry, seg.Type, seg.Type.parityCount())
		}
		if seg.StripeSize == 0 {
			return fmt.Errorf("%w: %s segment without stripe size", ErrBadGeometry, seg.Type)
		}
	case RAID10:
		if seg.StripeSize == 0 {
			return fmt.Errorf("%w: raid10 segment without stripe size", ErrBadGeometry)
		}
		if seg.near() > count || seg.redundancy() == 0 || seg.redundancy() > count {
			return fmt.Errorf("%w: raid10 layout %#x over %d nodes", ErrBadGeometry, seg.Layout, count)
		}
		if seg.far() > 1 && !seg.offsetLayout() && seg.RaidMemberSize < seg.far()*seg.StripeSize {
			return fmt.Errorf("%w: raid10 far layout without member size", ErrBadGeometry)
		}
	}
	// unknown types are kept; reading them fails with ErrNotImplemented
	return nil
}

// FindLV returns the volume whose full name or id name is name, ignoring
// readability.
func (c *Catalog) FindLV(name string) *LogicalVolume {
	for _, vg := range c.vgs {
		for _, lv := range vg.LVs {
			if lv.FullName != "" && lv.FullName == name || lv.IDName != "" && lv.IDName == name {
				return lv
			}
		}
	}
	return nil
}

// findReadable is FindLV restricted to volumes that can be read, possibly
// degraded.
func (c *Catalog) findReadable(name string) *LogicalVolume {
	lv := c.FindLV(name)
	if lv == nil || !IsLVReadable(lv, false) {
		return nil
	}
	return lv
}

// Close closes every member disk and empties the catalog
func (c *Catalog) Close() error {
	var firstErr error
	for _, vg := range c.vgs {
		for _, pv := range vg.PVs {
			if pv.Disk == nil {
				continue
			}
			if err := pv.Disk.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("closing %s: %w", pv.Name, err)
			}
			pv.Disk = nil
		}
	}
	c.vgs = nil
	return firstErr
}
