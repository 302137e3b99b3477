package volume

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/sigreer/raidview/internal/disk"
	"github.com/sigreer/raidview/internal/mlog"
)

// maxScanDepth bounds both disk scan recursion and nested rescans
const maxScanDepth = 100

// StartFromMetadata asks insertArray to keep the data start the detector
// recorded on the member slot, relative to the partition.
const StartFromMetadata = ^uint64(0)

// Detector recognises members of one array format
type Detector interface {
	Name() string
	// Detect returns nil, nil when cand isn't a member of this format
	Detect(cat *Catalog, cand *Candidate) (*Detection, error)
}

// KeyRecoverer is implemented by detectors that assemble keys for a group
// out of band; it runs once, after the group is first registered.
type KeyRecoverer interface {
	RecoverKey(cand *Candidate, vg *VolumeGroup) error
}

// Detection is a detector's verdict on a member
type Detection struct {
	// VG is either a new group or one already in the catalog
	VG *VolumeGroup
	// Member identifies the slot of VG the candidate fills
	Member PVID
	// Start is the data start in sectors relative to the partition, or
	// StartFromMetadata
	Start uint64
}

// Candidate is a (disk, partition) pair offered to detectors. Reads are
// relative to the partition.
type Candidate struct {
	Driver    disk.Driver
	Disk      disk.Disk
	Partition *disk.Partition
	// Filter is the volume name being looked for, if any. Detectors may
	// skip groups whose id can't match it.
	Filter string

	section *disk.Section
}

// NewCandidate wraps partition p of d, or the whole disk when p is nil
func NewCandidate(drv disk.Driver, d disk.Disk, p *disk.Partition, filter string) *Candidate {
	return &Candidate{
		Driver:    drv,
		Disk:      d,
		Partition: p,
		Filter:    filter,
		section:   disk.NewSection(d, p),
	}
}

// Name returns the disk name with the partition suffix, e.g. "sda,msdos1"
func (c *Candidate) Name() string {
	if c.Partition == nil {
		return c.Disk.Name()
	}
	return c.Disk.Name() + "," + c.Partition.Trail()
}

// Start is the partition's first sector on the disk
func (c *Candidate) Start() uint64 {
	return c.section.Start
}

// Sectors is the size of the partition, or the disk
func (c *Candidate) Sectors() uint64 {
	return c.section.Count
}

func (c *Candidate) ReadSectors(sector uint64, buf []byte) error {
	return c.section.ReadSectors(sector, buf)
}

func (c *Candidate) trail() []string {
	if c.Partition == nil {
		return nil
	}
	return []string{c.Partition.Trail()}
}

// ScanDevices probes every disk of every registered driver across all pull
// classes. A non-empty target stops the walk as soon as that volume is
// fully readable. Volumes that become readable are then probed themselves
// until no new nested volume appears.
func (c *Catalog) ScanDevices(target string) error {
	log := mlog.GetMethodLogger(c.log, "Catalog.ScanDevices").WithField("target", target)

	for pull := disk.PullNone; pull < disk.PullMax; pull++ {
		for _, drv := range c.drivers {
			err := drv.Iterate(pull, func(name string) bool {
				c.scanDisk(drv, name, target, false)
				return true
			})
			if err != nil {
				log.WithError(err).WithFields(logrus.Fields{
					"driver": drv.Name(),
					"pull":   pull.String(),
				}).Warn("device iteration failed")
			}
			if target != "" && IsLVReadable(c.FindLV(target), true) {
				return nil
			}
		}
	}

	for {
		if err := c.scanNested(target); err != nil {
			return err
		}
		if c.stampDegraded() == 0 {
			return nil
		}
	}
}

// scanNested probes readable, not yet scanned volumes as disks of their own
// until a pass finds nothing new.
func (c *Catalog) scanNested(target string) error {
	drv := c.Driver()
	for depth := 0; ; depth++ {
		var pending []*LogicalVolume
		for _, vg := range c.vgs {
			for _, lv := range vg.LVs {
				if !lv.Scanned && lv.FullName != "" && lv.BecameReadableAt != 0 {
					pending = append(pending, lv)
				}
			}
		}
		if len(pending) == 0 {
			return nil
		}
		if depth >= maxScanDepth {
			return fmt.Errorf("%w: %d volumes still pending", ErrScanDepthExceeded, len(pending))
		}
		for _, lv := range pending {
			lv.Scanned = true
			c.scanDisk(drv, lv.FullName, target, true)
		}
	}
}

// scanDisk offers the whole disk and each of its partitions to the detectors.
// Errors are logged and dropped so one bad device never stops a scan.
func (c *Catalog) scanDisk(drv disk.Driver, name, target string, acceptVirtual bool) {
	log := c.log.WithFields(logrus.Fields{"driver": drv.Name(), "disk": name})

	if !acceptVirtual && IsVirtualName(name) {
		return
	}
	if c.scanDepth >= maxScanDepth {
		log.Warn("scan recursion limit reached")
		return
	}
	c.scanDepth++
	defer func() { c.scanDepth-- }()

	d, err := drv.Open(name)
	if err != nil {
		log.WithError(err).Debug("cannot open disk")
		return
	}
	defer d.Close()

	c.scanCandidate(NewCandidate(drv, d, nil, target), log)

	parts, err := disk.Partitions(d)
	if err != nil {
		log.WithError(err).Debug("cannot read partition table")
		return
	}
	for i := range parts {
		c.scanCandidate(NewCandidate(drv, d, &parts[i], target), log)
	}
}

func (c *Catalog) scanCandidate(cand *Candidate, log *logrus.Entry) {
	if c.isKnownMember(cand) {
		return
	}
	for _, det := range c.detectors {
		res, err := det.Detect(c, cand)
		if err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"detector":  det.Name(),
				"candidate": cand.Name(),
			}).Debug("detector failed")
			continue
		}
		if res == nil {
			continue
		}
		if err := c.insertArray(cand, res, det); err != nil {
			log.WithError(err).WithField("candidate", cand.Name()).Warn("cannot insert member")
		}
		return
	}
}

// isKnownMember reports whether cand already backs a member slot
func (c *Catalog) isKnownMember(cand *Candidate) bool {
	for _, vg := range c.vgs {
		for _, pv := range vg.PVs {
			if pv.Disk != nil &&
				pv.DriverName == cand.Driver.Name() &&
				pv.Disk.Name() == cand.Disk.Name() &&
				pv.PartStart == cand.Start() &&
				pv.PartSize == cand.Sectors() {
				return true
			}
		}
	}
	return false
}

// insertArray records cand as the member res.Member of res.VG, registering
// the group if it is new. A slot that already has a disk is only replaced
// by a larger candidate.
func (c *Catalog) insertArray(cand *Candidate, res *Detection, det Detector) error {
	vg := res.VG
	if vg == nil {
		return errors.New("detection without volume group")
	}

	fresh := !c.hasVG(vg)
	if fresh {
		vg.Detector = det.Name()
		if err := c.RegisterVG(vg); err != nil {
			return err
		}
	}

	log := c.log.WithFields(logrus.Fields{
		"vg":        vg.Name,
		"member":    res.Member.String(),
		"candidate": cand.Name(),
	})

	pv := findPV(vg, res.Member)
	switch {
	case pv == nil:
		log.Debug("no slot for member")
	case pv.Disk != nil && pv.PartSize >= cand.Sectors():
		log.Debug("member already present")
	default:
		d, err := cand.Driver.Open(cand.Disk.Name())
		if err != nil {
			return fmt.Errorf("reopening %s: %w", cand.Name(), err)
		}
		if pv.Disk != nil {
			pv.Disk.Close()
		}
		pv.Disk = d
		pv.DriverName = cand.Driver.Name()

		pv.StartSector -= pv.PartStart
		pv.PartStart = cand.Start()
		pv.PartSize = cand.Sectors()
		pv.PartTrail = cand.trail()
		if res.Start != StartFromMetadata {
			pv.StartSector = res.Start
		}
		pv.StartSector += pv.PartStart

		log.WithField("start", pv.StartSector).Debug("inserted member")
		c.stampReadable(vg, true)
	}

	if fresh {
		if kr, ok := det.(KeyRecoverer); ok {
			if err := kr.RecoverKey(cand, vg); err != nil {
				log.WithError(err).Warn("key recovery failed")
			}
		}
	}
	return nil
}

func findPV(vg *VolumeGroup, id PVID) *PhysicalVolume {
	if id == nil {
		return nil
	}
	for _, pv := range vg.PVs {
		if pv.ID != nil && pv.ID.Equal(id) {
			return pv
		}
	}
	return nil
}

// stampReadable gives each named volume of vg that has just become readable
// the next insertion sequence number. It returns how many were stamped.
func (c *Catalog) stampReadable(vg *VolumeGroup, strict bool) int {
	stamped := 0
	for _, lv := range vg.LVs {
		if lv.BecameReadableAt != 0 || lv.FullName == "" || !IsLVReadable(lv, strict) {
			continue
		}
		c.insertSeq++
		lv.BecameReadableAt = c.insertSeq
		stamped++
		c.log.WithFields(logrus.Fields{
			"lv":       lv.FullName,
			"seq":      lv.BecameReadableAt,
			"degraded": !strict,
		}).Info("volume became readable")
	}
	return stamped
}

// stampDegraded stamps volumes that can only be read degraded, once a full
// scan has had the chance to find their missing members.
func (c *Catalog) stampDegraded() int {
	stamped := 0
	for _, vg := range c.vgs {
		stamped += c.stampReadable(vg, false)
	}
	return stamped
}
