package volume

import (
	"fmt"

	"github.com/sigreer/raidview/internal/disk"
)

// ReadLV fills buf from lv starting at sector
func (c *Catalog) ReadLV(lv *LogicalVolume, sector uint64, buf []byte) error {
	return c.readLV(lv, sector, buf, nil)
}

func (c *Catalog) readLV(lv *LogicalVolume, sector uint64, buf []byte, path []*LogicalVolume) error {
	if lv == nil || lv.VG == nil {
		return ErrUnknownDevice
	}
	if onPath(path, lv) {
		return fmt.Errorf("%w: %s", ErrCyclicGraph, lv.FullName)
	}
	// members backed by catalog devices re-enter through Device and start
	// a fresh path, so depth is bounded as well
	if c.readDepth >= maxScanDepth {
		return fmt.Errorf("%w: %s nested deeper than %d", ErrCyclicGraph, lv.FullName, maxScanDepth)
	}
	c.readDepth++
	defer func() { c.readDepth-- }()
	path = append(path, lv)

	size, err := disk.Sectors(buf)
	if err != nil {
		return err
	}
	extentSize := lv.VG.ExtentSize

	for size > 0 {
		seg := lv.segmentAt(sector / extentSize)
		if seg == nil {
			return fmt.Errorf("%w: incorrect segment for sector %d of %s", ErrBadGeometry, sector, lv.Name)
		}

		segStart := seg.StartExtent * extentSize
		n := min(seg.endExtent()*extentSize-sector, size)
		chunk := buf[:n*disk.SectorSize]
		if err := c.readSegment(seg, sector-segStart, chunk, path); err != nil {
			return err
		}

		buf = buf[len(chunk):]
		sector += n
		size -= n
	}
	return nil
}

func (lv *LogicalVolume) segmentAt(extent uint64) *Segment {
	for i := range lv.Segments {
		seg := &lv.Segments[i]
		if extent >= seg.StartExtent && extent < seg.endExtent() {
			return seg
		}
	}
	return nil
}

func (c *Catalog) readSegment(seg *Segment, sector uint64, buf []byte, path []*LogicalVolume) error {
	switch seg.Type {
	case Striped:
		if len(seg.Nodes) == 1 {
			return c.readNode(seg.Nodes[0], sector, buf, path)
		}
		return c.readReplicated(seg, sector, buf, path)
	case Mirror, RAID10:
		return c.readReplicated(seg, sector, buf, path)
	case RAID4, RAID5, RAID6:
		return c.readParity(seg, sector, buf, path)
	}
	return fmt.Errorf("%w: raid type %d", ErrNotImplemented, int(seg.Type))
}

// readReplicated serves striped, mirror and raid10 segments one chunk at a
// time, trying each placement of the chunk until one member succeeds.
func (c *Catalog) readReplicated(seg *Segment, sector uint64, buf []byte, path []*LogicalVolume) error {
	var scratch [8]Placement
	for len(buf) > 0 {
		places, left := seg.Replicas(scratch[:0], sector)
		n := min(left, uint64(len(buf)/disk.SectorSize))
		chunk := buf[:n*disk.SectorSize]

		var err error
		for _, p := range places {
			err = c.readNode(seg.Nodes[p.Node], p.Sector, chunk, path)
			if err == nil {
				break
			}
			if !isMemberFailure(err) {
				return err
			}
			c.log.WithError(err).WithField("node", p.Node).Debug("falling through to next copy")
		}
		if err != nil {
			return fmt.Errorf("no readable copy of sector %d: %w", sector, err)
		}

		buf = buf[len(chunk):]
		sector += n
	}
	return nil
}

// readParity serves raid4/5/6 segments, escalating member failures to the
// recovery hooks.
func (c *Catalog) readParity(seg *Segment, sector uint64, buf []byte, path []*LogicalVolume) error {
	for len(buf) > 0 {
		loc := seg.Locate(sector)
		n := min(loc.Left, uint64(len(buf)/disk.SectorSize))
		chunk := buf[:n*disk.SectorSize]

		err := c.readNode(seg.Nodes[loc.Node], loc.Sector, chunk, path)
		if err != nil {
			if !isMemberFailure(err) {
				return err
			}
			c.log.WithError(err).WithField("node", loc.Node).Debug("recovering chunk")
			if err := c.recover(seg, loc, chunk, path); err != nil {
				return err
			}
		}

		buf = buf[len(chunk):]
		sector += n
	}
	return nil
}

func (c *Catalog) recover(seg *Segment, loc ParityPlacement, buf []byte, path []*LogicalVolume) error {
	r := nodeReader{cat: c, path: path}
	if seg.Type == RAID6 {
		if c.raid6 == nil {
			return fmt.Errorf("%w: raid6 member %d", ErrRecoveryModuleMissing, loc.Node)
		}
		return c.raid6.RecoverRAID6(r, seg, loc.Node, loc.Parity, buf, loc.Sector)
	}
	if c.raid5 == nil {
		return fmt.Errorf("%w: %s member %d", ErrRecoveryModuleMissing, seg.Type, loc.Node)
	}
	return c.raid5.RecoverRAID5(r, seg, loc.Node, buf, loc.Sector)
}

func (c *Catalog) readNode(n Node, sector uint64, buf []byte, path []*LogicalVolume) error {
	switch n := n.(type) {
	case PVNode:
		if n.PV == nil {
			return fmt.Errorf("%w: %s", ErrUnknownNode, n.Name)
		}
		if n.PV.Disk == nil {
			return fmt.Errorf("%w: %s", ErrMemberMissing, n.PV.Name)
		}
		if err := n.PV.Disk.ReadSectors(n.Start+n.PV.StartSector+sector, buf); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrReadFailed, n.PV.Name, err)
		}
		return nil
	case LVNode:
		if n.LV == nil {
			return fmt.Errorf("%w: %s", ErrUnknownNode, n.Name)
		}
		return c.readLV(n.LV, n.Start+sector, buf, path)
	}
	return ErrUnknownNode
}
