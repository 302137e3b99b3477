package volume

// IsLVReadable reports whether enough members of lv are present to read it.
// In strict mode every member a layout can use must be present; otherwise
// parity layouts may be missing as many members as they have parity disks.
// A volume reached again through its own nodes counts as unreadable.
func IsLVReadable(lv *LogicalVolume, strict bool) bool {
	return lvReadable(lv, strict, nil)
}

func lvReadable(lv *LogicalVolume, strict bool, path []*LogicalVolume) bool {
	if lv == nil || onPath(path, lv) {
		return false
	}
	path = append(path, lv)

	for i := range lv.Segments {
		seg := &lv.Segments[i]
		need := seg.need(strict)
		var have uint64
		for _, n := range seg.Nodes {
			if have >= need {
				break
			}
			if nodePresent(n, strict, path) {
				have++
			}
		}
		if have < need {
			return false
		}
	}
	return true
}

// need is the number of present nodes a segment requires
func (s *Segment) need(strict bool) uint64 {
	count := uint64(len(s.Nodes))
	switch s.Type {
	case Mirror:
		return 1
	case RAID4, RAID5, RAID6:
		if strict {
			return count
		}
		n := s.Type.parityCount()
		if count <= n {
			return count
		}
		return count - n
	case RAID10:
		r := s.redundancy()
		if r == 0 || r > count {
			return count
		}
		return count - r + 1
	}
	return count
}

func nodePresent(n Node, strict bool, path []*LogicalVolume) bool {
	switch n := n.(type) {
	case PVNode:
		return n.PV != nil && n.PV.Present()
	case LVNode:
		return lvReadable(n.LV, strict, path)
	}
	return false
}

func onPath(path []*LogicalVolume, lv *LogicalVolume) bool {
	for _, p := range path {
		if p == lv {
			return true
		}
	}
	return false
}
