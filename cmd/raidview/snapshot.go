package main

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/sigreer/raidview/internal/db"
	"github.com/sigreer/raidview/internal/volume"
)

// buildSnapshot captures what the catalog holds after a scan
func buildSnapshot(cat *volume.Catalog, started time.Time, scanErr error) *db.ScanSnapshot {
	snap := &db.ScanSnapshot{StartedAt: started, Err: scanErr}

	for _, vg := range cat.VGs() {
		a := db.ArraySnapshot{
			UUID:     arrayUUID(vg),
			Name:     vg.Name,
			Detector: vg.Detector,
		}
		for _, lv := range vg.LVs {
			if lv.FullName == "" {
				continue
			}
			a.Volumes = append(a.Volumes, db.VolumeSnapshot{
				Name:        lv.FullName,
				IDName:      lv.IDName,
				SizeSectors: int64(lv.Size),
				Visible:     lv.Visible,
				State:       volumeState(lv),
			})
		}
		for _, pv := range vg.PVs {
			a.Members = append(a.Members, memberSnapshot(pv))
		}
		snap.Arrays = append(snap.Arrays, a)
	}
	return snap
}

// arrayUUID keys an array by detector and group id, so formats can't clash
func arrayUUID(vg *volume.VolumeGroup) string {
	return vg.Detector + ":" + hex.EncodeToString(vg.UUID)
}

// volumeState reports a volume as degraded whenever one of the members it
// maps onto is missing, even if redundancy still makes it fully readable.
func volumeState(lv *volume.LogicalVolume) string {
	switch {
	case !volume.IsLVReadable(lv, false):
		return db.StateUnreadable
	case !volume.IsLVReadable(lv, true) || missingMember(lv, 0):
		return db.StateDegraded
	default:
		return db.StateReadable
	}
}

// maxNesting bounds the walk through stacked volumes
const maxNesting = 16

func missingMember(lv *volume.LogicalVolume, depth int) bool {
	if lv == nil || depth > maxNesting {
		return true
	}
	for _, seg := range lv.Segments {
		for _, n := range seg.Nodes {
			switch n := n.(type) {
			case volume.PVNode:
				if n.PV == nil || !n.PV.Present() {
					return true
				}
			case volume.LVNode:
				if missingMember(n.LV, depth+1) {
					return true
				}
			default:
				return true
			}
		}
	}
	return false
}

func memberSnapshot(pv *volume.PhysicalVolume) db.MemberSnapshot {
	m := db.MemberSnapshot{
		Slot:    pv.Name,
		Present: pv.Present(),
	}
	if pv.ID != nil {
		m.MemberID = pv.ID.String()
	}
	if m.MemberID == "" {
		m.MemberID = pv.Name
	}
	if m.Slot == "" {
		m.Slot = m.MemberID
	}
	if pv.Disk != nil {
		m.DevicePath = pv.Disk.Name()
		m.PartTrail = strings.Join(pv.PartTrail, ",")
		m.StartSector = int64(pv.StartSector)
	}
	return m
}
