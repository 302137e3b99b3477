package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sigreer/raidview/internal/db"
	"github.com/sigreer/raidview/internal/disk"
)

var scanCmd = &cobra.Command{
	Use:   "scan [images...]",
	Short: "Find and assemble arrays",
	Long: `Probe every disk, and any image given as an argument, for RAID and LVM
members. Prints each array with its volumes, their readiness and which
members were found.

With --record the result is stored in the scan journal and every volume
state change since the previous recorded scan becomes an event.`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().Bool("json", false, "Output as JSON")
	scanCmd.Flags().Bool("record", false, "Record the scan in the journal")
}

func runScan(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")
	record, _ := cmd.Flags().GetBool("record")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cat := newCatalog(cfg, args)
	defer cat.Close()

	started := time.Now()
	scanErr := cat.ScanDevices("")
	snap := buildSnapshot(cat, started, scanErr)

	if record {
		database, err := openJournal(cfg)
		if err != nil {
			return err
		}
		defer database.Close()
		if _, err := database.RecordScan(snap); err != nil {
			return fmt.Errorf("recording scan: %w", err)
		}
	}

	if jsonOut {
		if err := writeJSON(os.Stdout, snap); err != nil {
			return err
		}
	} else {
		printScan(os.Stdout, snap)
	}
	return scanErr
}

func printScan(w io.Writer, snap *db.ScanSnapshot) {
	if len(snap.Arrays) == 0 {
		fmt.Fprintln(w, "No arrays found.")
		return
	}

	for i, a := range snap.Arrays {
		if i > 0 {
			fmt.Fprintln(w)
		}
		present := 0
		for _, m := range a.Members {
			if m.Present {
				present++
			}
		}
		fmt.Fprintf(w, "%s (%s) %d/%d members\n", a.Name, a.Detector, present, len(a.Members))
		fmt.Fprintln(w, strings.Repeat("-", 72))

		for _, v := range a.Volumes {
			hidden := ""
			if !v.Visible {
				hidden = " (hidden)"
			}
			fmt.Fprintf(w, "  %-36s %10s  %s%s\n",
				v.Name, humanize.IBytes(uint64(v.SizeSectors)*disk.SectorSize), strings.ToUpper(v.State), hidden)
		}
		printMembers(w, a.Members)
	}
}

func printMembers(w io.Writer, members []db.MemberSnapshot) {
	fmt.Fprintf(w, "  %-16s %-8s %-24s %s\n", "SLOT", "STATE", "DEVICE", "START")
	for _, m := range members {
		state := "present"
		device, start := "-", "-"
		if !m.Present {
			state = "MISSING"
		} else {
			device = m.DevicePath
			if m.PartTrail != "" {
				device += "," + m.PartTrail
			}
			start = fmt.Sprintf("%d", m.StartSector)
		}
		fmt.Fprintf(w, "  %-16s %-8s %-24s %s\n", m.Slot, state, device, start)
	}
}
