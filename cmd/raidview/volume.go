package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sigreer/raidview/internal/db"
	"github.com/sigreer/raidview/internal/disk"
	"github.com/sigreer/raidview/internal/volume"
)

// readChunk is how many sectors read copies at a time
const readChunk = 128

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List readable volumes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rescan, _ := cmd.Flags().GetBool("rescan")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cat := newCatalog(cfg, nil)
		defer cat.Close()

		return listVolumes(os.Stdout, cat, rescan)
	},
}

var membersCmd = &cobra.Command{
	Use:   "members <volume>",
	Short: "Show the member slots behind a volume",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cat := newCatalog(cfg, nil)
		defer cat.Close()

		return showMembers(os.Stdout, cat, args[0])
	},
}

var readCmd = &cobra.Command{
	Use:   "read <volume>",
	Short: "Dump sectors of a volume",
	Long: `Read sectors from an assembled volume. Without --out the data is
printed as a hex dump; with it the raw bytes are written to the file.

Degraded volumes are read through the remaining copies, or rebuilt from
parity when recovery is enabled in the config.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		offset, _ := cmd.Flags().GetUint64("offset")
		count, _ := cmd.Flags().GetUint64("count")
		out, _ := cmd.Flags().GetString("out")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cat := newCatalog(cfg, nil)
		defer cat.Close()

		var w io.Writer
		if out == "" {
			dumper := hex.Dumper(os.Stdout)
			defer dumper.Close()
			w = dumper
		} else {
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		return readVolume(w, cat, args[0], offset, count)
	},
}

func init() {
	listCmd.Flags().Bool("rescan", false, "Re-enumerate devices and list only volumes found by that scan")

	readCmd.Flags().Uint64("offset", 0, "first sector to read")
	readCmd.Flags().Uint64("count", 1, "number of sectors to read, 0 for the rest of the volume")
	readCmd.Flags().String("out", "", "write raw data to this file instead of a hex dump")
}

// listVolumes prints the catalog's visible readable volumes. Without rescan
// a full scan runs first and every volume is listed.
func listVolumes(w io.Writer, cat *volume.Catalog, rescan bool) error {
	pull := disk.PullNone
	if rescan {
		pull = disk.PullRescan
	} else if err := cat.ScanDevices(""); err != nil {
		return err
	}

	return cat.Iterate(pull, func(name string) bool {
		lv := cat.FindLV(name)
		state := db.StateUnknown
		if lv != nil {
			state = volumeState(lv)
		}
		fmt.Fprintf(w, "%-40s %s\n", name, state)
		return true
	})
}

func showMembers(w io.Writer, cat *volume.Catalog, name string) error {
	if err := cat.ScanDevices(name); err != nil {
		return err
	}
	members, err := cat.Members(name)
	if err != nil {
		return err
	}

	snaps := make([]db.MemberSnapshot, 0, len(members))
	for _, m := range members {
		s := db.MemberSnapshot{
			Slot:        m.Name,
			Present:     m.Present,
			DevicePath:  m.Disk,
			PartTrail:   strings.Join(m.Trail, ","),
			StartSector: int64(m.Start),
		}
		if s.Slot == "" && m.ID != nil {
			s.Slot = m.ID.String()
		}
		snaps = append(snaps, s)
	}
	printMembers(w, snaps)
	return nil
}

// readVolume copies count sectors from offset of the named volume to w.
// A zero count reads to the end.
func readVolume(w io.Writer, cat *volume.Catalog, name string, offset, count uint64) error {
	dev, err := cat.Open(name)
	if err != nil {
		return err
	}
	defer dev.Close()

	total := dev.Sectors()
	if offset > total {
		return fmt.Errorf("%w: offset %d past end of %s (%d sectors)", disk.ErrOutOfRange, offset, name, total)
	}
	if count == 0 {
		count = total - offset
	}

	buf := make([]byte, readChunk*disk.SectorSize)
	for count > 0 {
		n := min(count, uint64(readChunk))
		chunk := buf[:n*disk.SectorSize]
		if err := dev.ReadSectors(offset, chunk); err != nil {
			return fmt.Errorf("reading %s at sector %d: %w", name, offset, err)
		}
		if _, err := w.Write(chunk); err != nil {
			return err
		}
		offset += n
		count -= n
	}
	return nil
}
