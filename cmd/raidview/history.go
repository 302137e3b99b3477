package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sigreer/raidview/internal/db"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show readiness events from the scan journal",
	Long: `Show volume and member state changes recorded by 'raidview scan --record'.

Events:
  discovered       a volume was seen for the first time
  readable         a volume became fully readable
  degraded         a volume is readable only through redundancy
  unreadable       a volume can no longer be read
  member_missing   a member slot has no device
  member_returned  a missing member was found again`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().Int("limit", 50, "Maximum number of events to show")
	historyCmd.Flags().String("type", "", "Filter by event type")
	historyCmd.Flags().String("volume", "", "Only show events for this volume or member")
	historyCmd.Flags().Bool("scans", false, "List recorded scans instead of events")
	historyCmd.Flags().Bool("json", false, "Output as JSON")
}

func runHistory(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	eventType, _ := cmd.Flags().GetString("type")
	subject, _ := cmd.Flags().GetString("volume")
	scans, _ := cmd.Flags().GetBool("scans")
	jsonOut, _ := cmd.Flags().GetBool("json")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	if scans {
		records, err := database.GetScans(limit)
		if err != nil {
			return err
		}
		if jsonOut {
			return writeJSON(os.Stdout, records)
		}
		printScans(os.Stdout, records)
		return nil
	}

	var events []*db.Event
	switch {
	case subject != "":
		events, err = database.GetSubjectEvents(subject, limit)
	case eventType != "":
		events, err = database.GetEventsByType(eventType, limit)
	default:
		events, err = database.GetRecentEvents(limit)
	}
	if err != nil {
		return err
	}

	if jsonOut {
		return writeJSON(os.Stdout, events)
	}
	printEvents(os.Stdout, events)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printEvents(w io.Writer, events []*db.Event) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No events found. Run 'raidview scan --record' to populate.")
		return
	}

	fmt.Fprintf(w, "%-20s %-16s %-11s %-11s %s\n", "TIMESTAMP", "TYPE", "OLD", "NEW", "SUBJECT")
	fmt.Fprintln(w, strings.Repeat("-", 80))

	for _, e := range events {
		old := e.OldState
		if old == "" {
			old = "-"
		}
		fmt.Fprintf(w, "%-20s %-16s %-11s %-11s %s\n",
			e.Timestamp.Format("2006-01-02 15:04:05"),
			e.EventType,
			old, e.NewState,
			e.Subject)
	}
}

func printScans(w io.Writer, scans []*db.ScanRecord) {
	if len(scans) == 0 {
		fmt.Fprintln(w, "No scans recorded.")
		return
	}

	fmt.Fprintf(w, "%-6s %-20s %-10s %-7s %-8s %-9s %s\n", "ID", "STARTED", "AGO", "ARRAYS", "VOLUMES", "READABLE", "ERROR")
	fmt.Fprintln(w, strings.Repeat("-", 80))

	for _, s := range scans {
		fmt.Fprintf(w, "%-6d %-20s %-10s %-7d %-8d %-9d %s\n",
			s.ID,
			s.StartedAt.Format("2006-01-02 15:04:05"),
			humanize.Time(s.StartedAt),
			s.Arrays, s.Volumes, s.Readable,
			s.Error)
	}
}
