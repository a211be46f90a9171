package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"picam/internal/journal"
)

func newSegmentsCommand(ctx *commandContext) *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "segments",
		Short: "List recently closed archival segments",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseSegmentStatus(status)
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := journal.Open(cfg.JournalPath())
			if err != nil {
				return err
			}
			defer store.Close()

			segments, err := store.ListSegments(cmd.Context(), filter, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(segments) == 0 {
				fmt.Fprintln(out, "No segments recorded")
				return nil
			}
			fmt.Fprint(out, renderTable(
				[]column{left("Closed"), left("Name"), right("Size"), left("Status"), left("Path")},
				segmentRows(segments),
			))
			fmt.Fprintln(out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&status, "status", "s", "", "Only show segments with this status (spooled, archived, dropped)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of segments to list")
	return cmd
}

func parseSegmentStatus(value string) (journal.SegmentStatus, error) {
	switch status := journal.SegmentStatus(strings.ToLower(strings.TrimSpace(value))); status {
	case "", journal.StatusSpooled, journal.StatusArchived, journal.StatusDropped:
		return status, nil
	default:
		return "", fmt.Errorf("unknown segment status %q", value)
	}
}

func segmentRows(segments []journal.Segment) [][]string {
	rows := make([][]string, 0, len(segments))
	for _, seg := range segments {
		size := "-"
		if seg.SizeBytes > 0 {
			size = humanize.Bytes(uint64(seg.SizeBytes))
		}
		path := seg.Path
		if path == "" {
			path = "-"
		}
		rows = append(rows, []string{
			seg.ClosedAt.Local().Format(time.DateTime),
			seg.Name,
			size,
			string(seg.Status),
			path,
		})
	}
	return rows
}
