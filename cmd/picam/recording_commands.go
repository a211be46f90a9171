package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"picam/internal/ipc"
)

func newRecordingCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start recording on the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Start()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !resp.Started {
					if resp.ErrorKind == "already_running" {
						fmt.Fprintln(out, "Recording already running")
						return nil
					}
					return fmt.Errorf("start recording (%s): %s", resp.ErrorKind, resp.Message)
				}
				fmt.Fprintf(out, "Recording started (run %s, encoder pid %d)\n", resp.RunID, resp.PID)
				return nil
			})
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop recording; the daemon keeps running",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			client, err := ipc.Dial(ctx.socketPath())
			if errors.Is(err, ipc.ErrDaemonUnavailable) {
				fmt.Fprintln(out, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.Stop()
			if err != nil {
				return err
			}
			if resp.Forced {
				fmt.Fprintln(out, "Encoder did not exit in time and was killed")
			}
			fmt.Fprintln(out, "Recording stopped")
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show pipeline, storage, and segment status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Status()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				writeStatus(out, resp, shouldColorize(out))
				return nil
			})
		},
	}

	return []*cobra.Command{startCmd, stopCmd, statusCmd}
}

func writeStatus(out io.Writer, resp *ipc.StatusResponse, colorize bool) {
	for _, line := range renderSectionHeader("Pipeline", colorize) {
		fmt.Fprintln(out, line)
	}
	for _, line := range pipelineLines(resp, colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out)

	for _, line := range renderSectionHeader("Outputs", colorize) {
		fmt.Fprintln(out, line)
	}
	for _, line := range outputLines(resp, colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out)

	for _, line := range renderSectionHeader("Segments", colorize) {
		fmt.Fprintln(out, line)
	}
	rows := segmentCountRows(resp.SegmentCounts)
	if len(rows) == 0 {
		fmt.Fprintln(out, "No segments recorded")
		return
	}
	fmt.Fprint(out, renderTable([]column{left("Status"), right("Count")}, rows))
	fmt.Fprintln(out)
}

func pipelineLines(resp *ipc.StatusResponse, colorize bool) []string {
	detail := humanState(resp.State)
	if resp.RunID != "" && resp.State != "stopped" {
		detail = fmt.Sprintf("%s (run %s, pid %d, started %s)", detail, resp.RunID, resp.PID, humanize.Time(resp.StartedAt))
	}
	lines := []string{
		renderStatusLine("Recorder", pipelineKind(resp.State), detail, colorize),
		renderStatusLine("Restarts", statusInfo, strconv.Itoa(resp.Restarts), colorize),
	}
	if strings.TrimSpace(resp.LastError) != "" {
		lines = append(lines, renderStatusLine("Last error", statusError, resp.LastError, colorize))
	}
	lines = append(lines,
		renderStatusLine("Daemon pid", statusInfo, strconv.Itoa(resp.DaemonPID), colorize),
		renderStatusLine("Journal", statusInfo, resp.JournalPath, colorize),
	)
	return lines
}

func outputLines(resp *ipc.StatusResponse, colorize bool) []string {
	lines := []string{
		renderStatusLine("Storage", storageKind(resp.Storage), humanState(resp.Storage), colorize),
		renderStatusLine("Indicator", statusInfo, humanState(resp.Indicator), colorize),
		renderStatusLine("Spool pending", spoolKind(resp.SpoolPending), humanize.Comma(int64(resp.SpoolPending)), colorize),
		renderStatusLine("Segments closed", statusInfo, humanize.Comma(resp.SegmentsClosed), colorize),
	}
	streamKind, streamDetail := statusWarn, "not ready"
	if resp.StreamReady {
		streamKind = statusOK
		streamDetail = fmt.Sprintf("ready (sequence %d, %d segments)", resp.StreamSequence, resp.StreamSegments)
	}
	lines = append(lines, renderStatusLine("Live stream", streamKind, streamDetail, colorize))

	gpsKind, gpsDetail := statusInfo, "no fix"
	if resp.GPSFix {
		gpsKind = statusOK
		gpsDetail = fmt.Sprintf("%.6f, %.6f (%d sats)", resp.Latitude, resp.Longitude, resp.Satellites)
	}
	lines = append(lines, renderStatusLine("GPS", gpsKind, gpsDetail, colorize))
	return lines
}

func spoolKind(pending int) statusKind {
	if pending > 0 {
		return statusWarn
	}
	return statusOK
}

func segmentCountRows(counts map[string]int) [][]string {
	statuses := make([]string, 0, len(counts))
	for status := range counts {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	rows := make([][]string, 0, len(statuses))
	for _, status := range statuses {
		rows = append(rows, []string{humanState(status), strconv.Itoa(counts[status])})
	}
	return rows
}
