// Package report renders the periodic and final probe summaries and the
// JSON export.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"tsprobe/internal/capture"
	"tsprobe/internal/compliance"
	"tsprobe/internal/stream"
)

// Reporter outputs the PID table and compliance counters to console
// and/or file.
type Reporter struct {
	table       *stream.Table
	monitor     *compliance.Monitor
	loop        *capture.Loop
	intervalSec int
	exportFile  string
	startTime   time.Time
}

// NewReporter creates a reporter over the session's shared state.
func NewReporter(table *stream.Table, monitor *compliance.Monitor, loop *capture.Loop, intervalSec int, exportFile string) *Reporter {
	return &Reporter{
		table:       table,
		monitor:     monitor,
		loop:        loop,
		intervalSec: intervalSec,
		exportFile:  exportFile,
		startTime:   time.Now(),
	}
}

// StartPeriodicReport begins periodic reporting in a goroutine.
func (r *Reporter) StartPeriodicReport(ctx context.Context) {
	if r.intervalSec <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(time.Duration(r.intervalSec) * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Println(r.FormatReport(r.loop.Running()))
			}
		}
	}()
}

// PrintFinalReport prints the final summary with frozen capture stats.
func (r *Reporter) PrintFinalReport() {
	fmt.Println(r.FormatReport(false))
}

// ExportJSON writes the full session state to the configured file.
func (r *Reporter) ExportJSON() error {
	if r.exportFile == "" {
		return nil
	}

	export := map[string]interface{}{
		"start_time":   r.startTime.Format(time.RFC3339),
		"end_time":     time.Now().Format(time.RFC3339),
		"duration_sec": time.Since(r.startTime).Seconds(),
		"streams":      r.table,
		"tr101290":     r.monitor.Snapshot(),
		"capture":      r.loop.FinalStats(),
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report JSON: %w", err)
	}

	if err := os.WriteFile(r.exportFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write report file %s: %w", r.exportFile, err)
	}

	log.WithField("file", r.exportFile).Info("Report exported to JSON")
	return nil
}

// FormatReport generates the formatted summary. live selects the
// current backend counters over the frozen final ones.
func (r *Reporter) FormatReport(live bool) string {
	elapsed := time.Since(r.startTime).Round(time.Second)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("\n=== Transport Stream Probe (elapsed: %s) ===\n", elapsed))
	sb.WriteString(fmt.Sprintf("Streams: %d tracked PIDs\n", r.table.Len()))
	sb.WriteString(fmt.Sprintf("  %-6s %-38s %-12s %-10s %-8s %s\n",
		"PID", "Type", "Bitrate", "IAT(avg)", "Count", "Errors"))

	for _, rec := range r.table.Snapshot() {
		sb.WriteString(fmt.Sprintf("  %-6d %-38s %-12s %-10s %-8d %d\n",
			rec.PID, rec.StreamType, formatBitrate(rec.Bitrate),
			fmt.Sprintf("%dms", rec.IATAvg), rec.Count, rec.ErrorCount))
	}

	c := r.monitor.Snapshot()
	sb.WriteString("TR 101 290:\n")
	sb.WriteString(fmt.Sprintf("  P1: sync=%d cc=%d pat=%d pmt=%d pid=%d\n",
		c.SyncByteErrors, c.ContinuityCounterErrors, c.PatErrors, c.PmtErrors, c.PidMapErrors))
	sb.WriteString(fmt.Sprintf("  P2: tei=%d crc=%d pcr_rep=%d pcr_disc=%d pcr_acc=%d pts=%d cat=%d\n",
		c.TransportErrorIndicatorErrors, c.CrcErrors, c.PcrRepetitionErrors,
		c.PcrDiscontinuityErrors, c.PcrAccuracyErrors, c.PtsErrors, c.CatErrors))

	sb.WriteString("Capture:\n")
	if !live {
		// Backend counters are only safe to read once the loop has
		// frozen them; live reports stick to the queue-side counts.
		cs := r.loop.FinalStats()
		sb.WriteString(fmt.Sprintf("  received=%d dropped=%d if_dropped=%d\n", cs.Received, cs.Dropped, cs.IfDropped))
	}
	sb.WriteString(fmt.Sprintf("  enqueued=%d discarded=%d\n", r.loop.Enqueued(), r.loop.Discarded()))
	sb.WriteString("================================================\n")
	return sb.String()
}

func formatBitrate(bps uint32) string {
	switch {
	case bps >= 1_000_000:
		return fmt.Sprintf("%.2f Mbps", float64(bps)/1_000_000)
	case bps >= 1_000:
		return fmt.Sprintf("%.1f kbps", float64(bps)/1_000)
	default:
		return fmt.Sprintf("%d bps", bps)
	}
}
