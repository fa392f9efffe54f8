package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/joaooservit/oserv-cloud-storage/pkg/metrics"
)

// PrintTransferStats renders the session's cumulative transfer counters.
func PrintTransferStats(w io.Writer, title string, snap metrics.TransferSnapshot) error {
	if strings.TrimSpace(title) == "" {
		title = "Transfer Metrics"
	}
	data := pterm.TableData{
		{"Metric", "Value"},
		{"Uploaded", fmt.Sprintf("%d files, %s", snap.FilesUploaded, formatBytes(snap.BytesUploaded))},
		{"Downloaded", fmt.Sprintf("%d files, %s", snap.FilesDownloaded, formatBytes(snap.BytesDownloaded))},
		{"Folders Created", fmt.Sprintf("%d", snap.Containers)},
		{"Upload Rate", formatMbps(snap.UploadMbps)},
		{"Download Rate", formatMbps(snap.DownloadMbps)},
		{"Chunked Sessions", fmt.Sprintf("%d", snap.Sessions)},
		{"Chunks Accepted", fmt.Sprintf("%d (%s)", snap.ChunksAccepted, formatBytes(snap.ChunkBytes))},
		{"Chunk Retries", fmt.Sprintf("%d", snap.ChunkRetries)},
		{"Failures", fmt.Sprintf("%d", snap.Failures)},
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n%s\nElapsed: %s    Direction: %s\n",
		title,
		table,
		formatDuration(snap.Elapsed),
		strings.ToUpper(strings.TrimSpace(snap.Direction)))
	return err
}

func formatMbps(mbps float64) string {
	if mbps <= 0 {
		return "--"
	}
	return fmt.Sprintf("%.2f Mb/s", mbps)
}

func formatBytes(b uint64) string {
	const kb = 1024
	const mb = kb * 1024
	const gb = mb * 1024
	switch {
	case b >= gb:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(kb))
	case b > 0:
		return fmt.Sprintf("%d B", b)
	default:
		return "0 B"
	}
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "--"
	}
	if d < time.Second {
		return fmt.Sprintf("%d ms", d.Milliseconds())
	}
	return d.Truncate(100 * time.Millisecond).String()
}
