package console

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/rasac/internal/botstore"
)

// FormatTrainedAt formats the timestamp encoded in a model id, or "-".
func FormatTrainedAt(modelID string) string {
	t, ok := botstore.ModelTime(modelID)
	if !ok {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

// FormatSize formats a byte count as "X.X MB", "X.X KB" or "X B".
func FormatSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// FormatDuration formats d as "Xh Ym", "Xm Ys" or "Xs".
func FormatDuration(d time.Duration) string {
	seconds := int64(d.Round(time.Second) / time.Second)
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, secs)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}

// FormatEpochs formats an epoch count, or "-" for a model without logs.
func FormatEpochs(n int) string {
	if n <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d", n)
}
