package report

import (
	"fmt"
	"time"
)

// FormatLatency formats a latency in milliseconds with two decimals
func FormatLatency(d time.Duration) string {
	if d >= 10*time.Second {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%.2fms", float64(d)/float64(time.Millisecond))
}

// FormatSize formats byte size to human-readable string
func FormatSize(bytes int64) string {
	switch {
	case bytes < 1024:
		return fmt.Sprintf("%dB", bytes)
	case bytes < 1024*1024:
		return fmt.Sprintf("%.2fKB", float64(bytes)/1024.0)
	case bytes < 1024*1024*1024:
		return fmt.Sprintf("%.2fMB", float64(bytes)/(1024.0*1024.0))
	default:
		return fmt.Sprintf("%.2fGB", float64(bytes)/(1024.0*1024.0*1024.0))
	}
}
