package logger

import (
	"fmt"
	"strings"
	"time"
)

// Took returns the time since start rounded to milliseconds.
func Took(start time.Time) time.Duration {
	return RoundMS(time.Since(start))
}

// RoundMS rounds d to milliseconds; negative durations become zero.
func RoundMS(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d.Round(time.Millisecond)
}

// Preview joins at most limit values and notes how many were left out, e.g.
// "000001_users.up.sql, 000002_transactions.up.sql (+3)".
func Preview(values []string, limit int) string {
	if limit < 0 {
		limit = 0
	}
	if len(values) <= limit {
		return strings.Join(values, ", ")
	}
	shown := strings.Join(values[:limit], ", ")
	rest := fmt.Sprintf("(+%d)", len(values)-limit)
	if shown == "" {
		return rest
	}
	return shown + " " + rest
}
