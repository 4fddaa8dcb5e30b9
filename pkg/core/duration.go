package core

import (
	"fmt"
	"strings"
	"time"
)

var durationPeriods = []struct {
	name    string
	seconds int64
}{
	{"year", 60 * 60 * 24 * 365},
	{"month", 60 * 60 * 24 * 30},
	{"day", 60 * 60 * 24},
	{"hour", 60 * 60},
	{"minute", 60},
	{"second", 1},
}

// FormatDuration renders d in words, e.g. "1 hour, 2 minutes".
// Sub-second durations render as "less than a second".
func FormatDuration(d time.Duration) string {
	seconds := int64(d / time.Second)
	if seconds <= 0 {
		return "less than a second"
	}

	var parts []string
	for _, p := range durationPeriods {
		if seconds < p.seconds {
			continue
		}
		n := seconds / p.seconds
		seconds %= p.seconds
		if n == 1 {
			parts = append(parts, fmt.Sprintf("1 %s", p.name))
		} else {
			parts = append(parts, fmt.Sprintf("%d %ss", n, p.name))
		}
	}
	return strings.Join(parts, ", ")
}
