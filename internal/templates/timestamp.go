package templates

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// pacificLayout renders 12-hour clock with zone abbreviation, matching the
// workspace's display convention across all rendered surfaces.
const pacificLayout = "2006-01-02 03:04:05 PM MST"

var (
	pacificOnce sync.Once
	pacificLoc  *time.Location
)

func pacific() *time.Location {
	pacificOnce.Do(func() {
		loc, err := time.LoadLocation("America/Los_Angeles")
		if err != nil {
			loc = time.UTC
		}
		pacificLoc = loc
	})
	return pacificLoc
}

// ParseTimestamp parses a Slack epoch timestamp, with or without a fractional
// part, into a time value.
func ParseTimestamp(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("templates: empty timestamp")
	}
	seconds, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("templates: invalid timestamp %q: %w", raw, err)
	}
	wholeSeconds := int64(seconds)
	nanos := int64((seconds - float64(wholeSeconds)) * float64(time.Second))
	return time.Unix(wholeSeconds, nanos), nil
}

// FormatPacific formats a time in the Pacific zone, 12-hour clock with AM/PM
// and zone abbreviation.
func FormatPacific(t time.Time) string {
	return t.In(pacific()).Format(pacificLayout)
}
