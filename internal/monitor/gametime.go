package monitor

import (
	"fmt"
	"strings"
	"time"
)

// GameEpoch is the in-game calendar origin. Server game time is reported as
// a date on this calendar; the interesting value is how far past it is.
var GameEpoch = time.Date(1984, time.March, 10, 0, 0, 0, 0, time.UTC)

// day-first is tried before month-first
var gameTimeLayouts = []string{
	"2/1/2006 15:04:05",
	"1/2/2006 15:04:05",
	"2/1/2006 15:04",
	"1/2/2006 15:04",
}

// ParseGameTime converts a reported game time to the duration elapsed since
// GameEpoch.
func ParseGameTime(text string) (time.Duration, bool) {
	text = strings.TrimSpace(text)
	for _, layout := range gameTimeLayouts {
		t, err := time.ParseInLocation(layout, text, time.UTC)
		if err != nil {
			continue
		}
		elapsed := t.Sub(GameEpoch)
		if elapsed < 0 {
			return 0, false
		}
		return elapsed, true
	}
	return 0, false
}

// FormatGameTime renders a reported game time as "<d>d <h>h <m>m" since
// GameEpoch. Text that cannot be parsed is returned unchanged.
func FormatGameTime(text string) string {
	elapsed, ok := ParseGameTime(text)
	if !ok {
		return text
	}
	return formatDHM(int64(elapsed / time.Second))
}

// FormatUptime renders a duration in seconds as "<d>d <h>h <m>m".
func FormatUptime(seconds int32) string {
	if seconds < 0 {
		seconds = 0
	}
	return formatDHM(int64(seconds))
}

func formatDHM(total int64) string {
	days := total / 86400
	hours := (total % 86400) / 3600
	mins := (total % 3600) / 60
	return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
}
