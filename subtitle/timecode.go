package subtitle

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseTimecode converts "HH:MM:SS,mmm" (or "HH:MM:SS.mmm") to seconds.
func ParseTimecode(s string) (float64, error) {
	normalized := strings.Replace(strings.TrimSpace(s), ".", ",", 1)
	parts := strings.Split(normalized, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid timecode %q: expected HH:MM:SS,mmm", s)
	}

	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 {
		return 0, fmt.Errorf("invalid hours in timecode %q", s)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("invalid minutes in timecode %q", s)
	}

	secPart := parts[2]
	millis := 0
	if idx := strings.Index(secPart, ","); idx >= 0 {
		msStr := secPart[idx+1:]
		secPart = secPart[:idx]
		if len(msStr) == 0 || len(msStr) > 3 {
			return 0, fmt.Errorf("invalid milliseconds in timecode %q", s)
		}
		// pad to the millisecond grid so "5" means 500ms, not 5ms
		for len(msStr) < 3 {
			msStr += "0"
		}
		millis, err = strconv.Atoi(msStr)
		if err != nil || millis < 0 {
			return 0, fmt.Errorf("invalid milliseconds in timecode %q", s)
		}
	}
	seconds, err := strconv.Atoi(secPart)
	if err != nil || seconds < 0 || seconds > 59 {
		return 0, fmt.Errorf("invalid seconds in timecode %q", s)
	}

	return float64(hours)*3600 + float64(minutes)*60 + float64(seconds) + float64(millis)/1000, nil
}

// FormatTimecode converts seconds to "HH:MM:SS,mmm". Negative values clamp to
// zero; sub-millisecond remainders round to the millisecond grid.
func FormatTimecode(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	totalMillis := int64(math.Round(seconds * 1000))
	hours := totalMillis / 3600000
	totalMillis -= hours * 3600000
	minutes := totalMillis / 60000
	totalMillis -= minutes * 60000
	secs := totalMillis / 1000
	millis := totalMillis % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, millis)
}
