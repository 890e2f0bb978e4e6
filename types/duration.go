package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

const day = 24 * time.Hour

// FormatCompact renders d as "1d 2h 3m 4s", omitting zero units.
// Non-positive durations render as "0s".
func FormatCompact(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs <= 0 {
		return "0s"
	}

	days, hours, minutes, seconds := split(secs)

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if seconds > 0 {
		parts = append(parts, fmt.Sprintf("%ds", seconds))
	}
	return strings.Join(parts, " ")
}

// FormatRemaining renders the time left until expiresAt. Once a larger unit
// is present every smaller unit is shown: "2d 0h 5m 0s". Returns "Expired"
// when expiresAt is not after now.
func FormatRemaining(expiresAt, now time.Time) string {
	secs := int64(expiresAt.Sub(now) / time.Second)
	if !expiresAt.After(now) || secs <= 0 {
		return "Expired"
	}

	days, hours, minutes, seconds := split(secs)

	var sb strings.Builder
	if days > 0 {
		fmt.Fprintf(&sb, "%dd ", days)
	}
	if hours > 0 || days > 0 {
		fmt.Fprintf(&sb, "%dh ", hours)
	}
	if minutes > 0 || hours > 0 || days > 0 {
		fmt.Fprintf(&sb, "%dm ", minutes)
	}
	fmt.Fprintf(&sb, "%ds", seconds)
	return sb.String()
}

// FormatLong renders d in words: "2 days 3 hours 1 minute".
// Seconds are shown only when non-zero or when nothing else is.
func FormatLong(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs < 0 {
		secs = 0
	}

	days, hours, minutes, seconds := split(secs)

	var parts []string
	if days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, plural(seconds, "second"))
	}
	return strings.Join(parts, " ")
}

// ParseDuration parses "1d 2h 30m 15s" style strings. Units may be joined
// ("1d2h") or separated by whitespace. A bare integer is read as seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("duration: parse %q: empty string", s)
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("duration: parse %q: negative", s)
		}
		return time.Duration(n) * time.Second, nil
	}

	var total time.Duration
	num := ""
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			num += string(r)
		case unicode.IsSpace(r):
			if num != "" {
				return 0, fmt.Errorf("duration: parse %q: missing unit after %s", s, num)
			}
		default:
			if num == "" {
				return 0, fmt.Errorf("duration: parse %q: unit %q without value", s, r)
			}
			n, err := strconv.ParseInt(num, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("duration: parse %q: %w", s, err)
			}
			unit, ok := units[unicode.ToLower(r)]
			if !ok {
				return 0, fmt.Errorf("duration: parse %q: unknown unit %q", s, r)
			}
			total += time.Duration(n) * unit
			num = ""
		}
	}
	if num != "" {
		return 0, fmt.Errorf("duration: parse %q: missing unit after %s", s, num)
	}
	return total, nil
}

var units = map[rune]time.Duration{
	'd': day,
	'h': time.Hour,
	'm': time.Minute,
	's': time.Second,
}

func split(secs int64) (days, hours, minutes, seconds int64) {
	minutes = secs / 60
	hours = minutes / 60
	days = hours / 24
	return days, hours % 24, minutes % 60, secs % 60
}

func plural(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
