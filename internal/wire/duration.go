package wire

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// The channel carries durations as ISO-8601 strings ("PT5M", "PT1H30M",
// "-PT10S") rather than Go's nanosecond integers, matching what the mobile
// clients already speak.

// FormatISODuration renders d as an ISO-8601 duration. Zero renders as
// "PT0S". Sub-second precision is emitted as fractional seconds.
func FormatISODuration(d time.Duration) string {
	var b strings.Builder
	if d < 0 {
		b.WriteByte('-')
		d = -d
	}
	b.WriteString("PT")

	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	secs := float64(d) / float64(time.Second)

	if h > 0 {
		fmt.Fprintf(&b, "%dH", h)
	}
	if m > 0 {
		fmt.Fprintf(&b, "%dM", m)
	}
	if secs > 0 || (h == 0 && m == 0) {
		s := strconv.FormatFloat(secs, 'f', -1, 64)
		b.WriteString(s)
		b.WriteByte('S')
	}
	return b.String()
}

// ParseISODuration parses an ISO-8601 duration. Weeks and larger calendar
// units are not supported; days are accepted and treated as 24 hours.
func ParseISODuration(s string) (time.Duration, error) {
	orig := s
	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	if len(s) < 2 || s[0] != 'P' {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q", orig)
	}
	s = s[1:]

	var total time.Duration
	inTime := false
	sawComponent := false
	for len(s) > 0 {
		if s[0] == 'T' {
			if inTime {
				return 0, fmt.Errorf("invalid ISO-8601 duration %q", orig)
			}
			inTime = true
			s = s[1:]
			continue
		}

		i := 0
		for i < len(s) && (s[i] == '-' || s[i] == '.' || s[i] == ',' || (s[i] >= '0' && s[i] <= '9')) {
			i++
		}
		if i == 0 || i == len(s) {
			return 0, fmt.Errorf("invalid ISO-8601 duration %q", orig)
		}
		numStr := strings.ReplaceAll(s[:i], ",", ".")
		val, err := strconv.ParseFloat(numStr, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid ISO-8601 duration %q: %w", orig, err)
		}
		unit := s[i]
		s = s[i+1:]
		sawComponent = true

		switch {
		case !inTime && unit == 'D':
			total += time.Duration(val * float64(24*time.Hour))
		case inTime && unit == 'H':
			total += time.Duration(val * float64(time.Hour))
		case inTime && unit == 'M':
			total += time.Duration(val * float64(time.Minute))
		case inTime && unit == 'S':
			total += time.Duration(val * float64(time.Second))
		default:
			return 0, fmt.Errorf("invalid ISO-8601 duration %q: unit %q", orig, string(unit))
		}
	}
	if !sawComponent {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q", orig)
	}
	if neg {
		total = -total
	}
	return total, nil
}
