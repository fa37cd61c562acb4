package config

import (
	"strings"
)

// ParseTimeOfDay parses a quiet-hours boundary into a minute-of-day
// (0..1439).
//
// Accepted forms:
//   - "HH:MM" (24-hour)
//   - a bare hour 0-23, as a number or digit string
//
// Anything else returns ok=false; callers treat that as "quiet hours
// disabled", never as a fatal config error.
func ParseTimeOfDay(v any) (int, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case bool:
		return 0, false
	case int:
		return hourToMinutes(x)
	case int64:
		return hourToMinutes(int(x))
	case float64:
		// JSON numbers decode as float64; reject fractional hours.
		if x != float64(int(x)) {
			return 0, false
		}
		return hourToMinutes(int(x))
	case string:
		return parseTimeOfDayString(x)
	default:
		return 0, false
	}
}

func hourToMinutes(h int) (int, bool) {
	if h < 0 || h > 23 {
		return 0, false
	}
	return h * 60, true
}

func parseTimeOfDayString(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if !strings.Contains(s, ":") {
		h, ok := atoiDigits(s)
		if !ok {
			return 0, false
		}
		return hourToMinutes(h)
	}
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, false
	}
	h, okH := atoiDigits(strings.TrimSpace(hh))
	m, okM := atoiDigits(strings.TrimSpace(mm))
	if !okH || !okM {
		return 0, false
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// atoiDigits parses a non-empty all-digit string. Unlike strconv.Atoi it
// rejects signs and whitespace, matching the strict HH:MM grammar.
func atoiDigits(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
		if n > 9999 {
			return 0, false
		}
	}
	return n, true
}
