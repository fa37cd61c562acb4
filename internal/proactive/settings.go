package proactive

import (
	"strings"
	"time"
)

// Filter modes. Denylist is the default; unknown modes behave as denylist.
const (
	FilterDenylist  = "denylist"
	FilterAllowlist = "allowlist"
)

// Settings is the read-only configuration snapshot one decision (or one
// scan pass) operates on. The owner rebuilds it on config reload; the
// evaluator never reads live config.
type Settings struct {
	Enabled bool

	FilterMode  string
	FilterUsers map[string]struct{}

	ScanEnabled  bool
	ScanInterval time.Duration

	SilenceEnabled   bool
	SilenceThreshold time.Duration

	// Quiet hours as minutes-of-day; QuietHoursSet false disables the
	// window entirely (including when configured values failed to parse).
	QuietHoursSet   bool
	QuietStartMin   int
	QuietEndMin     int

	MinInterval  time.Duration
	DailyMax     int
	RequireReply bool

	HistoryMessages int
	RetentionDays   int
}

// Allows applies the user filter. An empty configured list means no
// filtering in either mode.
func (s Settings) Allows(userID string) bool {
	if len(s.FilterUsers) == 0 {
		return true
	}
	_, member := s.FilterUsers[userID]
	mode := strings.ToLower(strings.TrimSpace(s.FilterMode))
	if mode == FilterAllowlist || mode == "whitelist" {
		return member
	}
	return !member
}

// InQuietHours reports whether t falls inside the configured window.
// The window is inclusive on both ends; start > end wraps past midnight.
func (s Settings) InQuietHours(t time.Time) bool {
	if !s.QuietHoursSet {
		return false
	}
	cur := t.Hour()*60 + t.Minute()
	if s.QuietStartMin <= s.QuietEndMin {
		return cur >= s.QuietStartMin && cur <= s.QuietEndMin
	}
	return cur >= s.QuietStartMin || cur <= s.QuietEndMin
}
