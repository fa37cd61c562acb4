package proactive

import (
	"testing"
	"time"
)

func TestAllows(t *testing.T) {
	t.Parallel()
	users := map[string]struct{}{"42": {}, "77": {}}
	tests := []struct {
		name  string
		mode  string
		users map[string]struct{}
		user  string
		want  bool
	}{
		{"empty list allows everyone in denylist mode", "denylist", nil, "42", true},
		{"empty list allows everyone in allowlist mode", "allowlist", nil, "42", true},
		{"denylist member rejected", "denylist", users, "42", false},
		{"denylist non-member allowed", "denylist", users, "99", true},
		{"allowlist member allowed", "allowlist", users, "42", true},
		{"allowlist non-member rejected", "allowlist", users, "99", false},
		{"whitelist alias behaves as allowlist", "whitelist", users, "77", true},
		{"unknown mode behaves as denylist", "blocklist", users, "42", false},
		{"mode is case-insensitive", " Allowlist ", users, "99", false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := Settings{FilterMode: tt.mode, FilterUsers: tt.users}
			if got := s.Allows(tt.user); got != tt.want {
				t.Fatalf("Allows(%q) = %v, want %v", tt.user, got, tt.want)
			}
		})
	}
}

func TestInQuietHours(t *testing.T) {
	t.Parallel()
	at := func(hh, mm int) time.Time {
		return time.Date(2024, 5, 1, hh, mm, 0, 0, time.UTC)
	}
	wrap := Settings{QuietHoursSet: true, QuietStartMin: 22 * 60, QuietEndMin: 2 * 60}
	plain := Settings{QuietHoursSet: true, QuietStartMin: 1 * 60, QuietEndMin: 6 * 60}
	unset := Settings{}

	tests := []struct {
		name string
		set  Settings
		t    time.Time
		want bool
	}{
		{"wrap: before midnight", wrap, at(23, 0), true},
		{"wrap: after midnight", wrap, at(0, 30), true},
		{"wrap: last minute inclusive", wrap, at(2, 0), true},
		{"wrap: first minute inclusive", wrap, at(22, 0), true},
		{"wrap: just past the end", wrap, at(2, 1), false},
		{"wrap: midday", wrap, at(12, 0), false},
		{"plain: inside", plain, at(3, 0), true},
		{"plain: just before start", plain, at(0, 59), false},
		{"plain: just past the end", plain, at(6, 1), false},
		{"unset window never matches", unset, at(3, 0), false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.set.InQuietHours(tt.t); got != tt.want {
				t.Fatalf("InQuietHours(%v) = %v, want %v", tt.t, got, tt.want)
			}
		})
	}
}
