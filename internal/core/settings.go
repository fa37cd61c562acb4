package core

import (
	"time"

	"tendbot/internal/config"
	"tendbot/internal/proactive"
)

// settingsFrom resolves the raw proactive config section into the snapshot
// the engine and evaluator operate on. Unparseable quiet-hours values
// disable the window instead of failing; missing numbers fall back to the
// documented defaults.
func settingsFrom(pc config.ProactiveConfig) proactive.Settings {
	scanMin := pc.Schedule.ScanIntervalMinutes
	if scanMin <= 0 {
		scanMin = config.DefaultScanIntervalMinutes
	}
	silenceMin := pc.Silence.ThresholdMinutes
	if silenceMin <= 0 {
		silenceMin = config.DefaultSilenceThresholdMinutes
	}
	minIntervalH := pc.Limits.MinIntervalHours
	if minIntervalH <= 0 {
		minIntervalH = config.DefaultMinIntervalHours
	}
	histN := pc.Context.HistoryMessages
	if histN <= 0 {
		histN = config.DefaultHistoryMessages
	}

	users := make(map[string]struct{}, len(pc.Filtering.Users))
	for _, u := range pc.Filtering.Users {
		if u != "" {
			users[u] = struct{}{}
		}
	}

	set := proactive.Settings{
		Enabled:          pc.Enabled,
		FilterMode:       pc.Filtering.Mode,
		FilterUsers:      users,
		ScanEnabled:      pc.ScheduleEnabled(),
		ScanInterval:     time.Duration(scanMin) * time.Minute,
		SilenceEnabled:   pc.SilenceEnabled(),
		SilenceThreshold: time.Duration(silenceMin) * time.Minute,
		MinInterval:      time.Duration(minIntervalH) * time.Hour,
		DailyMax:         pc.DailyMax(),
		RequireReply:     pc.RequireReply(),
		HistoryMessages:  histN,
		RetentionDays:    pc.RetentionDays(),
	}

	start, okStart := config.ParseTimeOfDay(pc.QuietHours.Start)
	end, okEnd := config.ParseTimeOfDay(pc.QuietHours.End)
	if okStart && okEnd {
		set.QuietHoursSet = true
		set.QuietStartMin = start
		set.QuietEndMin = end
	}
	return set
}
