package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// History is the local archive of inbound private messages. It backs
	// both "last user activity" resolution and transcript building.
	History HistoryConfig `json:"history"`

	Proactive ProactiveConfig `json:"proactive"`
	Generate  GenerateConfig  `json:"generate"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type HistoryConfig struct {
	Path string `json:"path"`
}

// ProactiveConfig controls when the bot re-engages a quiet private chat.
//
// Boolean sub-features use pointers so "omitted" keeps the historical
// default (enabled) while an explicit false still turns them off.
type ProactiveConfig struct {
	Enabled bool `json:"enabled"`

	Filtering FilteringConfig `json:"filtering,omitempty"`
	Schedule  ScheduleConfig  `json:"schedule,omitempty"`
	Silence   SilenceConfig   `json:"silence,omitempty"`

	QuietHours QuietHoursConfig `json:"quiet_hours,omitempty"`
	Limits     LimitsConfig     `json:"limits,omitempty"`
	Context    ContextConfig    `json:"context,omitempty"`
	State      StateConfig      `json:"state,omitempty"`
}

// FilteringConfig is a user filter applied both to activity recording and
// to trigger decisions.
//
// Mode values: "denylist" (default; members are excluded) or "allowlist"
// (only members are eligible). An empty user list disables filtering in
// either mode.
type FilteringConfig struct {
	Mode  string   `json:"mode,omitempty"`
	Users []string `json:"users,omitempty"`
}

type ScheduleConfig struct {
	Enabled             *bool `json:"enabled,omitempty"`
	ScanIntervalMinutes int   `json:"scan_interval_minutes,omitempty"`
}

type SilenceConfig struct {
	Enabled          *bool `json:"enabled,omitempty"`
	ThresholdMinutes int   `json:"threshold_minutes,omitempty"`
}

// QuietHoursConfig suppresses proactive sends inside a daily time-of-day
// window. Start/End accept "HH:MM" or a bare hour 0-23 (string or number).
// Any other value disables quiet hours rather than failing config load.
type QuietHoursConfig struct {
	Start any `json:"start,omitempty"`
	End   any `json:"end,omitempty"`
}

type LimitsConfig struct {
	MinIntervalHours       int   `json:"min_interval_hours,omitempty"`
	DailyMax               *int  `json:"daily_max,omitempty"`
	RequireReplyBeforeNext *bool `json:"require_reply_before_next,omitempty"`
}

type ContextConfig struct {
	HistoryMessages int `json:"history_messages,omitempty"`
}

type StateConfig struct {
	Path string `json:"path,omitempty"`
	// RetentionDays <= 0 disables age-based pruning.
	RetentionDays *int `json:"retention_days,omitempty"`
}

type GenerateConfig struct {
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model"`
	Persona string `json:"persona,omitempty"`
}

// ---- Defaults ----

const (
	DefaultScanIntervalMinutes     = 30
	DefaultSilenceThresholdMinutes = 120
	DefaultMinIntervalHours        = 6
	DefaultDailyMax                = 1
	DefaultRetentionDays           = 30
	DefaultHistoryMessages         = 18
)

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// ScheduleEnabled reports whether periodic scanning is on (default true).
func (c ProactiveConfig) ScheduleEnabled() bool { return boolOr(c.Schedule.Enabled, true) }

// SilenceEnabled reports whether silence detection is on (default true).
func (c ProactiveConfig) SilenceEnabled() bool { return boolOr(c.Silence.Enabled, true) }

// RequireReply reports whether an unanswered proactive send blocks further
// sends for the rest of the day (default true).
func (c ProactiveConfig) RequireReply() bool {
	return boolOr(c.Limits.RequireReplyBeforeNext, true)
}

func (c ProactiveConfig) DailyMax() int { return intOr(c.Limits.DailyMax, DefaultDailyMax) }

func (c ProactiveConfig) RetentionDays() int {
	return intOr(c.State.RetentionDays, DefaultRetentionDays)
}
