package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [1001]
  poll_timeout: "15s"

logging:
  level: debug
  console: true

history:
  path: ./data/history.db

proactive:
  enabled: true
  filtering:
    mode: allowlist
    users: ["42", "77"]
  schedule:
    scan_interval_minutes: 45
  silence:
    enabled: false
    threshold_minutes: 90
  quiet_hours:
    start: "23:30"
    end: 7
  limits:
    min_interval_hours: 4
    daily_max: 2
    require_reply_before_next: false
  state:
    path: ./data/state.json
    retention_days: 14

generate:
  model: gpt-4o-mini
  persona: "a warm, attentive companion"
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.OwnerUserIDs) != 1 || cfg.Telegram.OwnerUserIDs[0] != 1001 {
		t.Fatalf("owners = %v", cfg.Telegram.OwnerUserIDs)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}

	p := cfg.Proactive
	if !p.Enabled {
		t.Fatal("proactive.enabled lost")
	}
	if p.Filtering.Mode != "allowlist" || len(p.Filtering.Users) != 2 {
		t.Fatalf("filtering = %+v", p.Filtering)
	}
	if p.Schedule.ScanIntervalMinutes != 45 {
		t.Fatalf("scan interval = %d", p.Schedule.ScanIntervalMinutes)
	}
	if p.SilenceEnabled() {
		t.Fatal("explicit silence.enabled=false must stick")
	}
	if p.ScheduleEnabled() != true {
		t.Fatal("omitted schedule.enabled must default to true")
	}
	if p.Silence.ThresholdMinutes != 90 {
		t.Fatalf("threshold = %d", p.Silence.ThresholdMinutes)
	}
	if p.DailyMax() != 2 || p.RequireReply() {
		t.Fatalf("limits = %+v", p.Limits)
	}
	if p.RetentionDays() != 14 {
		t.Fatalf("retention = %d", p.RetentionDays())
	}

	// Quiet hours survive YAML with mixed string/number forms.
	if min, ok := ParseTimeOfDay(p.QuietHours.Start); !ok || min != 23*60+30 {
		t.Fatalf("quiet start = (%d, %v)", min, ok)
	}
	if min, ok := ParseTimeOfDay(p.QuietHours.End); !ok || min != 7*60 {
		t.Fatalf("quiet end = (%d, %v)", min, ok)
	}

	if got := m.Get(); got != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestLoadDefaultsWhenOmitted(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", "proactive:\n  enabled: true\n"))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	p := cfg.Proactive
	if !p.SilenceEnabled() || !p.ScheduleEnabled() || !p.RequireReply() {
		t.Fatal("omitted booleans must default to enabled")
	}
	if p.DailyMax() != DefaultDailyMax || p.RetentionDays() != DefaultRetentionDays {
		t.Fatalf("defaults = daily %d retention %d", p.DailyMax(), p.RetentionDays())
	}
	if _, ok := ParseTimeOfDay(p.QuietHours.Start); ok {
		t.Fatal("omitted quiet hours must parse as disabled")
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", "proactive:\n  enabled: true\n  tpyo: 1\n"))
	if _, err := m.Load(); err == nil {
		t.Fatal("unknown keys must be rejected")
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	body := `{"proactive": {"enabled": true, "quiet_hours": {"start": 22, "end": "06:30"}}}`
	m := NewManager(writeConfig(t, "config.json", body))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Proactive.Enabled {
		t.Fatal("proactive.enabled lost")
	}
	if min, ok := ParseTimeOfDay(cfg.Proactive.QuietHours.Start); !ok || min != 22*60 {
		t.Fatalf("quiet start = (%d, %v)", min, ok)
	}
}

func TestSubscribePublish(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	first := &Config{}
	second := &Config{Proactive: ProactiveConfig{Enabled: true}}
	m.publish(first)
	m.publish(second) // buffer full: oldest dropped, newest kept

	got := <-ch
	if got != second {
		t.Fatal("slow subscriber should observe the newest config")
	}
}
