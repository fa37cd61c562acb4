package proactive

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	logx "tendbot/pkg/logx"
)

// Trigger reasons, logged and fed into the prompt.
const (
	ReasonScheduledScan = "scheduled-scan"
	ReasonManual        = "manual"
)

// Candidate is one channel the scan may act on.
type Candidate struct {
	ChannelID string
	UserID    string
}

// ChannelLister enumerates all known channels of the transport this bot
// targets. Group/broadcast channels are never candidates.
type ChannelLister interface {
	Candidates(ctx context.Context) ([]Candidate, error)
}

// TranscriptEntry is one line of recent conversation for prompt building.
type TranscriptEntry struct {
	Speaker  string
	Text     string
	At       time.Time
	FromSelf bool
}

// MessageSource provides conversation history for a channel.
type MessageSource interface {
	LatestUserMessage(ctx context.Context, channelID string) (text string, at time.Time, ok bool, err error)
	Transcript(ctx context.Context, channelID string, limit int) ([]TranscriptEntry, error)
	DisplayName(ctx context.Context, channelID string) string
}

// Generation is the outcome of one text-generation call.
type Generation struct {
	OK    bool
	Text  string
	Model string
}

type Generator interface {
	Generate(ctx context.Context, prompt string) (Generation, error)
}

// Deliverer sends text to a channel. An error means not delivered.
type Deliverer interface {
	SendText(ctx context.Context, channelID string, text string) error
}

type EngineDeps struct {
	Store     *Store
	Evaluator *Evaluator
	Channels  ChannelLister
	Source    MessageSource
	Generator Generator
	Deliverer Deliverer
	Clock     Clock
	Logger    logx.Logger
}

// Engine runs the periodic scan and the trigger pipeline.
//
// The owner polls Scan on a short fixed cadence; the engine rate-limits
// its own work with the configured scan interval, so polling is cheap and
// the effective cadence is config-driven.
type Engine struct {
	log      logx.Logger
	clock    Clock
	store    *Store
	eval     *Evaluator
	channels ChannelLister
	source   MessageSource
	gen      Generator
	deliver  Deliverer

	// OnDelivered, when set, observes every successful proactive send
	// (used to archive the bot's own messages).
	OnDelivered func(ctx context.Context, channelID, text string)

	mu       sync.Mutex
	settings Settings
	lastScan time.Time
	scanning bool
}

func NewEngine(deps EngineDeps) *Engine {
	log := deps.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock()
	}
	return &Engine{
		log:      log,
		clock:    clock,
		store:    deps.Store,
		eval:     deps.Evaluator,
		channels: deps.Channels,
		source:   deps.Source,
		gen:      deps.Generator,
		deliver:  deps.Deliverer,
	}
}

// SetSettings installs a new configuration snapshot (startup and reload).
func (e *Engine) SetSettings(set Settings) {
	e.mu.Lock()
	e.settings = set
	e.mu.Unlock()
}

// Settings returns the current snapshot.
func (e *Engine) Settings() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// Scan is invoked on every poll tick. It is a no-op until the configured
// scan interval has elapsed since the previous scan; overlapping scans are
// skipped rather than queued.
func (e *Engine) Scan(ctx context.Context) {
	e.mu.Lock()
	set := e.settings
	now := e.clock.Now()
	if !set.Enabled || !set.ScanEnabled || e.scanning {
		e.mu.Unlock()
		return
	}
	if now.Sub(e.lastScan) < set.ScanInterval {
		e.mu.Unlock()
		return
	}
	e.lastScan = now
	e.scanning = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.scanning = false
		e.mu.Unlock()
	}()

	log := e.log.With(logx.String("scan", shortRunID()))
	cands, err := e.channels.Candidates(ctx)
	if err != nil {
		log.Error("channel enumeration failed", logx.Err(err))
		return
	}

	triggered := 0
	for _, c := range cands {
		if ctx.Err() != nil {
			return
		}
		if c.ChannelID == "" || c.UserID == "" {
			continue
		}
		if !e.eval.ShouldTrigger(ctx, set, c.ChannelID, c.UserID, now) {
			continue
		}
		if e.trigger(ctx, set, c.ChannelID, c.UserID, ReasonScheduledScan, log) {
			triggered++
		}
	}
	log.Debug("scan complete", logx.Int("candidates", len(cands)), logx.Int("triggered", triggered))
}

// TriggerNow fires the pipeline for one channel, bypassing silence and
// rate gates (manual/debug path). Only the enabled flag and the user
// filter still apply.
func (e *Engine) TriggerNow(ctx context.Context, channelID, userID, reason string) bool {
	set := e.Settings()
	if !set.Enabled {
		return false
	}
	if userID != "" && !set.Allows(userID) {
		return false
	}
	return e.trigger(ctx, set, channelID, userID, reason, e.log)
}

// trigger runs one attempt end to end. Every collaborator failure means
// "no message this cycle"; the next scan is the retry.
func (e *Engine) trigger(ctx context.Context, set Settings, channelID, userID, reason string, log logx.Logger) bool {
	log.Info("proactive candidate",
		logx.String("channel", channelID),
		logx.String("user", userID),
		logx.String("reason", reason),
	)

	lastText, lastAt, ok, err := e.source.LatestUserMessage(ctx, channelID)
	if err != nil {
		log.Error("history lookup failed", logx.Err(err), logx.String("channel", channelID))
		return false
	}
	if !ok {
		log.Info("no usable history; skipping", logx.String("channel", channelID))
		return false
	}
	// Keep the activity cache warm for the rate gates.
	e.store.RecordUserActivity(channelID, lastAt)

	transcript, err := e.source.Transcript(ctx, channelID, set.HistoryMessages)
	if err != nil {
		log.Warn("transcript fetch failed; prompting without context", logx.Err(err))
		transcript = nil
	}

	prompt := BuildPrompt(PromptInput{
		UserName:   e.source.DisplayName(ctx, channelID),
		Reason:     reason,
		Now:        e.clock.Now(),
		LastText:   lastText,
		LastAt:     lastAt,
		Transcript: transcript,
	})

	gen, err := e.gen.Generate(ctx, prompt)
	if err != nil {
		log.Warn("generation failed", logx.Err(err), logx.String("channel", channelID))
		return false
	}
	text := strings.TrimSpace(gen.Text)
	if !gen.OK || text == "" {
		log.Warn("generation returned no content", logx.String("channel", channelID))
		return false
	}
	if e.store.IsDuplicateRecent(channelID, text) {
		log.Info("duplicate of recent send; skipping", logx.String("channel", channelID))
		return false
	}

	if err := e.deliver.SendText(ctx, channelID, text); err != nil {
		log.Warn("delivery failed", logx.Err(err), logx.String("channel", channelID))
		return false
	}

	e.store.RecordProactiveSend(channelID, e.clock.Now(), text)
	if e.OnDelivered != nil {
		e.OnDelivered(ctx, channelID, text)
	}
	log.Info("proactive message sent",
		logx.String("channel", channelID),
		logx.String("model", gen.Model),
	)
	return true
}

func shortRunID() string {
	id := uuid.NewString()
	return id[:8]
}
