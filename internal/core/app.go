package core

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"tendbot/internal/config"
	"tendbot/internal/generate"
	"tendbot/internal/history"
	"tendbot/internal/proactive"
	"tendbot/internal/transport"
	"tendbot/internal/transport/telegram"
	logx "tendbot/pkg/logx"
)

const (
	defaultHistoryPath = "./data/history.db"
	defaultStatePath   = "./data/state.json"

	// scanPollSpec is the fixed poll cadence. The engine rate-limits
	// itself with the configured scan interval, so polling stays cheap.
	scanPollSpec = "@every 1m"
)

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	hist    *history.Store
	state   *proactive.Store
	adapter transport.Adapter
	engine  *proactive.Engine
	crond   *cron.Cron

	owners map[int64]struct{}

	updates chan transport.Message
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	log = log.With(logx.String("comp", "app"))

	token := strings.TrimSpace(cfg.Telegram.Token)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN"))
	}
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       token,
		PollTimeout: pollTimeout,
	}, logs.Logger().With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	histPath := strings.TrimSpace(cfg.History.Path)
	if histPath == "" {
		histPath = defaultHistoryPath
	}
	hist, err := history.Open(histPath, logs.Logger().With(logx.String("comp", "history")))
	if err != nil {
		return nil, err
	}

	statePath := strings.TrimSpace(cfg.Proactive.State.Path)
	if statePath == "" {
		statePath = defaultStatePath
	}
	clock := proactive.SystemClock()
	state := proactive.NewStore(statePath, cfg.Proactive.RetentionDays(), clock,
		logs.Logger().With(logx.String("comp", "state")))

	gen, err := buildGenerator(cfg, logs.Logger().With(logx.String("comp", "generate")))
	if err != nil {
		_ = hist.Close()
		return nil, err
	}

	source := &historySource{hist: hist}
	eval := proactive.NewEvaluator(state, source, logs.Logger().With(logx.String("comp", "evaluate")))
	engine := proactive.NewEngine(proactive.EngineDeps{
		Store:     state,
		Evaluator: eval,
		Channels:  source,
		Source:    source,
		Generator: gen,
		Deliverer: adapter,
		Clock:     clock,
		Logger:    logs.Logger().With(logx.String("comp", "engine")),
	})
	engine.SetSettings(settingsFrom(cfg.Proactive))

	// Archive our own sends so transcripts include both sides.
	engine.OnDelivered = func(ctx context.Context, channelID, text string) {
		err := hist.Record(ctx, history.Message{
			ChannelID: channelID,
			UserID:    "self",
			Content:   text,
			SentAt:    time.Now(),
			FromSelf:  true,
		})
		if err != nil {
			log.Warn("failed to archive own send", logx.Err(err), logx.String("channel", channelID))
		}
	}

	owners := make(map[int64]struct{}, len(cfg.Telegram.OwnerUserIDs))
	for _, id := range cfg.Telegram.OwnerUserIDs {
		owners[id] = struct{}{}
	}

	return &App{
		cfgm:    cfgm,
		logs:    logs,
		log:     log,
		hist:    hist,
		state:   state,
		adapter: adapter,
		engine:  engine,
		crond:   cron.New(),
		owners:  owners,
	}, nil
}

func buildGenerator(cfg *config.Config, log logx.Logger) (proactive.Generator, error) {
	apiKey := strings.TrimSpace(cfg.Generate.APIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
	if apiKey == "" {
		if cfg.Proactive.Enabled {
			return nil, errors.New("generate.api_key is required when proactive is enabled")
		}
		return disabledGenerator{}, nil
	}
	return generate.New(generate.Config{
		APIKey:  apiKey,
		BaseURL: cfg.Generate.BaseURL,
		Model:   cfg.Generate.Model,
		Persona: cfg.Generate.Persona,
	}, log)
}

type disabledGenerator struct{}

func (disabledGenerator) Generate(ctx context.Context, prompt string) (proactive.Generation, error) {
	return proactive.Generation{}, errors.New("generation is not configured")
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.updates = make(chan transport.Message, 256)
	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		cancel()
		return err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.updateLoop(runCtx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(runCtx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.reloadLoop(runCtx)
	}()

	if _, err := a.crond.AddFunc(scanPollSpec, func() {
		sctx, scancel := context.WithTimeout(runCtx, 5*time.Minute)
		defer scancel()
		a.engine.Scan(sctx)
	}); err != nil {
		cancel()
		return err
	}
	a.crond.Start()

	a.log.Info("tendbot started",
		logx.Bool("proactive", a.engine.Settings().Enabled),
		logx.Int("owners", len(a.owners)),
	)
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	// Stop producing work first, then drain, then flush state.
	stopped := a.crond.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}

	if a.cancel != nil {
		a.cancel()
	}
	_ = a.adapter.Stop(ctx)
	a.wg.Wait()

	a.state.Close()
	if err := a.hist.Close(); err != nil {
		a.log.Warn("history close failed", logx.Err(err))
	}
	a.log.Info("tendbot stopped")
	_ = a.logs.Close()
	return nil
}

func (a *App) updateLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-a.updates:
			a.handleMessage(ctx, m)
		}
	}
}

func (a *App) handleMessage(ctx context.Context, m transport.Message) {
	// This bot only tends private conversations.
	if m.IsGroup {
		return
	}

	if strings.HasPrefix(m.Text, "/tend") {
		a.handleTendCommand(ctx, m)
		return
	}
	if strings.HasPrefix(m.Text, "/") {
		// Other commands are not archived; they are not conversation.
		return
	}

	userID := strconv.FormatInt(m.FromID, 10)
	err := a.hist.Record(ctx, history.Message{
		ChannelID: m.ChannelID,
		UserID:    userID,
		Username:  m.FromUsername,
		Content:   m.Text,
		SentAt:    m.SentAt,
	})
	if err != nil {
		a.log.Warn("failed to archive message", logx.Err(err), logx.String("channel", m.ChannelID))
	}

	set := a.engine.Settings()
	if !set.Enabled || !set.Allows(userID) {
		return
	}
	a.state.RecordUserActivity(m.ChannelID, m.SentAt)
}

// handleTendCommand is the owner-only manual trigger:
//
//	/tend            trigger for the chat the command was sent in
//	/tend <chat_id>  trigger for another known channel
func (a *App) handleTendCommand(ctx context.Context, m transport.Message) {
	if _, ok := a.owners[m.FromID]; !ok {
		return
	}

	channelID := m.ChannelID
	userID := strconv.FormatInt(m.FromID, 10)

	arg := strings.TrimSpace(strings.TrimPrefix(m.Text, "/tend"))
	if arg != "" {
		ch, ok, err := a.hist.Channel(ctx, arg)
		if err != nil || !ok {
			_ = a.adapter.SendText(ctx, m.ChannelID, "unknown channel: "+arg)
			return
		}
		channelID = ch.ID
		userID = ch.UserID
	}

	a.log.Info("manual trigger requested",
		logx.String("channel", channelID),
		logx.Int64("by", m.FromID),
	)
	sent := a.engine.TriggerNow(ctx, channelID, userID, proactive.ReasonManual)
	if !sent && channelID != m.ChannelID {
		_ = a.adapter.SendText(ctx, m.ChannelID, "no message sent (see logs)")
	}
}

func (a *App) reloadLoop(ctx context.Context) {
	ch := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok || cfg == nil {
				return
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.engine.SetSettings(settingsFrom(cfg.Proactive))
			a.state.SetRetention(cfg.Proactive.RetentionDays())
			a.log.Info("configuration applied",
				logx.Bool("proactive", cfg.Proactive.Enabled),
				logx.Int("retention_days", cfg.Proactive.RetentionDays()),
			)
		}
	}
}
