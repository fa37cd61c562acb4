package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	kit "tendbot/internal/transport"
	logx "tendbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Adapter bridges telebot's long-poll loop to the transport API.
type Adapter struct {
	cfg Config
	log logx.Logger

	bot *tele.Bot
	out atomic.Value // stores (chan<- kit.Message)

	runMu   sync.Mutex
	running bool
	done    chan struct{}

	// Telegram caps bot sends globally; one limiter covers all chats.
	limiter *rate.Limiter

	// dropped counts updates discarded because the consumer was slower
	// than the poll loop. Logged on Stop to avoid per-update spam.
	dropped uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{
		cfg:     cfg,
		log:     log,
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(25), 25),
	}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- kit.Message
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	handler := func(c tele.Context) error {
		if m, ok := inbound(c.Message()); ok {
			a.forward(m)
		}
		return nil
	}
	// Any private message counts as conversation activity, so media updates
	// (stickers, photos, voice, ...) are forwarded alongside text.
	a.bot.Handle(tele.OnText, handler)
	a.bot.Handle(tele.OnMedia, handler)
}

// inbound converts a telebot update to the transport message. Media without
// a caption is archived as a bracketed placeholder; it still resets the
// silence clock like any other message.
func inbound(m *tele.Message) (kit.Message, bool) {
	if m == nil || m.Sender == nil || m.Chat == nil {
		return kit.Message{}, false
	}
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	if text == "" {
		text = mediaLabel(m)
	}
	return kit.Message{
		ID:           m.ID,
		ChannelID:    strconv.FormatInt(m.Chat.ID, 10),
		ChatID:       m.Chat.ID,
		FromID:       m.Sender.ID,
		FromUsername: m.Sender.Username,
		Text:         text,
		IsGroup:      m.Chat.Type != tele.ChatPrivate,
		SentAt:       m.Time(),
	}, true
}

func mediaLabel(m *tele.Message) string {
	switch {
	case m.Sticker != nil:
		return "[sticker]"
	case m.Photo != nil:
		return "[photo]"
	case m.Voice != nil:
		return "[voice message]"
	case m.VideoNote != nil:
		return "[video note]"
	case m.Video != nil:
		return "[video]"
	case m.Audio != nil:
		return "[audio]"
	case m.Animation != nil:
		return "[animation]"
	case m.Document != nil:
		return "[file]"
	default:
		return "[attachment]"
	}
}

func (a *Adapter) forward(m kit.Message) {
	v := a.out.Load()
	out, _ := v.(chan<- kit.Message)
	if out == nil {
		return
	}
	select {
	case out <- m:
	default:
		atomic.AddUint64(&a.dropped, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Message) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		a.bot.Start() // blocks until bot.Stop()
	}(a.done)

	go func() {
		<-ctx.Done()
		_ = a.Stop(context.Background())
	}()

	a.log.Info("telegram adapter started", logx.Duration("poll_timeout", a.cfg.PollTimeout))
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	if !a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = false
	done := a.done
	var nilOut chan<- kit.Message
	a.out.Store(nilOut)
	a.runMu.Unlock()

	a.bot.Stop()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	if n := atomic.LoadUint64(&a.dropped); n > 0 {
		a.log.Warn("updates dropped during run", logx.Int64("count", int64(n)))
	}
	a.log.Info("telegram adapter stopped")
	return nil
}

func (a *Adapter) SendText(ctx context.Context, channelID string, text string) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(channelID), 10, 64)
	if err != nil {
		return errors.New("invalid telegram channel id: " + channelID)
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err = a.bot.Send(tele.ChatID(chatID), text)
	return err
}
