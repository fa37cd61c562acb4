package transport

import (
	"context"
	"time"
)

// KindTelegramPrivate identifies the channel type this bot operates on.
// Group and broadcast chats are surfaced with IsGroup=true and are never
// scanned.
const KindTelegramPrivate = "telegram-private"

// Message is one inbound message from the platform.
//
// ChannelID is the opaque per-conversation key used everywhere downstream
// (state store, history archive). For Telegram it is the decimal chat id.
type Message struct {
	ID           int
	ChannelID    string
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
	SentAt       time.Time
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Message) error
	Stop(ctx context.Context) error

	// SendText delivers text to a channel. Failure means the message was
	// not delivered; callers must not record it as sent.
	SendText(ctx context.Context, channelID string, text string) error
}
