package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"tendbot/internal/transport"
	logx "tendbot/pkg/logx"
)

// Message is one archived message.
type Message struct {
	ChannelID string
	UserID    string
	Username  string
	Content   string
	SentAt    time.Time
	FromSelf  bool // true for the bot's own sends
}

// Channel is one known conversation, with the user on the other side.
type Channel struct {
	ID       string
	UserID   string
	Username string
	LastSeen time.Time
}

type Store struct {
	db  *sql.DB
	log logx.Logger
}

func Open(path string, log logx.Logger) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("history path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// modernc sqlite serializes per connection; a single connection avoids
	// SQLITE_BUSY between the update loop and the scan loop.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			channel_id TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			username   TEXT NOT NULL DEFAULT '',
			content    TEXT NOT NULL,
			ts         INTEGER NOT NULL,
			from_self  INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_messages_channel_ts ON messages(channel_id, ts);

		CREATE TABLE IF NOT EXISTS channels (
			channel_id TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			username   TEXT NOT NULL DEFAULT '',
			kind       TEXT NOT NULL DEFAULT 'telegram-private',
			last_seen  INTEGER NOT NULL
		);
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}

	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record archives a message. Inbound messages also refresh the channel
// registry; the bot's own sends do not change who the channel belongs to.
func (s *Store) Record(ctx context.Context, m Message) error {
	ts := m.SentAt.Unix()
	fromSelf := 0
	if m.FromSelf {
		fromSelf = 1
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (channel_id, user_id, username, content, ts, from_self)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.ChannelID, m.UserID, m.Username, m.Content, ts, fromSelf); err != nil {
		return fmt.Errorf("archive message: %w", err)
	}
	if m.FromSelf {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO channels (channel_id, user_id, username, kind, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET
			user_id = excluded.user_id,
			username = excluded.username,
			last_seen = excluded.last_seen
	`, m.ChannelID, m.UserID, m.Username, transport.KindTelegramPrivate, ts); err != nil {
		return fmt.Errorf("register channel: %w", err)
	}
	return nil
}

// LatestUserMessage returns the most recent inbound (non-self) message of a
// channel at or before cutoff. ok=false means the channel has no usable
// history.
func (s *Store) LatestUserMessage(ctx context.Context, channelID string, cutoff time.Time) (Message, bool, error) {
	msgs, err := s.Recent(ctx, channelID, cutoff, 1, true)
	if err != nil || len(msgs) == 0 {
		return Message{}, false, err
	}
	return msgs[0], true, nil
}

// Recent returns up to limit messages of a channel at or before cutoff,
// oldest first. usersOnly excludes the bot's own sends.
func (s *Store) Recent(ctx context.Context, channelID string, cutoff time.Time, limit int, usersOnly bool) ([]Message, error) {
	if limit <= 0 {
		limit = 1
	}
	q := `
		SELECT user_id, username, content, ts, from_self
		FROM messages
		WHERE channel_id = ? AND ts <= ?`
	if usersOnly {
		q += ` AND from_self = 0`
	}
	q += ` ORDER BY ts DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, q, channelID, cutoff.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m        Message
			ts       int64
			fromSelf int
		)
		if err := rows.Scan(&m.UserID, &m.Username, &m.Content, &ts, &fromSelf); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		m.ChannelID = channelID
		m.SentAt = time.Unix(ts, 0)
		m.FromSelf = fromSelf != 0
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// newest-first from the query; callers want chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Channels lists all known private channels, most recently active first.
func (s *Store) Channels(ctx context.Context) ([]Channel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT channel_id, user_id, username, last_seen
		FROM channels
		ORDER BY last_seen DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	var out []Channel
	for rows.Next() {
		var (
			c  Channel
			ts int64
		)
		if err := rows.Scan(&c.ID, &c.UserID, &c.Username, &ts); err != nil {
			return nil, fmt.Errorf("scan channel row: %w", err)
		}
		c.LastSeen = time.Unix(ts, 0)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Channel returns the registry entry for one channel.
func (s *Store) Channel(ctx context.Context, channelID string) (Channel, bool, error) {
	var (
		c  Channel
		ts int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT channel_id, user_id, username, last_seen
		FROM channels WHERE channel_id = ?
	`, channelID).Scan(&c.ID, &c.UserID, &c.Username, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return Channel{}, false, nil
	}
	if err != nil {
		return Channel{}, false, fmt.Errorf("query channel: %w", err)
	}
	c.LastSeen = time.Unix(ts, 0)
	return c, true, nil
}

// DisplayName resolves a readable name for the user behind a channel.
func (s *Store) DisplayName(ctx context.Context, channelID string) string {
	var userID, username string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, username FROM channels WHERE channel_id = ?
	`, channelID).Scan(&userID, &username)
	if err != nil {
		return channelID
	}
	if strings.TrimSpace(username) != "" {
		return username
	}
	return userID
}
