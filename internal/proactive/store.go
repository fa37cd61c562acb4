package proactive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	logx "tendbot/pkg/logx"
)

// recentSentMax bounds the per-channel dedup history.
const recentSentMax = 20

// channelState is the in-memory record for one conversation. All access
// goes through Store; no caller ever holds a live reference.
type channelState struct {
	lastUser      time.Time // zero = unknown
	lastProactive time.Time
	dailyDate     string // "2006-01-02" the counter is valid for
	dailyCount    int
	recent        []sentEntry // oldest first
}

type sentEntry struct {
	content string
	sentAt  time.Time
}

// Store owns all per-channel proactive state.
//
// Mutations mark the store dirty and schedule a background flush; at most
// one flush goroutine is in flight, and it re-checks the dirty flag before
// exiting so writes arriving mid-flush are never lost. The snapshot file is
// written atomically (temp file + rename), so a crash mid-write leaves
// either the old or the new complete file. Age-based pruning runs as part
// of every flush, never synchronously on access.
type Store struct {
	log   logx.Logger
	clock Clock
	path  string

	mu            sync.Mutex
	channels      map[string]*channelState
	retentionDays int
	dirty         bool
	flushing      bool
	flushDone     chan struct{}
}

// NewStore loads the snapshot at path (absent => empty, malformed => warn
// and start empty) and returns a ready store. retentionDays <= 0 disables
// age-based pruning.
func NewStore(path string, retentionDays int, clock Clock, log logx.Logger) *Store {
	if clock == nil {
		clock = SystemClock()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Store{
		log:           log,
		clock:         clock,
		path:          strings.TrimSpace(path),
		channels:      map[string]*channelState{},
		retentionDays: retentionDays,
	}
	s.load()
	return s
}

// SetRetention updates the pruning horizon (config reload).
func (s *Store) SetRetention(days int) {
	s.mu.Lock()
	s.retentionDays = days
	s.mu.Unlock()
}

// RecordUserActivity notes the last time the user side of a channel spoke.
// Older-than-known timestamps are ignored.
func (s *Store) RecordUserActivity(channelID string, ts time.Time) {
	if channelID == "" || ts.IsZero() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.ensureLocked(channelID)
	if !st.lastUser.IsZero() && !ts.After(st.lastUser) {
		return
	}
	st.lastUser = ts
	s.markDirtyLocked()
}

// GetLastUserActivity returns the cached last-activity timestamp. The
// caller is responsible for falling back to the history archive when the
// cache is empty, and feeding the result back via RecordUserActivity.
func (s *Store) GetLastUserActivity(channelID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.channels[channelID]
	if st == nil || st.lastUser.IsZero() {
		return time.Time{}, false
	}
	return st.lastUser, true
}

// GetLastProactive returns the time of the last successful proactive send.
func (s *Store) GetLastProactive(channelID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.channels[channelID]
	if st == nil || st.lastProactive.IsZero() {
		return time.Time{}, false
	}
	return st.lastProactive, true
}

// GetDailyCount returns today's send count. A counter carrying a stale
// date reads as zero; the record itself is rewritten only on the next send.
func (s *Store) GetDailyCount(channelID string) int {
	today := dateOf(s.clock.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.channels[channelID]
	if st == nil || st.dailyDate != today {
		return 0
	}
	return st.dailyCount
}

// RecordProactiveSend records one successful proactive delivery: last-send
// time, daily counter (rolled over if the date changed), and the dedup
// history entry, as a single mutation. Concurrent readers never observe a
// half-updated record.
func (s *Store) RecordProactiveSend(channelID string, ts time.Time, content string) {
	if channelID == "" {
		return
	}
	day := dateOf(ts)
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.ensureLocked(channelID)
	st.lastProactive = ts
	if st.dailyDate != day {
		st.dailyDate = day
		st.dailyCount = 0
	}
	st.dailyCount++
	st.recent = append(st.recent, sentEntry{content: content, sentAt: ts})
	if len(st.recent) > recentSentMax {
		st.recent = st.recent[len(st.recent)-recentSentMax:]
	}
	s.markDirtyLocked()
}

// IsDuplicateRecent reports whether content matches any recent send after
// normalization (lowercased, punctuation and whitespace stripped).
func (s *Store) IsDuplicateRecent(channelID string, content string) bool {
	want := normalizeContent(content)
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.channels[channelID]
	if st == nil {
		return false
	}
	for _, e := range st.recent {
		if normalizeContent(e.content) == want {
			return true
		}
	}
	return false
}

// RecentSentCount is a read-only view for diagnostics and tests.
func (s *Store) RecentSentCount(channelID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.channels[channelID]
	if st == nil {
		return 0
	}
	return len(st.recent)
}

func (s *Store) ensureLocked(channelID string) *channelState {
	st := s.channels[channelID]
	if st == nil {
		st = &channelState{}
		s.channels[channelID] = st
	}
	return st
}

func normalizeContent(content string) string {
	content = strings.ToLower(strings.TrimSpace(content))
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || unicode.IsPunct(r) || r == '~' {
			return -1
		}
		return r
	}, content)
}

// ---- Debounced flush ----

// markDirtyLocked flags pending changes and starts the single background
// flush goroutine if none is running. The goroutine loops while dirty, so
// a mutation landing during a write triggers another pass instead of a
// second concurrent writer.
func (s *Store) markDirtyLocked() {
	s.dirty = true
	if s.flushing {
		return
	}
	s.flushing = true
	s.flushDone = make(chan struct{})
	go s.flushLoop(s.flushDone)
}

func (s *Store) flushLoop(done chan struct{}) {
	defer close(done)
	for {
		s.mu.Lock()
		if !s.dirty {
			s.flushing = false
			s.mu.Unlock()
			return
		}
		s.dirty = false
		s.pruneLocked(s.clock.Now())
		doc := s.snapshotLocked()
		s.mu.Unlock()

		s.writeSnapshot(doc)
	}
}

// Flush waits out any in-flight background flush and then drains pending
// changes on the caller's goroutine. It claims the writer slot for the
// duration, so a mutation landing mid-write extends this flush; at no point
// are two writers in flight. Flush returns with the store clean.
func (s *Store) Flush() {
	for {
		s.mu.Lock()
		if s.flushing {
			done := s.flushDone
			s.mu.Unlock()
			<-done
			continue
		}
		if !s.dirty {
			s.mu.Unlock()
			return
		}
		s.flushing = true
		s.flushDone = make(chan struct{})
		done := s.flushDone
		s.mu.Unlock()

		s.flushLoop(done)
	}
}

// Close guarantees no accepted mutation is dropped on shutdown.
func (s *Store) Close() {
	s.Flush()
}

// ---- Retention ----

// pruneLocked deletes channels whose most recent activity (any timestamp
// field, including the daily counter's date) is past the retention
// horizon, and drops individual dedup entries older than the same cutoff.
func (s *Store) pruneLocked(now time.Time) {
	if s.retentionDays <= 0 {
		return
	}
	cutoff := now.Add(-time.Duration(s.retentionDays) * 24 * time.Hour)

	for id, st := range s.channels {
		last := st.lastUser
		if st.lastProactive.After(last) {
			last = st.lastProactive
		}
		for _, e := range st.recent {
			if e.sentAt.After(last) {
				last = e.sentAt
			}
		}
		if st.dailyDate != "" {
			if dt, err := time.ParseInLocation(dateLayout, st.dailyDate, now.Location()); err == nil {
				if dt.After(last) {
					last = dt
				}
			} else {
				s.log.Warn("unparseable daily counter date", logx.String("channel", id), logx.String("date", st.dailyDate))
			}
		}
		if last.Before(cutoff) {
			delete(s.channels, id)
			continue
		}
		if len(st.recent) > 0 {
			kept := st.recent[:0]
			for _, e := range st.recent {
				if !e.sentAt.Before(cutoff) {
					kept = append(kept, e)
				}
			}
			st.recent = kept
		}
	}
}

// ---- Persistence ----

// The on-disk snapshot: four top-level maps keyed by channel id, with
// timestamps as seconds since epoch.
type stateDocument struct {
	LastUserMessageTS map[string]float64      `json:"last_user_message_ts"`
	LastProactiveTS   map[string]float64      `json:"last_proactive_ts"`
	DailyCount        map[string]dailyRecord  `json:"daily_count"`
	RecentSent        map[string][]sentRecord `json:"recent_sent"`
}

type dailyRecord struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type sentRecord struct {
	Content string  `json:"content"`
	TS      float64 `json:"ts"`
}

func (s *Store) snapshotLocked() stateDocument {
	doc := stateDocument{
		LastUserMessageTS: map[string]float64{},
		LastProactiveTS:   map[string]float64{},
		DailyCount:        map[string]dailyRecord{},
		RecentSent:        map[string][]sentRecord{},
	}
	for id, st := range s.channels {
		if !st.lastUser.IsZero() {
			doc.LastUserMessageTS[id] = float64(st.lastUser.Unix())
		}
		if !st.lastProactive.IsZero() {
			doc.LastProactiveTS[id] = float64(st.lastProactive.Unix())
		}
		if st.dailyDate != "" {
			doc.DailyCount[id] = dailyRecord{Date: st.dailyDate, Count: st.dailyCount}
		}
		if len(st.recent) > 0 {
			recs := make([]sentRecord, 0, len(st.recent))
			for _, e := range st.recent {
				recs = append(recs, sentRecord{Content: e.content, TS: float64(e.sentAt.Unix())})
			}
			doc.RecentSent[id] = recs
		}
	}
	return doc
}

// writeSnapshot persists atomically: serialize to a temp path, then rename
// over the live file. On failure the temp file is removed and the error is
// logged; in-memory state stays authoritative until the next flush.
func (s *Store) writeSnapshot(doc stateDocument) {
	if s.path == "" {
		return
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		s.log.Error("state snapshot marshal failed", logx.Err(err))
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		s.log.Error("state dir create failed", logx.Err(err), logx.String("path", s.path))
		return
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		s.log.Error("state snapshot write failed", logx.Err(err), logx.String("path", tmp))
		_ = os.Remove(tmp)
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.log.Error("state snapshot rename failed", logx.Err(err), logx.String("path", s.path))
		_ = os.Remove(tmp)
	}
}

// load runs from NewStore before the store is shared; no locking needed.
func (s *Store) load() {
	if s.path == "" {
		return
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("state load failed; starting empty", logx.Err(err), logx.String("path", s.path))
		}
		return
	}
	var doc stateDocument
	if err := json.Unmarshal(b, &doc); err != nil {
		s.log.Warn("state file malformed; starting empty", logx.Err(err), logx.String("path", s.path))
		return
	}
	for id, v := range doc.LastUserMessageTS {
		if v > 0 {
			s.ensureLocked(id).lastUser = time.Unix(int64(v), 0)
		}
	}
	for id, v := range doc.LastProactiveTS {
		if v > 0 {
			s.ensureLocked(id).lastProactive = time.Unix(int64(v), 0)
		}
	}
	for id, r := range doc.DailyCount {
		st := s.ensureLocked(id)
		st.dailyDate = r.Date
		if r.Count > 0 {
			st.dailyCount = r.Count
		}
	}
	for id, recs := range doc.RecentSent {
		st := s.ensureLocked(id)
		for _, r := range recs {
			if r.TS <= 0 {
				continue
			}
			st.recent = append(st.recent, sentEntry{content: r.Content, sentAt: time.Unix(int64(r.TS), 0)})
		}
		if len(st.recent) > recentSentMax {
			st.recent = st.recent[len(st.recent)-recentSentMax:]
		}
	}
}
