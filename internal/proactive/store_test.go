package proactive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	logx "tendbot/pkg/logx"
)

// fakeClock is safe to advance while the store's flush goroutine reads it.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newTestStore(t *testing.T, clock Clock) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewStore(path, 30, clock, logx.Nop())
	t.Cleanup(s.Close)
	return s
}

func TestDailyCountRollover(t *testing.T) {
	t.Parallel()
	yesterday := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	today := yesterday.Add(24 * time.Hour)
	clock := &fakeClock{now: yesterday}
	s := newTestStore(t, clock)

	for i := 0; i < 5; i++ {
		s.RecordProactiveSend("ch", yesterday, fmt.Sprintf("yesterday message %d", i))
	}
	if got := s.GetDailyCount("ch"); got != 5 {
		t.Fatalf("count on send day = %d, want 5", got)
	}

	clock.Set(today)
	if got := s.GetDailyCount("ch"); got != 0 {
		t.Fatalf("stale counter read as %d, want 0", got)
	}

	s.RecordProactiveSend("ch", today, "first of the day")
	if got := s.GetDailyCount("ch"); got != 1 {
		t.Fatalf("count after rollover increment = %d, want 1", got)
	}
}

func TestRecentSentCapping(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, &fakeClock{now: now})

	for i := 0; i <= recentSentMax; i++ {
		s.RecordProactiveSend("ch", now.Add(time.Duration(i)*time.Minute), fmt.Sprintf("note %d", i))
	}
	if got := s.RecentSentCount("ch"); got != recentSentMax {
		t.Fatalf("recent count = %d, want %d", got, recentSentMax)
	}
	if s.IsDuplicateRecent("ch", "note 0") {
		t.Fatal("oldest entry should have been evicted")
	}
	if !s.IsDuplicateRecent("ch", "note 1") {
		t.Fatal("second entry should survive the cap")
	}
	if !s.IsDuplicateRecent("ch", fmt.Sprintf("note %d", recentSentMax)) {
		t.Fatal("newest entry should be present")
	}
}

func TestNormalizeContent(t *testing.T) {
	t.Parallel()
	tests := []struct {
		a, b string
		same bool
	}{
		{"Hello, World!", "hello world", true},
		{"Hello World", "Hello  World", true},
		{"Hello", "Hello!!", true},
		{"Hello~", "hello", true},
		{"Hello", "Yellow", false},
		{"  spaced out  ", "spacedout", true},
	}
	for _, tt := range tests {
		got := normalizeContent(tt.a) == normalizeContent(tt.b)
		if got != tt.same {
			t.Fatalf("normalize(%q) vs normalize(%q): same=%v, want %v", tt.a, tt.b, got, tt.same)
		}
	}
}

func TestRecordUserActivityKeepsNewest(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, &fakeClock{now: now})

	s.RecordUserActivity("ch", now)
	s.RecordUserActivity("ch", now.Add(-time.Hour)) // older; ignored
	got, ok := s.GetLastUserActivity("ch")
	if !ok || !got.Equal(now) {
		t.Fatalf("last activity = %v (ok=%v), want %v", got, ok, now)
	}

	s.RecordUserActivity("ch", now.Add(time.Hour))
	got, _ = s.GetLastUserActivity("ch")
	if !got.Equal(now.Add(time.Hour)) {
		t.Fatalf("newer activity not recorded, got %v", got)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	path := filepath.Join(t.TempDir(), "state.json")

	s := NewStore(path, 30, clock, logx.Nop())
	s.RecordUserActivity("ch", now.Add(-time.Hour))
	s.RecordProactiveSend("ch", now, "checking in on you")
	s.Flush()

	r := NewStore(path, 30, clock, logx.Nop())
	if got, ok := r.GetLastUserActivity("ch"); !ok || !got.Equal(now.Add(-time.Hour)) {
		t.Fatalf("last activity after reload = %v (ok=%v)", got, ok)
	}
	if got, ok := r.GetLastProactive("ch"); !ok || !got.Equal(now) {
		t.Fatalf("last proactive after reload = %v (ok=%v)", got, ok)
	}
	if got := r.GetDailyCount("ch"); got != 1 {
		t.Fatalf("daily count after reload = %d, want 1", got)
	}
	if !r.IsDuplicateRecent("ch", "Checking in, on you!") {
		t.Fatal("dedup history lost across reload")
	}
}

func TestCrashLeavesCompleteFile(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	path := filepath.Join(t.TempDir(), "state.json")

	s := NewStore(path, 30, clock, logx.Nop())
	s.RecordProactiveSend("ch", now, "hello")
	s.Flush()

	// Crash between temp write and rename: a stale temp file is left
	// behind. Loading must see the previous complete snapshot.
	if err := os.WriteFile(path+".tmp", []byte(`{"half written`), 0o600); err != nil {
		t.Fatal(err)
	}
	r := NewStore(path, 30, clock, logx.Nop())
	if got := r.GetDailyCount("ch"); got != 1 {
		t.Fatalf("daily count after simulated crash = %d, want 1", got)
	}
}

func TestMalformedOrAbsentStateStartsEmpty(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	dir := t.TempDir()

	absent := NewStore(filepath.Join(dir, "missing.json"), 30, clock, logx.Nop())
	if _, ok := absent.GetLastUserActivity("ch"); ok {
		t.Fatal("absent file should load as empty state")
	}

	bad := filepath.Join(dir, "garbage.json")
	if err := os.WriteFile(bad, []byte("not json at all"), 0o600); err != nil {
		t.Fatal(err)
	}
	s := NewStore(bad, 30, clock, logx.Nop())
	if _, ok := s.GetLastUserActivity("ch"); ok {
		t.Fatal("malformed file should load as empty state")
	}
}

func TestRetentionPruning(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	s := newTestStore(t, clock)

	s.RecordUserActivity("stale", now.Add(-31*24*time.Hour))
	s.RecordUserActivity("fresh", now.Add(-29*24*time.Hour))
	s.Flush()

	if _, ok := s.GetLastUserActivity("stale"); ok {
		t.Fatal("channel past the retention horizon should be removed")
	}
	if _, ok := s.GetLastUserActivity("fresh"); !ok {
		t.Fatal("channel inside the retention horizon should survive")
	}
}

func TestRetentionPrunesOldDedupEntries(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	s := newTestStore(t, clock)

	s.RecordProactiveSend("ch", now.Add(-31*24*time.Hour), "ancient message")
	s.RecordProactiveSend("ch", now.Add(-time.Hour), "recent message")
	s.Flush()

	if s.IsDuplicateRecent("ch", "ancient message") {
		t.Fatal("dedup entry older than the horizon should be dropped")
	}
	if !s.IsDuplicateRecent("ch", "recent message") {
		t.Fatal("recent dedup entry should survive the channel-level prune")
	}
	// The channel's counters stay even though an old entry was dropped.
	if _, ok := s.GetLastProactive("ch"); !ok {
		t.Fatal("channel record should be retained")
	}
}

func TestRetentionDisabled(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewStore(path, 0, clock, logx.Nop())

	s.RecordUserActivity("old", now.Add(-400*24*time.Hour))
	s.Flush()
	if _, ok := s.GetLastUserActivity("old"); !ok {
		t.Fatal("retentionDays<=0 must disable pruning")
	}
}

func TestBackgroundFlushEventuallyWrites(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewStore(path, 30, &fakeClock{now: now}, logx.Nop())

	s.RecordUserActivity("ch", now)

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(path); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("background flush never wrote the snapshot")
		}
		time.Sleep(10 * time.Millisecond)
	}
	s.Close()
}

func TestMutationDuringFlushKeepsSingleWriter(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewStore(path, 30, clock, logx.Nop())

	// Put the store in the state Flush holds while its snapshot write is on
	// disk: writer slot claimed, lock released.
	s.mu.Lock()
	s.flushing = true
	s.flushDone = make(chan struct{})
	done := s.flushDone
	s.mu.Unlock()

	s.RecordProactiveSend("ch", now, "landed mid-write")

	s.mu.Lock()
	secondWriter := s.flushDone != done
	pending := s.dirty
	s.mu.Unlock()
	if secondWriter {
		t.Fatal("mutation during a flush must not start a second writer")
	}
	if !pending {
		t.Fatal("mutation must stay pending for the running flush to pick up")
	}

	// Drain as the owning writer would; the pending mutation must land.
	s.flushLoop(done)
	r := NewStore(path, 30, clock, logx.Nop())
	if !r.IsDuplicateRecent("ch", "landed mid-write") {
		t.Fatal("mid-flush mutation lost")
	}

	s.mu.Lock()
	clean := !s.flushing && !s.dirty
	s.mu.Unlock()
	if !clean {
		t.Fatal("store should be clean after the flush drains")
	}
}

func TestFlushUnderConcurrentMutation(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewStore(path, 0, clock, logx.Nop())

	const sends = 200
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < sends; i++ {
			s.RecordProactiveSend("ch", now.Add(time.Duration(i)*time.Second), fmt.Sprintf("burst %d", i))
		}
	}()

	// Every snapshot observed while flushes race the mutator must be a
	// complete JSON document, never a partial write.
	for i := 0; i < 50; i++ {
		s.Flush()
		b, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var doc map[string]any
		if jerr := json.Unmarshal(b, &doc); jerr != nil {
			t.Fatalf("snapshot %d not a complete document: %v", i, jerr)
		}
	}
	wg.Wait()
	s.Close()

	r := NewStore(path, 0, clock, logx.Nop())
	if got := r.GetDailyCount("ch"); got != sends {
		t.Fatalf("daily count after reload = %d, want %d", got, sends)
	}
	if !r.IsDuplicateRecent("ch", fmt.Sprintf("burst %d", sends-1)) {
		t.Fatal("final mutation missing from the reloaded snapshot")
	}
}

func TestCloseFlushesPendingWrites(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	path := filepath.Join(t.TempDir(), "state.json")

	s := NewStore(path, 30, clock, logx.Nop())
	s.RecordProactiveSend("ch", now, "last words")
	s.Close()

	r := NewStore(path, 30, clock, logx.Nop())
	if got := r.GetDailyCount("ch"); got != 1 {
		t.Fatalf("mutation dropped on shutdown; count = %d, want 1", got)
	}
}
