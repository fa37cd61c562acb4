package proactive

import "time"

// Clock abstracts wall-clock time so day-rollover and quiet-hours logic is
// deterministic under test.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func SystemClock() Clock { return systemClock{} }

const dateLayout = "2006-01-02"

func dateOf(t time.Time) string { return t.Format(dateLayout) }

func sameDate(a, b time.Time) bool { return dateOf(a) == dateOf(b) }
