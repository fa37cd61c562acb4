package proactive

import (
	"context"
	"time"

	logx "tendbot/pkg/logx"
)

// ActivityResolver looks up the most recent inbound message time for a
// channel when the state store has no cached value. ok=false means the
// channel has no usable history.
type ActivityResolver interface {
	LatestActivity(ctx context.Context, channelID string) (time.Time, bool, error)
}

// Evaluator is the fire/no-fire decision. It is pure with respect to its
// inputs: a Settings snapshot, Store reads, and the activity resolver.
type Evaluator struct {
	store    *Store
	resolver ActivityResolver
	log      logx.Logger
}

func NewEvaluator(store *Store, resolver ActivityResolver, log logx.Logger) *Evaluator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Evaluator{store: store, resolver: resolver, log: log}
}

// ShouldTrigger runs the gate chain in a fixed order and short-circuits on
// the first failing gate. Cheap static checks (flags, filter, quiet hours)
// run before anything that might hit the history archive.
func (e *Evaluator) ShouldTrigger(ctx context.Context, set Settings, channelID, userID string, now time.Time) bool {
	if !set.Enabled {
		return false
	}
	if !set.SilenceEnabled {
		return false
	}
	if !set.Allows(userID) {
		return false
	}
	if set.InQuietHours(now) {
		return false
	}

	lastUser, ok := e.resolveLastActivity(ctx, channelID)
	if !ok {
		// Nothing to react to.
		return false
	}
	if now.Sub(lastUser) < set.SilenceThreshold {
		return false
	}

	// Require-reply gate: a proactive send made today that the user has not
	// replied to blocks further sends for the rest of the day. Note the
	// deliberate asymmetry: the activity comparison is plain ordering, the
	// "today" check is calendar-date equality on the proactive side only.
	if set.RequireReply {
		if lp, has := e.store.GetLastProactive(channelID); has {
			if !lp.Before(lastUser) && sameDate(lp, now) {
				return false
			}
		}
	}

	if lp, has := e.store.GetLastProactive(channelID); has {
		if set.MinInterval > 0 && now.Sub(lp) < set.MinInterval {
			return false
		}
	}

	if set.DailyMax > 0 && e.store.GetDailyCount(channelID) >= set.DailyMax {
		return false
	}

	return true
}

// resolveLastActivity prefers the store's cache and falls back to the
// history archive, feeding any resolved timestamp back into the cache.
func (e *Evaluator) resolveLastActivity(ctx context.Context, channelID string) (time.Time, bool) {
	if ts, ok := e.store.GetLastUserActivity(channelID); ok {
		return ts, true
	}
	if e.resolver == nil {
		return time.Time{}, false
	}
	ts, ok, err := e.resolver.LatestActivity(ctx, channelID)
	if err != nil {
		e.log.Error("last activity lookup failed", logx.Err(err), logx.String("channel", channelID))
		return time.Time{}, false
	}
	if !ok || ts.IsZero() {
		return time.Time{}, false
	}
	e.store.RecordUserActivity(channelID, ts)
	return ts, true
}
