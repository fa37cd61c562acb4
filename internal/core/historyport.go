package core

import (
	"context"
	"time"

	"tendbot/internal/history"
	"tendbot/internal/proactive"
)

// historySource adapts the sqlite archive to the collaborator interfaces
// the proactive engine consumes.
type historySource struct {
	hist *history.Store
}

func (h *historySource) LatestActivity(ctx context.Context, channelID string) (time.Time, bool, error) {
	m, ok, err := h.hist.LatestUserMessage(ctx, channelID, time.Now())
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	return m.SentAt, true, nil
}

func (h *historySource) LatestUserMessage(ctx context.Context, channelID string) (string, time.Time, bool, error) {
	m, ok, err := h.hist.LatestUserMessage(ctx, channelID, time.Now())
	if err != nil || !ok {
		return "", time.Time{}, false, err
	}
	return m.Content, m.SentAt, true, nil
}

func (h *historySource) Transcript(ctx context.Context, channelID string, limit int) ([]proactive.TranscriptEntry, error) {
	msgs, err := h.hist.Recent(ctx, channelID, time.Now(), limit, false)
	if err != nil {
		return nil, err
	}
	out := make([]proactive.TranscriptEntry, 0, len(msgs))
	for _, m := range msgs {
		speaker := m.Username
		if speaker == "" {
			speaker = m.UserID
		}
		out = append(out, proactive.TranscriptEntry{
			Speaker:  speaker,
			Text:     m.Content,
			At:       m.SentAt,
			FromSelf: m.FromSelf,
		})
	}
	return out, nil
}

func (h *historySource) DisplayName(ctx context.Context, channelID string) string {
	return h.hist.DisplayName(ctx, channelID)
}

func (h *historySource) Candidates(ctx context.Context) ([]proactive.Candidate, error) {
	chans, err := h.hist.Channels(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]proactive.Candidate, 0, len(chans))
	for _, c := range chans {
		out = append(out, proactive.Candidate{ChannelID: c.ID, UserID: c.UserID})
	}
	return out, nil
}
