package proactive

import (
	"fmt"
	"strings"
	"time"
)

type PromptInput struct {
	UserName   string
	Reason     string
	Now        time.Time
	LastText   string
	LastAt     time.Time
	Transcript []TranscriptEntry
}

// BuildPrompt assembles the user-turn prompt for one proactive attempt.
// The persona lives in the generation client's system message; this side
// carries the situational context: elapsed time, the last thing the user
// said, and a short transcript.
func BuildPrompt(in PromptInput) string {
	name := strings.TrimSpace(in.UserName)
	if name == "" {
		name = "them"
	}
	lastText := strings.TrimSpace(in.LastText)
	if lastText == "" {
		lastText = "(no content)"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Current time: %s\n", in.Now.Format("2006-01-02 15:04"))
	if !in.LastAt.IsZero() {
		gap := in.Now.Sub(in.LastAt)
		fmt.Fprintf(&b, "%s last wrote %s ago (%s): %s\n",
			name, humanGap(gap), in.LastAt.Format("2006-01-02 15:04"), lastText)
	} else {
		fmt.Fprintf(&b, "%s last wrote: %s\n", name, lastText)
	}
	fmt.Fprintf(&b, "Trigger: %s\n", in.Reason)

	if len(in.Transcript) > 0 {
		fmt.Fprintf(&b, "\nRecent conversation with %s:\n", name)
		for _, e := range in.Transcript {
			speaker := e.Speaker
			if e.FromSelf {
				speaker = "you"
			} else if speaker == "" {
				speaker = name
			}
			fmt.Fprintf(&b, "[%s ago] %s: %s\n", humanGap(in.Now.Sub(e.At)), speaker, e.Text)
		}
	}

	b.WriteString("\nThe conversation has gone quiet. Write one short, casual message to " +
		name + " to pick it back up. Stay on a single topic, keep it natural for the time " +
		"of day and the gap since their last message, and don't mention being automated. " +
		"Output only the message text, with no prefix, quotes, or commentary.")
	return b.String()
}

func humanGap(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return "moments"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
