package memory

import (
	"fmt"
	"strings"

	"github.com/dmdzco/donna2-sub000/internal/contextwin"
)

// Snippets converts a profile into tiered fragments for the context window.
// Health conditions are critical and survive context pressure; interests and
// family are contextual and only injected when the conversation touches
// them; notes are background color for the call opening.
func Snippets(p Profile) []contextwin.Snippet {
	var out []contextwin.Snippet
	if len(p.Conditions) > 0 {
		out = append(out, contextwin.Snippet{
			SourceID: "profile-conditions:" + p.CallerID,
			Tier:     contextwin.TierCritical,
			Text:     fmt.Sprintf("%s has these health conditions: %s.", nameOr(p), strings.Join(p.Conditions, ", ")),
		})
	}
	if len(p.Interests) > 0 {
		out = append(out, contextwin.Snippet{
			SourceID: "profile-interests:" + p.CallerID,
			Tier:     contextwin.TierContextual,
			Text:     fmt.Sprintf("%s enjoys %s.", nameOr(p), strings.Join(p.Interests, ", ")),
		})
	}
	if len(p.Family) > 0 {
		out = append(out, contextwin.Snippet{
			SourceID: "profile-family:" + p.CallerID,
			Tier:     contextwin.TierContextual,
			Text:     fmt.Sprintf("Family of %s: %s.", nameOr(p), strings.Join(p.Family, ", ")),
		})
	}
	if p.Notes != "" {
		out = append(out, contextwin.Snippet{
			SourceID: "profile-notes:" + p.CallerID,
			Tier:     contextwin.TierBackground,
			Text:     p.Notes,
		})
	}
	return out
}

// ReminderSnippet renders a reminder as a critical fragment once the
// director clears it for delivery.
func ReminderSnippet(r Reminder) contextwin.Snippet {
	return contextwin.Snippet{
		SourceID: "reminder:" + r.ID,
		Tier:     contextwin.TierCritical,
		Text:     "Gently work in this reminder: " + r.Text,
	}
}

func nameOr(p Profile) string {
	if p.Name != "" {
		return p.Name
	}
	return "The caller"
}
