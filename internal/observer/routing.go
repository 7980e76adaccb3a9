package observer

import (
	"fmt"
	"strings"
)

// RoutingDecision is the merged generation plan for one turn.
type RoutingDecision struct {
	TokenBudget   int
	ExpandedModel bool
	Reason        string
}

// MergedGuidance is everything the prompt builder needs for the turn: the
// routing decision plus the combined steering text derived from both layers.
type MergedGuidance struct {
	Routing          RoutingDecision
	Tone             string
	PriorityAction   string
	Avoid            []string
	TransitionPhrase string
	DeliverReminder  bool
	Notes            []string
}

// Merge combines the quick and director signals for a turn into one guidance
// aggregate. Budget invariants: the result is at least the maximum of the
// contributing recommendations and clamped to [minBudget, maxBudget]. The
// reminder directive is forced off while the latest valence is negative,
// regardless of what the director asked for.
func Merge(quick QuickSignal, director DirectorSignal, minBudget, maxBudget int) MergedGuidance {
	budget := minBudget
	reason := "baseline"
	if quick.TokenBudget > budget {
		budget = quick.TokenBudget
		reason = "quick-signal"
	}
	if director.TokenBudget > budget {
		budget = director.TokenBudget
		reason = "director"
	}
	if budget > maxBudget {
		budget = maxBudget
		reason += ",clamped"
	}

	expanded := quick.HealthMention || quick.SafetyMention || quick.Valence == ValenceNegative

	tone := director.Tone
	if tone == "" {
		tone = "warm"
	}

	g := MergedGuidance{
		Routing: RoutingDecision{
			TokenBudget:   budget,
			ExpandedModel: expanded,
			Reason:        reason,
		},
		Tone:             tone,
		PriorityAction:   director.PriorityAction,
		Avoid:            director.Avoid,
		TransitionPhrase: director.TransitionPhrase,
		DeliverReminder:  director.DeliverReminder && quick.Valence != ValenceNegative,
		Notes:            append([]string(nil), quick.Guidance...),
	}

	if quick.Engagement == EngagementLow {
		g.Notes = append(g.Notes, "engagement is low: ask an inviting, open question about something they care about")
	}
	if quick.ExplicitQuestion {
		g.Notes = append(g.Notes, "answer the caller's question directly before anything else")
	}
	return g
}

// PromptFragment renders the guidance as system-prompt text.
func (g MergedGuidance) PromptFragment() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tone: %s.", g.Tone)
	if g.PriorityAction != "" {
		fmt.Fprintf(&b, " Priority: %s.", g.PriorityAction)
	}
	if len(g.Avoid) > 0 {
		fmt.Fprintf(&b, " Avoid: %s.", strings.Join(g.Avoid, "; "))
	}
	for _, n := range g.Notes {
		b.WriteString(" ")
		b.WriteString(n)
		if !strings.HasSuffix(n, ".") {
			b.WriteString(".")
		}
	}
	return b.String()
}
