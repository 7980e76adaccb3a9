package observer

import "time"

// CallPhase is the discrete stage of a companion call. Transitions only move
// forward; an explicit "stay" is the only no-op.
type CallPhase int

const (
	PhaseOpening CallPhase = iota
	PhaseMain
	PhaseWindingDown
	PhaseClosing
	PhaseTerminated
)

// String returns a human-readable phase name.
func (p CallPhase) String() string {
	switch p {
	case PhaseOpening:
		return "OPENING"
	case PhaseMain:
		return "MAIN"
	case PhaseWindingDown:
		return "WINDING_DOWN"
	case PhaseClosing:
		return "CLOSING"
	case PhaseTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// Next returns the phase that follows p. Terminated is terminal.
func (p CallPhase) Next() CallPhase {
	if p >= PhaseTerminated {
		return PhaseTerminated
	}
	return p + 1
}

// Valence is the emotional valence read from the caller's last utterance.
type Valence int

const (
	ValenceNeutral Valence = iota
	ValencePositive
	ValenceNegative
)

func (v Valence) String() string {
	switch v {
	case ValencePositive:
		return "positive"
	case ValenceNegative:
		return "negative"
	default:
		return "neutral"
	}
}

// Engagement is a coarse read of how engaged the caller currently is.
type Engagement int

const (
	EngagementNormal Engagement = iota
	EngagementHigh
	EngagementLow
)

func (e Engagement) String() string {
	switch e {
	case EngagementHigh:
		return "high"
	case EngagementLow:
		return "low"
	default:
		return "normal"
	}
}

// QuickSignal is the Layer 1 result: pure pattern analysis of one finalized
// utterance plus a short rolling window. Turn-scoped; superseded every turn.
type QuickSignal struct {
	HealthMention    bool
	SafetyMention    bool
	FamilyMention    bool
	Topic            string
	Valence          Valence
	ExplicitQuestion bool
	Engagement       Engagement
	GoodbyeCandidate bool
	TokenBudget      int
	Guidance         []string
}

// TransitionDirective is the director's verdict on phase flow.
type TransitionDirective string

const (
	DirectiveStay       TransitionDirective = "stay"
	DirectiveTransition TransitionDirective = "transition"
	DirectiveWrapUp     TransitionDirective = "wrap_up"
)

// DirectorSignal is the Layer 2 result: semantic flow guidance from the fast
// analysis service. Turn-scoped; a stale result may be reused for one turn.
type DirectorSignal struct {
	Topic            string              `json:"current_topic"`
	PhaseEstimate    string              `json:"phase_estimate"`
	Engagement       string              `json:"engagement"`
	Directive        TransitionDirective `json:"directive"`
	TransitionPhrase string              `json:"transition_phrase"`
	DeliverReminder  bool                `json:"deliver_reminder"`
	Tone             string              `json:"tone"`
	PriorityAction   string              `json:"priority_action"`
	Avoid            []string            `json:"avoid"`
	TokenBudget      int                 `json:"token_budget"`

	// Turn is the turn sequence the signal was requested for. Results landing
	// after a newer dispatch are discarded by the session.
	Turn int `json:"-"`
	At   time.Time
}

// DefaultDirectorSignal is the safe degradation used when the director is
// late, missing, or malformed: stay, no reminder, neutral tone.
func DefaultDirectorSignal(turn int) DirectorSignal {
	return DirectorSignal{
		Directive: DirectiveStay,
		Tone:      "warm",
		Turn:      turn,
		At:        time.Now(),
	}
}

// Concern is one post-call finding.
type Concern struct {
	Category string `json:"category"` // health, cognitive, safety, emotional, social
	Severity int    `json:"severity"` // 1 (note) .. 5 (urgent)
	Detail   string `json:"detail"`
}

// DeepSignal is the Layer 3 result, written once per call after termination.
type DeepSignal struct {
	CallID     string    `json:"call_id"`
	Summary    string    `json:"summary"`
	Concerns   []Concern `json:"concerns"`
	Engagement float64   `json:"engagement_score"`
	CreatedAt  time.Time `json:"created_at"`
}
