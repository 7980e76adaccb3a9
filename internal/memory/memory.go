package memory

import (
	"context"
	"time"
)

// Profile is what the companion knows about a caller before the call starts.
type Profile struct {
	CallerID   string   `json:"caller_id"`
	Name       string   `json:"name"`
	Conditions []string `json:"conditions"`
	Interests  []string `json:"interests"`
	Family     []string `json:"family"`
	Notes      string   `json:"notes"`
}

// Reminder is a scheduled item to mention during a call, at the director's
// discretion.
type Reminder struct {
	ID        string     `json:"id"`
	CallerID  string     `json:"caller_id"`
	Text      string     `json:"text"`
	DueAt     time.Time  `json:"due_at"`
	Delivered bool       `json:"delivered"`
	At        *time.Time `json:"delivered_at,omitempty"`
}

// CallRecord is the durable summary written after a call ends.
type CallRecord struct {
	CallID     string    `json:"call_id"`
	CallerID   string    `json:"caller_id"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	Summary    string    `json:"summary"`
	Concerns   []byte    `json:"concerns"`
	Engagement float64   `json:"engagement_score"`
	Turns      int       `json:"turns"`
}

// Provider serves caller memory to the call pipeline.
type Provider interface {
	LoadProfile(ctx context.Context, callerID string) (Profile, error)
	PendingReminders(ctx context.Context, callerID string, now time.Time) ([]Reminder, error)
	MarkDelivered(ctx context.Context, reminderID string, at time.Time) error
}

// Sink persists post-call output.
type Sink interface {
	SaveCallRecord(ctx context.Context, rec CallRecord) error
}
