package session

import (
	"time"

	"github.com/dmdzco/donna2-sub000/internal/observer"
)

type phaseDeadlines struct {
	opening time.Duration
	main    time.Duration
	winding time.Duration
	ceiling time.Duration
}

// phaseClock owns the call phase. Transitions are monotonic; the director
// moves phases forward and per-phase deadlines force the move when it does
// not. Forcing fires at most once per phase because advancing resets the
// phase entry time.
type phaseClock struct {
	phase     observer.CallPhase
	enteredAt time.Time
	startedAt time.Time
	deadlines phaseDeadlines
}

func newPhaseClock(now time.Time, d phaseDeadlines) *phaseClock {
	return &phaseClock{
		phase:     observer.PhaseOpening,
		enteredAt: now,
		startedAt: now,
		deadlines: d,
	}
}

func (p *phaseClock) Phase() observer.CallPhase { return p.phase }

func (p *phaseClock) Elapsed(now time.Time) time.Duration { return now.Sub(p.startedAt) }

// advanceTo moves to next if it is actually forward. Returns whether the
// phase changed.
func (p *phaseClock) advanceTo(next observer.CallPhase, now time.Time) bool {
	if next <= p.phase {
		return false
	}
	p.phase = next
	p.enteredAt = now
	return true
}

// ApplyDirective applies the director's verdict. "stay" is the only no-op;
// "transition" moves one phase forward; "wrap_up" jumps straight to winding
// down from any earlier phase.
func (p *phaseClock) ApplyDirective(d observer.TransitionDirective, now time.Time) bool {
	switch d {
	case observer.DirectiveTransition:
		return p.advanceTo(p.phase.Next(), now)
	case observer.DirectiveWrapUp:
		return p.advanceTo(observer.PhaseWindingDown, now)
	}
	return false
}

// Tick enforces deadlines. The hard ceiling terminates regardless of phase;
// otherwise an overstayed phase is forced one step forward.
func (p *phaseClock) Tick(now time.Time) (observer.CallPhase, bool) {
	if p.phase == observer.PhaseTerminated {
		return p.phase, false
	}
	if p.deadlines.ceiling > 0 && now.Sub(p.startedAt) >= p.deadlines.ceiling {
		changed := p.advanceTo(observer.PhaseTerminated, now)
		return p.phase, changed
	}
	var limit time.Duration
	switch p.phase {
	case observer.PhaseOpening:
		limit = p.deadlines.opening
	case observer.PhaseMain:
		limit = p.deadlines.main
	case observer.PhaseWindingDown:
		limit = p.deadlines.winding
	default:
		return p.phase, false
	}
	if limit > 0 && now.Sub(p.enteredAt) >= limit {
		changed := p.advanceTo(p.phase.Next(), now)
		return p.phase, changed
	}
	return p.phase, false
}
