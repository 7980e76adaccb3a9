package session

import (
	"testing"
	"time"

	"github.com/dmdzco/donna2-sub000/internal/observer"
)

func testDeadlines() phaseDeadlines {
	return phaseDeadlines{
		opening: 90 * time.Second,
		main:    8 * time.Minute,
		winding: 2 * time.Minute,
		ceiling: 12 * time.Minute,
	}
}

func TestPhaseClockMonotonic(t *testing.T) {
	now := time.Now()
	p := newPhaseClock(now, testDeadlines())
	if p.Phase() != observer.PhaseOpening {
		t.Fatalf("initial phase = %s", p.Phase())
	}
	if !p.ApplyDirective(observer.DirectiveTransition, now) {
		t.Fatalf("transition should advance")
	}
	if p.Phase() != observer.PhaseMain {
		t.Fatalf("phase = %s", p.Phase())
	}
	// a directive cannot move backwards
	if p.advanceTo(observer.PhaseOpening, now) {
		t.Fatalf("must not move backwards")
	}
	if p.ApplyDirective(observer.DirectiveStay, now) {
		t.Fatalf("stay must be a no-op")
	}
}

func TestPhaseClockWrapUpJumps(t *testing.T) {
	now := time.Now()
	p := newPhaseClock(now, testDeadlines())
	if !p.ApplyDirective(observer.DirectiveWrapUp, now) {
		t.Fatalf("wrap_up should advance")
	}
	if p.Phase() != observer.PhaseWindingDown {
		t.Fatalf("phase = %s", p.Phase())
	}
	// wrap_up from winding down or later changes nothing
	if p.ApplyDirective(observer.DirectiveWrapUp, now) {
		t.Fatalf("wrap_up past winding down must be a no-op")
	}
}

func TestPhaseClockForcesDeadlineOnce(t *testing.T) {
	now := time.Now()
	p := newPhaseClock(now, testDeadlines())

	if _, changed := p.Tick(now.Add(89 * time.Second)); changed {
		t.Fatalf("deadline not reached yet")
	}
	phase, changed := p.Tick(now.Add(91 * time.Second))
	if !changed || phase != observer.PhaseMain {
		t.Fatalf("expected forced move to MAIN, got %s changed=%v", phase, changed)
	}
	// same wall time again: the phase entry clock was reset, no refire
	if _, changed := p.Tick(now.Add(92 * time.Second)); changed {
		t.Fatalf("forced transition must fire once per deadline")
	}
}

func TestPhaseClockHardCeiling(t *testing.T) {
	now := time.Now()
	p := newPhaseClock(now, testDeadlines())
	p.ApplyDirective(observer.DirectiveWrapUp, now)

	phase, changed := p.Tick(now.Add(12*time.Minute + time.Second))
	if !changed || phase != observer.PhaseTerminated {
		t.Fatalf("ceiling should terminate, got %s changed=%v", phase, changed)
	}
	if _, changed := p.Tick(now.Add(13 * time.Minute)); changed {
		t.Fatalf("terminated is terminal")
	}
}
