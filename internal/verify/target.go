package verify

import (
	"fmt"

	"github.com/kalsky/shadesd/internal/shade"
)

// Direction is the binary intent of a group command, used as the success and
// remediation criterion when no position can be resolved.
type Direction string

const (
	DirectionOpen  Direction = "open"
	DirectionClose Direction = "close"
	DirectionNone  Direction = "none"
)

// Target is the resolved goal of a verification cycle: an absolute position
// when one could be determined, plus the commanded direction. A nil Position
// means the target is indeterminate and only the binary criterion applies.
type Target struct {
	Position  *int
	Direction Direction
}

// Determinate returns true when an absolute position was resolved.
func (t Target) Determinate() bool {
	return t.Position != nil
}

// Equal reports whether two resolved targets represent the same intent.
// Used to detect a user command issued mid-cycle.
func (t Target) Equal(o Target) bool {
	if (t.Position == nil) != (o.Position == nil) {
		return false
	}
	if t.Position != nil {
		return *t.Position == *o.Position
	}
	return t.Direction == o.Direction
}

// String renders a target for logging and notifications.
func (t Target) String() string {
	if t.Position != nil {
		return fmt.Sprintf("%d%%", *t.Position)
	}
	return string(t.Direction)
}

// ResolveTarget derives the cycle target from a group controller reading.
// A reported position is taken verbatim. Without one, a plain open or closed
// status maps to the canonical end positions; partially open cannot be
// resolved without position support and yields an indeterminate target.
// Pure; no failure modes beyond indeterminate.
func ResolveTarget(r shade.Reading) Target {
	if r.Position != nil {
		p := *r.Position
		return Target{Position: &p, Direction: directionFor(p)}
	}

	switch r.Status {
	case shade.StatusOpen:
		return Target{Position: shade.Pos(100), Direction: DirectionOpen}
	case shade.StatusClosed:
		return Target{Position: shade.Pos(0), Direction: DirectionClose}
	default:
		return Target{Direction: DirectionNone}
	}
}

// directionFor maps the end positions to their binary direction. Mid-range
// targets carry no direction: there is no meaningful binary fallback for them.
func directionFor(position int) Direction {
	switch position {
	case 100:
		return DirectionOpen
	case 0:
		return DirectionClose
	default:
		return DirectionNone
	}
}
