package verify

import (
	"github.com/kalsky/shadesd/internal/shade"
)

// AtTarget reports whether a member's reading satisfies the cycle target.
//
// When both the reading and the target carry positions the comparison is
// exact integer equality with zero tolerance: a shade settling at 99% against
// a target of 100% counts as a failure, which is precisely the class of error
// percentage verification exists to catch.
//
// Without a position on either side, success falls back to a binary status
// match against the commanded direction. An indeterminate target with no
// direction never matches.
func AtTarget(r shade.Reading, t Target) bool {
	if t.Position != nil && r.Position != nil {
		return *r.Position == *t.Position
	}

	switch t.Direction {
	case DirectionOpen:
		return r.Status == shade.StatusOpen
	case DirectionClose:
		return r.Status == shade.StatusClosed
	default:
		return false
	}
}
