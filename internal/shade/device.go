// Package shade defines the domain model for window shades: reported
// status/position readings and the two control handles every shade exposes.
package shade

import (
	"context"
	"fmt"
)

// Status is the reported state of a shade or a shade group.
type Status string

const (
	StatusOpen          Status = "open"
	StatusClosed        Status = "closed"
	StatusOpening       Status = "opening"
	StatusClosing       Status = "closing"
	StatusPartiallyOpen Status = "partially open"
	StatusUnknown       Status = "unknown"
)

// ParseStatus normalizes a raw reported status value.
// Unrecognized values map to StatusUnknown rather than erroring, since
// firmware revisions disagree on spelling.
func ParseStatus(raw string) Status {
	switch raw {
	case "open", "opened":
		return StatusOpen
	case "closed", "close":
		return StatusClosed
	case "opening":
		return StatusOpening
	case "closing":
		return StatusClosing
	case "partially open", "partially-open", "partial":
		return StatusPartiallyOpen
	default:
		return StatusUnknown
	}
}

// Reading is a single observation of a shade: its reported status and,
// when the device supports it, its position in percent open (0 = fully
// closed, 100 = fully open). Position is nil when not reported.
type Reading struct {
	Status   Status
	Position *int
}

// HasPosition returns true if the reading carries a position.
func (r Reading) HasPosition() bool {
	return r.Position != nil
}

// String renders a reading for logging.
func (r Reading) String() string {
	if r.Position != nil {
		return fmt.Sprintf("%s@%d%%", r.Status, *r.Position)
	}
	return string(r.Status)
}

// Pos is a convenience constructor for position pointers.
func Pos(p int) *int {
	return &p
}

// FeedbackHandle is the two-way, authoritative control path of one shade.
// It reports verified status and position and accepts direct commands.
// All verification and remediation goes through this handle.
type FeedbackHandle interface {
	// ID returns a stable identifier for logging and correlation.
	ID() string

	// Read returns the last known reading for this device.
	Read(ctx context.Context) (Reading, error)

	// Open commands the shade fully open.
	Open(ctx context.Context) error

	// Close commands the shade fully closed.
	Close(ctx context.Context) error

	// SetPosition commands the shade to an absolute position (0..100).
	SetPosition(ctx context.Context, position int) error

	// Refresh asks the device to re-report its status and position.
	Refresh(ctx context.Context) error
}

// BroadcastHandle is the one-way, fire-and-forget mirror of a shade on the
// fast channel. Its reported status reflects the last command sent, not
// verified physical state, so it is never commanded individually and never
// trusted for verification. Refresh is used only for cosmetic resync.
type BroadcastHandle interface {
	ID() string
	Read(ctx context.Context) (Reading, error)
	Refresh(ctx context.Context) error
}

// Controller is the group-level aggregate on the broadcast channel. Its
// reading is the source of the resolved target for a verification cycle.
type Controller interface {
	ID() string
	Read(ctx context.Context) (Reading, error)
}
