package verify

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/kalsky/shadesd/internal/shade"
)

// Member pairs a shade's stable ordinal with its two control handles.
// Broadcast may be nil when no mirror device is bound.
type Member struct {
	Index     int
	Feedback  shade.FeedbackHandle
	Broadcast shade.BroadcastHandle
}

// MemberReading is one member's observation during a sampling pass.
// Ok is false when the feedback handle could not be read; such members are
// skipped from verification counts rather than failing the cycle.
type MemberReading struct {
	Index   int
	Reading shade.Reading
	Ok      bool
}

// Sample reads current status and position for every member from the
// feedback channel. Pure read: no commands are issued. Order is preserved.
func Sample(ctx context.Context, group string, members []Member) []MemberReading {
	out := make([]MemberReading, 0, len(members))

	for _, m := range members {
		r, err := m.Feedback.Read(ctx)
		if err != nil {
			log.Warn().
				Err(err).
				Str("group", group).
				Int("member", m.Index).
				Str("device", m.Feedback.ID()).
				Msg("Feedback read failed, member skipped from counts")
			out = append(out, MemberReading{Index: m.Index})
			continue
		}

		out = append(out, MemberReading{Index: m.Index, Reading: r, Ok: true})
	}

	return out
}

// Refresh issues a status re-query to every member's feedback handle.
// Individual failures are logged and never block refreshing the rest; the
// subsequent sample still covers every member. The caller owns the settle
// delay between refresh and sample.
func Refresh(ctx context.Context, group string, members []Member) {
	for _, m := range members {
		if err := m.Feedback.Refresh(ctx); err != nil {
			log.Warn().
				Err(err).
				Str("group", group).
				Int("member", m.Index).
				Str("device", m.Feedback.ID()).
				Msg("Feedback refresh failed")
		}
	}
}
