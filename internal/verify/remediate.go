package verify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/kalsky/shadesd/internal/notify"
)

// Dispatcher issues corrective commands to members that are not at target.
type Dispatcher struct {
	Group    string
	Notifier notify.Notifier
}

// Remediate sends one corrective command to each failed member over its
// feedback handle and returns the number of commands dispatched.
//
// Each member is re-checked immediately before dispatch so an already-correct
// shade is never re-commanded; delivery is still at-least-once overall. A
// concrete target position becomes SetPosition, otherwise the commanded
// direction becomes a binary open/close. Per-member dispatch failures are
// logged and do not stop the rest of the wave.
//
// One aggregated notification summarizes the wave size; there is never a
// notification per member, which bounds notification volume when a large
// part of the fleet misbehaves.
func (d *Dispatcher) Remediate(ctx context.Context, failed []Member, target Target) int {
	dispatched := 0

	for _, m := range failed {
		// Re-check: the member may have settled since the last sample.
		if r, err := m.Feedback.Read(ctx); err == nil && AtTarget(r, target) {
			log.Debug().
				Str("group", d.Group).
				Int("member", m.Index).
				Msg("Member reached target before remediation, skipping")
			continue
		}

		if err := d.dispatch(ctx, m, target); err != nil {
			log.Error().
				Err(err).
				Str("group", d.Group).
				Int("member", m.Index).
				Str("device", m.Feedback.ID()).
				Msg("Remediation dispatch failed")
			continue
		}

		log.Info().
			Str("group", d.Group).
			Int("member", m.Index).
			Str("target", target.String()).
			Msg("Remediation command sent")
		dispatched++
	}

	if dispatched > 0 && d.Notifier != nil {
		msg := fmt.Sprintf("%s: sent corrective commands to %d of %d shade(s), target %s",
			d.Group, dispatched, len(failed), target)
		if err := d.Notifier.Notify(ctx, msg); err != nil {
			log.Error().Err(err).Str("group", d.Group).Msg("Failed to deliver remediation notification")
		}
	}

	return dispatched
}

func (d *Dispatcher) dispatch(ctx context.Context, m Member, target Target) error {
	if target.Position != nil {
		return m.Feedback.SetPosition(ctx, *target.Position)
	}

	switch target.Direction {
	case DirectionOpen:
		return m.Feedback.Open(ctx)
	case DirectionClose:
		return m.Feedback.Close(ctx)
	default:
		return fmt.Errorf("no position and no direction to remediate towards")
	}
}
