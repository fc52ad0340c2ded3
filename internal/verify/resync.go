package verify

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Resync refreshes every member's broadcast mirror after a verdict so the
// one-way channel's reported status converges with verified truth. Pure
// cosmetic side effect: failures are logged and never escalated, and the
// result of the cycle is already fixed when this runs.
func Resync(ctx context.Context, group string, members []Member) {
	for _, m := range members {
		if m.Broadcast == nil {
			continue
		}

		if err := m.Broadcast.Refresh(ctx); err != nil {
			log.Warn().
				Err(err).
				Str("group", group).
				Int("member", m.Index).
				Str("device", m.Broadcast.ID()).
				Msg("Broadcast resync failed")
		}
	}
}
