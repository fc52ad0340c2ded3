package mqttbridge

import (
	"context"
	"fmt"

	"github.com/kalsky/shadesd/internal/shade"
)

// feedbackHandle is the two-way handle for one device id.
type feedbackHandle struct {
	bridge *Bridge
	id     string
}

func (h *feedbackHandle) ID() string { return h.id }

func (h *feedbackHandle) Read(_ context.Context) (shade.Reading, error) {
	return h.bridge.read(h.id)
}

func (h *feedbackHandle) Open(ctx context.Context) error {
	return h.bridge.command(ctx, h.id, commandPayload{Action: "open"})
}

func (h *feedbackHandle) Close(ctx context.Context) error {
	return h.bridge.command(ctx, h.id, commandPayload{Action: "close"})
}

func (h *feedbackHandle) SetPosition(ctx context.Context, position int) error {
	if position < 0 || position > 100 {
		return fmt.Errorf("position %d outside 0..100", position)
	}
	return h.bridge.command(ctx, h.id, commandPayload{Action: "set_position", Position: &position})
}

func (h *feedbackHandle) Refresh(ctx context.Context) error {
	return h.bridge.command(ctx, h.id, commandPayload{Action: "refresh"})
}

// broadcastHandle is the one-way mirror handle. It is read for diagnostics
// and refreshed for cosmetic resync, never commanded.
type broadcastHandle struct {
	bridge *Bridge
	id     string
}

func (h *broadcastHandle) ID() string { return h.id }

func (h *broadcastHandle) Read(_ context.Context) (shade.Reading, error) {
	return h.bridge.read(h.id)
}

func (h *broadcastHandle) Refresh(ctx context.Context) error {
	return h.bridge.command(ctx, h.id, commandPayload{Action: "refresh"})
}

// controllerHandle is the group-level aggregate on the broadcast channel.
type controllerHandle struct {
	bridge *Bridge
	id     string
}

func (h *controllerHandle) ID() string { return h.id }

func (h *controllerHandle) Read(_ context.Context) (shade.Reading, error) {
	return h.bridge.read(h.id)
}
