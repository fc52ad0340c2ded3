package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/kalsky/shadesd/internal/config"
	"github.com/kalsky/shadesd/internal/eventbus"
	"github.com/kalsky/shadesd/internal/ledger"
	"github.com/kalsky/shadesd/internal/notify"
	"github.com/kalsky/shadesd/internal/shade/mqttbridge"
	"github.com/kalsky/shadesd/internal/verify"
)

// VerifyService owns one verification engine per configured group and wires
// them to the event bus.
type VerifyService struct {
	cfg     *config.Config
	bus     *eventbus.Bus
	engines map[string]*verify.Engine
}

// NewVerifyService builds the engines from group configuration.
func NewVerifyService(
	cfg *config.Config,
	bus *eventbus.Bus,
	bridge *mqttbridge.Bridge,
	l *ledger.Ledger,
	notifier notify.Notifier,
) *VerifyService {
	engines := make(map[string]*verify.Engine, len(cfg.Groups))

	for i := range cfg.Groups {
		g := cfg.Groups[i]

		bridge.RegisterController(g.Controller, g.Name)

		members := make([]verify.Member, 0, len(g.Members))
		for _, m := range g.Members {
			members = append(members, verify.Member{
				Index:     m.Index,
				Feedback:  bridge.Feedback(m.Feedback),
				Broadcast: bridge.Broadcast(m.Broadcast),
			})
		}

		engines[g.Name] = verify.NewEngine(verify.Config{
			Group:      g.Name,
			Controller: bridge.Controller(g.Controller),
			Members:    func() []verify.Member { return members },
			Settings: func() verify.Settings {
				return verify.Settings{
					TravelTime:         g.TravelTime.Duration(),
					SettleDelay:        cfg.Verify.SettleDelay.Duration(),
					RefreshSettleDelay: cfg.Verify.RefreshSettleDelay.Duration(),
					MaxRetries:         cfg.Verify.MaxRetries,
					FallbackEnabled:    g.FallbackEnabled,
				}
			},
			Notifier:  notifier,
			Recorder:  l,
			Scheduler: verify.TimerScheduler{},
			OnDone: func(res verify.Result) {
				bus.Publish(eventbus.Event{
					Type:    eventbus.EventTypeCycleDone,
					Group:   res.Group,
					Verdict: string(res.Verdict),
				})
			},
		})

		log.Info().
			Str("group", g.Name).
			Int("members", len(members)).
			Dur("travel_time", g.TravelTime.Duration()).
			Bool("fallback", g.FallbackEnabled).
			Msg("Verification engine configured")
	}

	return &VerifyService{cfg: cfg, bus: bus, engines: engines}
}

// Start subscribes the engines to bus events.
func (s *VerifyService) Start(ctx context.Context) {
	s.bus.Subscribe(eventbus.EventTypeGroupCommand, func(ev eventbus.Event) {
		eng, ok := s.engines[ev.Group]
		if !ok {
			log.Warn().Str("group", ev.Group).Msg("Group command for unconfigured group")
			return
		}
		eng.HandleCommand(ev.Seq, ev.Status, ev.Position)
	})

	// Individual member updates are diagnostic only. Arming verification
	// from them produces false failures: a single member's report says
	// nothing about whether the group command has finished travelling.
	s.bus.Subscribe(eventbus.EventTypeMemberStatus, func(ev eventbus.Event) {
		log.Debug().
			Str("device", ev.Device).
			Str("status", ev.Status).
			Msg("Member status update")
	})

	s.bus.Subscribe(eventbus.EventTypeCycleDone, func(ev eventbus.Event) {
		log.Debug().
			Str("group", ev.Group).
			Str("verdict", ev.Verdict).
			Msg("Cycle verdict published")
	})
}

// Stop cancels all pending engine steps.
func (s *VerifyService) Stop() {
	for _, eng := range s.engines {
		eng.Stop()
	}
}
