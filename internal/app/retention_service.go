package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kalsky/shadesd/internal/config"
	"github.com/kalsky/shadesd/internal/ledger"
)

// RetentionService periodically prunes cycle ledger entries older than the
// configured retention window so the history table stays bounded.
type RetentionService struct {
	cfg    *config.Config
	ledger *ledger.Ledger
}

// NewRetentionService creates a new RetentionService.
func NewRetentionService(cfg *config.Config, l *ledger.Ledger) *RetentionService {
	return &RetentionService{cfg: cfg, ledger: l}
}

// Start launches the pruning loop. It stops when the context is cancelled.
func (s *RetentionService) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *RetentionService) run(ctx context.Context) {
	interval := s.cfg.Ledger.PruneInterval.Duration()

	log.Info().
		Dur("retention", s.cfg.Ledger.Retention.Duration()).
		Dur("interval", interval).
		Msg("Ledger retention pruning started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.prune()
		}
	}
}

func (s *RetentionService) prune() {
	deleted, err := s.ledger.DeleteOlderThan(s.cfg.Ledger.Retention.Duration())
	if err != nil {
		log.Error().Err(err).Msg("Ledger retention pruning failed")
		return
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("Pruned expired ledger entries")
	}
}
