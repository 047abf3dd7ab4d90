package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Pruner drops ledger history past a retention window
type Pruner interface {
	DeleteOlderThan(retention time.Duration) (int64, error)
}

// LedgerService prunes the command ledger on startup and then on a fixed interval.
type LedgerService struct {
	ledger    Pruner
	retention time.Duration
	interval  time.Duration
}

// NewLedgerService creates the pruning loop. retentionDays below one keeps a single day.
func NewLedgerService(ledger Pruner, retentionDays int, interval time.Duration) *LedgerService {
	if retentionDays < 1 {
		retentionDays = 1
	}
	return &LedgerService{
		ledger:    ledger,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		interval:  interval,
	}
}

// Start prunes once and keeps pruning until ctx is cancelled.
func (s *LedgerService) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		s.prune()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.prune()
			}
		}
	}()
}

func (s *LedgerService) prune() {
	deleted, err := s.ledger.DeleteOlderThan(s.retention)
	switch {
	case err != nil:
		log.Error().Err(err).Msg("Ledger pruning failed")
	case deleted > 0:
		log.Info().Int64("deleted", deleted).Dur("retention", s.retention).Msg("Pruned ledger history")
	}
}
