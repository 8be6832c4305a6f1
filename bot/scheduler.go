package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/edgekit/flock/log"
	"github.com/sirupsen/logrus"
)

// Pair is one (account, machine) unit of work for a tick. Engine-scoped
// machines appear with an empty Account and skip the risk check.
type Pair struct {
	Account string
	Machine *Machine
}

// Scheduler drives fixed-interval ticks. Each tick fetches one market
// snapshot and fans it out concurrently across every pair; the whole fan-out
// is joined before the tick counts as complete. A tick arriving while
// maxConcurrent ticks are still in flight is dropped, not queued.
type Scheduler struct {
	interval      time.Duration
	maxConcurrent int32
	stats         *Stats

	fetch func(ctx context.Context) (*Snapshot, error)
	pairs func() []Pair
	risk  *Registry
}

func NewScheduler(interval time.Duration, maxConcurrent int, stats *Stats, fetch func(ctx context.Context) (*Snapshot, error), pairs func() []Pair, risk *Registry) *Scheduler {
	return &Scheduler{
		interval:      interval,
		maxConcurrent: int32(maxConcurrent),
		stats:         stats,
		fetch:         fetch,
		pairs:         pairs,
		risk:          risk,
	}
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scheduling pass.
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.stats.Acquire(s.maxConcurrent) {
		// No queueing and no backpressure beyond dropping this tick.
		log.Logger <- log.Log{
			Msg:    "tick skipped",
			Fields: logrus.Fields{"active": s.stats.Active(), "max": s.maxConcurrent},
			Level:  logrus.InfoLevel,
		}
		return
	}
	defer s.stats.Release()

	snap, err := s.fetch(ctx)
	if err != nil || snap == nil {
		// Transient venue failure: no opportunities this tick.
		log.Logger <- log.Log{
			Msg:    "no market snapshot this tick",
			Fields: logrus.Fields{"err": err},
			Level:  logrus.WarnLevel,
		}
		snap = &Snapshot{At: time.Now()}
	}

	var wg sync.WaitGroup
	for _, p := range s.pairs() {
		cost := p.Machine.logic.Cost()

		// The check-and-reserve is atomic per account; a pair over its
		// ceiling is skipped this tick and retried on the next.
		if p.Account != "" && cost > 0 {
			if err := s.risk.ReserveRisk(p.Account, cost); err != nil {
				log.Logger <- log.Log{
					Msg:    err,
					Fields: logrus.Fields{"account": p.Account},
					Level:  logrus.DebugLevel,
				}
				continue
			}
		}

		wg.Add(1)
		s.stats.Launched()

		go func(p Pair, cost float64) {
			defer wg.Done()

			result, err := p.Machine.Execute(ctx, snap)

			// Risk reserved for the tick is only kept when the strategy
			// turned it into new exposure. Closing out a position places
			// an order too, but spends nothing.
			if p.Account != "" && cost > 0 && result.Action != ActionOrdered {
				s.risk.ReleaseRisk(p.Account, cost)
			}

			switch {
			case err == nil:
				s.stats.Succeeded()
			case errors.Is(err, ErrReentrancy):
				// Expected when a slow tick overlaps the next one; silent.
			default:
				s.stats.Failed()
			}
		}(p, cost)
	}

	wg.Wait()
}
