package bot

import (
	"context"
	"errors"
	"time"

	"github.com/ahmetb/go-linq/v3"
	"github.com/edgekit/flock/log"
	"github.com/sirupsen/logrus"
)

// settlement is the engine-scoped cross-account strategy. For every market
// approaching its settlement it runs the two-phase candidate protocol:
// while the expiry is still outside the scan window it pre-authorizes up to
// maxPositions accounts (allowance approval plus a risk reservation), and
// once the expiry enters the scan window it commits the pooled candidates by
// placing their orders.
type settlement struct {
	venue    Venue
	registry *Registry
	reserver *Reserver

	horizon    time.Duration // how far before expiry pre-authorization may start
	scanWindow time.Duration // how close to expiry the commit window opens
	orderPrice float64
}

func newSettlement(deps Deps) Logic {
	return &settlement{
		venue:      deps.Venue,
		registry:   deps.Registry,
		reserver:   deps.Reserver,
		horizon:    time.Second * deps.Config.Settlement.Horizon,
		scanWindow: time.Second * deps.Config.Settlement.ScanWindow,
		orderPrice: deps.Config.Settlement.OrderPrice,
	}
}

func (s *settlement) Name() string { return "settlement" }

// Cost is zero: risk is reserved per account inside the prepare step, not by
// the scheduler.
func (s *settlement) Cost() float64 { return 0 }

func (s *settlement) Init(context.Context) error {
	if s.orderPrice <= 0 {
		return errors.New("settlement: orderPrice must be positive")
	}
	if s.scanWindow <= 0 || s.scanWindow >= s.horizon {
		return errors.New("settlement: scanWindow must sit inside the horizon")
	}

	return nil
}

func (s *settlement) Start(context.Context) error { return nil }

func (s *settlement) Timers() []Timer {
	return []Timer{
		{Name: "sweep", Every: time.Minute, Fn: s.sweep},
	}
}

func (s *settlement) Execute(ctx context.Context, snap *Snapshot) (Result, error) {
	now := snap.At

	var targets []Market
	linq.From(snap.Markets).
		WhereT(func(m Market) bool {
			tte := m.TimeToExpiry(now)
			return tte > 0 && tte <= s.horizon
		}).
		OrderByT(func(m Market) int64 { return m.ExpiresAt.Unix() }).
		ToSlice(&targets)

	if len(targets) == 0 {
		return Result{Action: ActionNone}, nil
	}

	var reserved, committed, failed int

	for _, market := range targets {
		opportunity := market.Opportunity()

		if market.TimeToExpiry(now) > s.scanWindow {
			reserved += s.reserver.Reserve(ctx, opportunity, market.ExpiresAt, s.registry.IDs(), s.prepare(opportunity))
			continue
		}

		for _, r := range s.reserver.Commit(ctx, opportunity, s.act(market)) {
			if r.Err != nil {
				failed++
				log.Logger <- log.Log{
					Msg:    r.Err,
					Fields: logrus.Fields{"opportunity": opportunity, "account": r.Account, "phase": "commit"},
					Level:  logrus.ErrorLevel,
				}
				continue
			}
			committed++
		}
	}

	action := ActionNone
	if committed > 0 {
		action = ActionOrdered
	} else if reserved > 0 {
		action = ActionReserved
	}

	return Result{
		Action: action,
		Fields: logrus.Fields{"markets": len(targets), "reserved": reserved, "committed": committed, "failed": failed},
	}, nil
}

func (s *settlement) Stop(context.Context) error { return nil }

// prepare is the phase-one step for one opportunity: reserve risk against the
// registry, then run the venue allowance. The risk reservation backs out when
// the allowance fails so a skipped account is not left carrying phantom risk.
func (s *settlement) prepare(opportunity string) func(ctx context.Context, account string) (*Approval, error) {
	return func(ctx context.Context, account string) (*Approval, error) {
		if err := s.registry.ReserveRisk(account, s.orderPrice); err != nil {
			return nil, err
		}

		approval, err := s.venue.Approve(ctx, account, opportunity, s.orderPrice)
		if err != nil {
			s.registry.ReleaseRisk(account, s.orderPrice)
			return nil, err
		}

		return approval, nil
	}
}

// act is the phase-two step: place the order. On failure the reserver puts
// the candidate back; the risk reservation is kept with it so a retried
// commit still has its budget.
func (s *settlement) act(market Market) func(ctx context.Context, res Reservation) error {
	return func(ctx context.Context, res Reservation) error {
		return s.venue.Order(ctx, res.Account, market.Opportunity(), OrderParams{
			Side:   B,
			Volume: s.orderPrice / market.Price,
			Price:  market.Price,
		})
	}
}

func (s *settlement) sweep(context.Context) {
	if n := s.reserver.Sweep(time.Now()); n > 0 {
		log.Logger <- log.Log{
			Msg:    "discarded stale reservations",
			Fields: logrus.Fields{"count": n},
			Level:  logrus.InfoLevel,
		}
	}
}
