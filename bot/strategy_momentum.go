package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// momentum trades one account on change-rate thresholds: enter on a dip
// below Enter, exit the whole position once the change-rate recovers past
// Exit. Positions are strategy-local state, created when the machine binds
// and gone when it stops.
type momentum struct {
	venue    Venue
	registry *Registry
	account  string

	enter      float64
	exit       float64
	orderPrice float64

	mu        sync.Mutex
	positions map[string]position // market id -> open entry
}

// position remembers the cycle a trade was entered in. The market recurs
// with a fresh opportunity key each cycle; the exit has to settle the cycle
// the volume actually sits under.
type position struct {
	opportunity string
	volume      float64
}

func newMomentum(deps Deps) Logic {
	return &momentum{
		venue:      deps.Venue,
		registry:   deps.Registry,
		account:    deps.Account,
		enter:      deps.Config.Momentum.Enter,
		exit:       deps.Config.Momentum.Exit,
		orderPrice: deps.Config.Momentum.OrderPrice,
	}
}

func (m *momentum) Name() string { return "momentum" }

// Cost is the risk the scheduler reserves for one tick; it is kept only
// when the tick opened a new position.
func (m *momentum) Cost() float64 { return m.orderPrice }

func (m *momentum) Init(context.Context) error {
	if m.enter >= 0 || m.exit <= 0 {
		return fmt.Errorf("momentum: thresholds must satisfy enter < 0 < exit, got %f / %f", m.enter, m.exit)
	}
	if m.orderPrice <= 0 {
		return errors.New("momentum: orderPrice must be positive")
	}

	m.mu.Lock()
	m.positions = make(map[string]position)
	m.mu.Unlock()

	return nil
}

func (m *momentum) Start(context.Context) error { return nil }

func (m *momentum) Timers() []Timer { return nil }

func (m *momentum) Execute(ctx context.Context, snap *Snapshot) (Result, error) {
	for _, market := range snap.Markets {
		// Stay clear of markets about to settle; those belong to the
		// settlement strategy.
		if market.ExpiresAt.Sub(snap.At) < time.Minute*10 {
			continue
		}

		m.mu.Lock()
		held, open := m.positions[market.ID]
		m.mu.Unlock()

		if !open && market.ChangeRate <= m.enter {
			balance, err := m.venue.Balance(ctx, m.account)
			if err != nil {
				return Result{Action: ActionNone}, err
			}
			if balance < m.orderPrice {
				continue
			}

			volume := m.orderPrice / market.Price
			if err := m.venue.Order(ctx, m.account, market.Opportunity(), OrderParams{Side: B, Volume: volume, Price: market.Price}); err != nil {
				return Result{Action: ActionNone}, err
			}

			m.mu.Lock()
			m.positions[market.ID] = position{opportunity: market.Opportunity(), volume: volume}
			m.mu.Unlock()

			return Result{Action: ActionOrdered, Fields: logrus.Fields{
				"market": market.ID, "side": B, "volume": volume, "price": market.Price,
			}}, nil
		}

		if open && market.ChangeRate >= m.exit {
			if err := m.venue.Order(ctx, m.account, held.opportunity, OrderParams{Side: S, Volume: held.volume, Price: market.Price}); err != nil {
				return Result{Action: ActionNone}, err
			}

			m.mu.Lock()
			delete(m.positions, market.ID)
			m.mu.Unlock()

			// The entry's risk reservation is spent capital no longer at
			// risk once the position is closed.
			m.registry.ReleaseRisk(m.account, m.orderPrice)

			return Result{Action: ActionClosed, Fields: logrus.Fields{
				"market": market.ID, "side": S, "volume": held.volume, "price": market.Price,
			}}, nil
		}
	}

	return Result{Action: ActionNone}, nil
}

func (m *momentum) Stop(context.Context) error {
	m.mu.Lock()
	m.positions = nil
	m.mu.Unlock()

	return nil
}
