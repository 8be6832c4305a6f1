package bot

import (
	"context"
	"fmt"

	"github.com/edgekit/flock"
)

// Kind is the closed set of strategy types. Unknown kinds are rejected when
// binding, not when executing.
type Kind string

const (
	// KindSettlement acts across many accounts against markets approaching
	// settlement, through the candidate reservation protocol. Engine-scoped.
	KindSettlement Kind = "settlement"
	// KindMomentum trades a single account on change-rate thresholds.
	KindMomentum Kind = "momentum"
)

// Logic is the pluggable part of a strategy. The surrounding Machine owns the
// lifecycle, timers and reentrancy guard; Logic owns the business rules.
type Logic interface {
	Name() string
	// Cost is the risk reserved per scheduled execution for the bound
	// account. Zero for strategies that do their own risk accounting.
	Cost() float64
	Init(ctx context.Context) error
	Start(ctx context.Context) error
	// Timers are registered by the Machine at Start and cancelled at Stop.
	Timers() []Timer
	Execute(ctx context.Context, snap *Snapshot) (Result, error)
	Stop(ctx context.Context) error
}

// Deps is everything a strategy factory may need. Account is empty for
// engine-scoped strategies, which instead see all accounts via Registry.
type Deps struct {
	Config   *flock.Config
	Venue    Venue
	Registry *Registry
	Reserver *Reserver
	Account  string
}

type factory func(deps Deps) Logic

var factories = map[Kind]factory{
	KindSettlement: newSettlement,
	KindMomentum:   newMomentum,
}

func newLogic(kind Kind, deps Deps) (Logic, error) {
	f, ok := factories[kind]
	if !ok {
		return nil, fmt.Errorf("%q: %w", kind, ErrUnknownStrategy)
	}

	return f(deps), nil
}
