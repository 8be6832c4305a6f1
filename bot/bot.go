package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edgekit/flock"
	"github.com/edgekit/flock/log"
	"github.com/edgekit/flock/store"
	"github.com/sirupsen/logrus"
)

const persistInterval = time.Second * 30

// Bot is the orchestration engine: it owns the registry, the state store, the
// reserver and the scheduler, binds strategies to accounts and aggregates
// their events.
type Bot struct {
	config    *flock.Config
	venue     Venue
	store     *store.Store
	registry  *Registry
	reserver  *Reserver
	stats     *Stats
	scheduler *Scheduler
	events    chan Event
	engine    []*Machine // engine-scoped machines, settlement among them
}

func New(config *flock.Config, venue Venue, st *store.Store) *Bot {
	b := &Bot{
		config:   config,
		venue:    venue,
		store:    st,
		registry: NewRegistry(),
		stats:    &Stats{},
		events:   make(chan Event, 64),
	}

	// Reservations that expire unused give their risk budget back.
	b.reserver = NewReserver(
		config.Settlement.MaxPositions,
		time.Second*config.Scheduler.Interval*2,
		func(res Reservation) {
			b.registry.ReleaseRisk(res.Account, res.Approval.Cost)
		},
	)

	b.scheduler = NewScheduler(
		time.Second*config.Scheduler.Interval,
		config.Scheduler.MaxConcurrent,
		b.stats,
		b.snapshot,
		b.pairs,
		b.registry,
	)

	return b
}

// Run brings the engine up and ticks until ctx is cancelled: recover
// accounts, bind and start strategies, then loop. Any initialization failure
// halts bring-up; once running, single failures only ever cost their own
// tick.
func (b *Bot) Run(ctx context.Context) error {
	go b.aggregate(ctx)

	if err := b.recover(ctx); err != nil {
		return err
	}

	settlement, err := newLogic(KindSettlement, b.deps())
	if err != nil {
		return err
	}
	m := newMachine(settlement, "", b.events)
	b.engine = append(b.engine, m)

	for _, m := range b.engine {
		if err := m.Init(ctx); err != nil {
			return err
		}
		if err := m.Start(ctx); err != nil {
			return err
		}
	}

	go b.persistLoop(ctx)

	log.Logger <- log.Log{
		Msg:    "engine running",
		Fields: logrus.Fields{"accounts": len(b.registry.IDs()), "interval": b.config.Scheduler.Interval},
		Level:  logrus.InfoLevel,
	}

	err = b.scheduler.Run(ctx)

	b.shutdown()
	b.persist()

	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// AddAccount registers and starts a new account at runtime.
func (b *Bot) AddAccount(ctx context.Context, config flock.AccountConfig) error {
	if _, err := b.registry.Register(config.ID, config.RiskLimit); err != nil {
		return err
	}

	return b.bind(ctx, config.ID)
}

// RemoveAccount stops the account's strategies and deletes it. Accounts only
// ever disappear through this explicit call.
func (b *Bot) RemoveAccount(ctx context.Context, id string) error {
	return b.registry.Remove(ctx, id)
}

// Stats exposes the engine counters, mainly for operators and tests.
func (b *Bot) Stats() StatsDoc { return b.stats.Doc() }

// recover merges persisted accounts with the configured ones, restores risk
// counters, and binds strategies for every account.
func (b *Bot) recover(ctx context.Context) error {
	recovered := make(map[string]AccountDoc)

	if err := b.store.Load(store.Accounts, &recovered); err != nil && !errors.Is(err, store.ErrNoSection) {
		return fmt.Errorf("recover accounts: %w", err)
	}

	for _, doc := range recovered {
		if _, err := b.registry.Register(doc.ID, doc.RiskLimit); err != nil {
			return err
		}
		b.registry.RestoreRisk(doc.ID, doc.RiskUsed)
	}

	for _, config := range b.config.Accounts {
		if _, err := b.registry.Register(config.ID, config.RiskLimit); err != nil {
			if errors.Is(err, ErrDuplicateAccount) {
				continue // already recovered from the store
			}
			return err
		}
	}

	for _, id := range b.registry.IDs() {
		if err := b.bind(ctx, id); err != nil {
			return err
		}
	}

	return nil
}

// bind attaches the per-account strategies to one account and starts them.
func (b *Bot) bind(ctx context.Context, id string) error {
	m, err := b.registry.Bind(id, KindMomentum, b.deps(), b.events)
	if err != nil {
		return err
	}

	if err := m.Init(ctx); err != nil {
		return err
	}

	return m.Start(ctx)
}

func (b *Bot) deps() Deps {
	return Deps{
		Config:   b.config,
		Venue:    b.venue,
		Registry: b.registry,
		Reserver: b.reserver,
	}
}

// snapshot fetches the market view once per tick; every strategy gets the
// same immutable copy.
func (b *Bot) snapshot(ctx context.Context) (*Snapshot, error) {
	markets, err := b.venue.Markets(ctx)
	if err != nil {
		return nil, err
	}

	return &Snapshot{At: time.Now(), Markets: markets}, nil
}

func (b *Bot) pairs() []Pair {
	pairs := b.registry.Pairs()
	for _, m := range b.engine {
		pairs = append(pairs, Pair{Machine: m})
	}

	return pairs
}

// aggregate is the single consumer of the strategy event channel.
func (b *Bot) aggregate(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.events:
			switch {
			case ev.Err == nil:
				level := logrus.DebugLevel
				if ev.Action != ActionNone {
					level = logrus.WarnLevel // orders and reservations stand out in the event log
				}
				log.Logger <- log.Log{Msg: ev.Action, Fields: ev.fields(), Level: level}
			case errors.Is(ev.Err, ErrReentrancy):
				// Expected, silent.
			default:
				log.Logger <- log.Log{Msg: ev.Err, Fields: ev.fields(), Level: logrus.ErrorLevel}
			}
		}
	}
}

// persistLoop writes durable state periodically. Persistence failures are
// logged and retried on the next period; the engine keeps running in memory.
func (b *Bot) persistLoop(ctx context.Context) {
	ticker := time.NewTicker(persistInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.persist()
		}
	}
}

func (b *Bot) persist() {
	if err := b.store.Save(store.Accounts, b.registry.Doc()); err != nil {
		log.Logger <- log.Log{Msg: err, Fields: logrus.Fields{"section": store.Accounts}, Level: logrus.ErrorLevel}
	}
	if err := b.store.Save(store.Stats, b.stats.Doc()); err != nil {
		log.Logger <- log.Log{Msg: err, Fields: logrus.Fields{"section": store.Stats}, Level: logrus.ErrorLevel}
	}
}

func (b *Bot) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	for _, m := range b.engine {
		if err := m.Stop(ctx); err != nil {
			log.Logger <- log.Log{Msg: err, Level: logrus.ErrorLevel}
		}
	}

	b.registry.StopAll(ctx)
}
