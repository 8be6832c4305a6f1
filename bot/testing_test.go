package bot

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgekit/flock"
)

// testConfig returns a config with small, test-friendly windows.
func testConfig() *flock.Config {
	config := &flock.Config{}

	config.Scheduler.Interval = 1
	config.Scheduler.MaxConcurrent = 4
	config.Settlement.MaxPositions = 2
	config.Settlement.ScanWindow = 120
	config.Settlement.Horizon = 900
	config.Settlement.OrderPrice = 25.0
	config.Momentum.Enter = -0.03
	config.Momentum.Exit = 0.03
	config.Momentum.OrderPrice = 10.0
	config.Timeout = 5

	return config
}

// fakeVenue records boundary calls and fails on demand.
type fakeVenue struct {
	mu            sync.Mutex
	markets       []Market
	balances      map[string]float64
	approveErr    map[string]error // keyed by account
	orderErr      map[string]error
	approvals     []string
	orders        []string
	opportunities []string // one per recorded order
}

func newFakeVenue(markets ...Market) *fakeVenue {
	return &fakeVenue{
		markets:    markets,
		balances:   make(map[string]float64),
		approveErr: make(map[string]error),
		orderErr:   make(map[string]error),
	}
}

func (v *fakeVenue) Markets(context.Context) ([]Market, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	return append([]Market(nil), v.markets...), nil
}

func (v *fakeVenue) Approve(_ context.Context, account, opportunity string, cost float64) (*Approval, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.approveErr[account]; err != nil {
		return nil, err
	}

	v.approvals = append(v.approvals, account)

	return &Approval{ID: account + "-approval", Account: account, Cost: cost}, nil
}

func (v *fakeVenue) Order(_ context.Context, account, opportunity string, p OrderParams) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.orderErr[account]; err != nil {
		return err
	}

	v.orders = append(v.orders, account+"/"+p.Side)
	v.opportunities = append(v.opportunities, opportunity)

	return nil
}

func (v *fakeVenue) Balance(_ context.Context, account string) (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	balance, ok := v.balances[account]
	if !ok {
		return 1000.0, nil
	}

	return balance, nil
}

func (v *fakeVenue) orderCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	return len(v.orders)
}

// fakeLogic is a scriptable strategy for machine and scheduler tests.
type fakeLogic struct {
	name     string
	cost     float64
	initErr  error
	startErr error
	stopErr  error
	execErr  error
	action   string
	timers   []Timer
	hold     chan struct{} // when set, Execute blocks until closed

	execs int32
	stops int32
}

func (l *fakeLogic) Name() string {
	if l.name == "" {
		return "fake"
	}
	return l.name
}

func (l *fakeLogic) Cost() float64               { return l.cost }
func (l *fakeLogic) Init(context.Context) error  { return l.initErr }
func (l *fakeLogic) Start(context.Context) error { return l.startErr }
func (l *fakeLogic) Timers() []Timer             { return l.timers }

func (l *fakeLogic) Execute(context.Context, *Snapshot) (Result, error) {
	if l.hold != nil {
		<-l.hold
	}
	atomic.AddInt32(&l.execs, 1)

	action := l.action
	if action == "" {
		action = ActionNone
	}

	return Result{Action: action}, l.execErr
}

func (l *fakeLogic) Stop(context.Context) error {
	atomic.AddInt32(&l.stops, 1)
	return l.stopErr
}

func marketExpiring(id string, in time.Duration) Market {
	return Market{ID: id, Price: 0.5, ChangeRate: 0.01, ExpiresAt: time.Now().Add(in)}
}
