package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/edgekit/flock/log"
	"github.com/sirupsen/logrus"
)

// Machine lifecycle states. broken is reachable from any non-terminal state
// on a lifecycle failure; a failed execution tick does not change state.
const (
	created int32 = iota
	initializing
	initialized
	starting
	running
	executing
	stopping
	stopped
	broken
)

var stateNames = map[int32]string{
	created:      "created",
	initializing: "initializing",
	initialized:  "initialized",
	starting:     "starting",
	running:      "running",
	executing:    "executing",
	stopping:     "stopping",
	stopped:      "stopped",
	broken:       "broken",
}

// Result is what every Execute returns, including "ran, did nothing"
// outcomes, so callers can tell those apart from failures.
type Result struct {
	Action string
	Fields logrus.Fields
}

const (
	ActionNone     = "none"
	ActionReserved = "reserved"
	ActionOrdered  = "ordered"
	// ActionClosed marks a tick that sold out of an existing position.
	// It spends no new risk, unlike ActionOrdered.
	ActionClosed = "closed"
)

// Timer is a named periodic job a strategy registers at Start and owns until
// Stop.
type Timer struct {
	Name  string
	Every time.Duration
	Fn    func(ctx context.Context)
}

// Machine wraps a strategy's Logic in the fixed lifecycle and owns its
// timers, reentrancy guard and local execution counters.
type Machine struct {
	logic   Logic
	account string // "" for engine-scoped strategies
	events  chan<- Event

	mu     sync.Mutex
	state  int32
	timers map[string]chan struct{}

	execTotal  uint64
	execFailed uint64
}

func newMachine(logic Logic, account string, events chan<- Event) *Machine {
	return &Machine{
		logic:   logic,
		account: account,
		events:  events,
		state:   created,
		timers:  make(map[string]chan struct{}),
	}
}

// Init runs the strategy's setup exactly once. Calling it again without an
// intervening Stop fails.
func (m *Machine) Init(ctx context.Context) error {
	m.mu.Lock()
	if m.state != created && m.state != stopped {
		m.mu.Unlock()
		return fmt.Errorf("%s (%s): %w", m.logic.Name(), stateNames[m.state], ErrAlreadyInitialized)
	}
	m.state = initializing
	m.mu.Unlock()

	if err := m.logic.Init(ctx); err != nil {
		m.fail()
		return fmt.Errorf("%s: init: %w", m.logic.Name(), err)
	}

	m.transition(initialized)
	return nil
}

// Start registers the strategy's timers and performs one immediate execution
// pass with an empty snapshot.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != initialized {
		m.mu.Unlock()
		return fmt.Errorf("%s (%s): %w", m.logic.Name(), stateNames[m.state], ErrNotInitialized)
	}
	m.state = starting
	m.mu.Unlock()

	if err := m.logic.Start(ctx); err != nil {
		m.fail()
		return fmt.Errorf("%s: start: %w", m.logic.Name(), err)
	}

	m.mu.Lock()
	for _, t := range m.logic.Timers() {
		m.every(ctx, t)
	}
	m.state = running
	m.mu.Unlock()

	// One pass right away so a freshly started strategy does not sit idle
	// until the next scheduler tick.
	if _, err := m.Execute(ctx, &Snapshot{At: time.Now()}); err != nil {
		log.Logger <- log.Log{
			Msg:    err,
			Fields: logrus.Fields{"strategy": m.logic.Name(), "account": m.account, "phase": "start-pass"},
			Level:  logrus.WarnLevel,
		}
	}

	return nil
}

// Execute runs one tick of the strategy against snap. A call that would
// overlap an in-flight tick for this machine is rejected with ErrReentrancy,
// not queued. Logic errors are contained: they are counted and reported but
// leave the machine running and eligible for the next tick.
func (m *Machine) Execute(ctx context.Context, snap *Snapshot) (Result, error) {
	m.mu.Lock()
	switch m.state {
	case executing:
		m.mu.Unlock()
		return Result{Action: ActionNone}, ErrReentrancy
	case running:
		m.state = executing
		m.mu.Unlock()
	default:
		state := m.state
		m.mu.Unlock()
		return Result{Action: ActionNone}, fmt.Errorf("%s (%s): %w", m.logic.Name(), stateNames[state], ErrNotRunning)
	}

	result, err := m.run(ctx, snap)

	m.mu.Lock()
	m.execTotal++
	if err != nil {
		m.execFailed++
	}
	// Stop may have begun while the tick was in flight; it is allowed to
	// finish but must not drag the machine back to running.
	if m.state == executing {
		m.state = running
	}
	m.mu.Unlock()

	if result.Action == "" {
		result.Action = ActionNone
	}
	m.emit(result, err)

	return result, err
}

// run recovers a panicking tick so a misbehaving strategy cannot take the
// scheduler down.
func (m *Machine) run(ctx context.Context, snap *Snapshot) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: execute panic: %v", m.logic.Name(), r)
		}
	}()

	return m.logic.Execute(ctx, snap)
}

// Stop cancels all timers and releases the strategy's resources. Idempotent:
// stopping a stopped machine is a no-op. An in-flight Execute finishes on its
// own; it is not aborted.
func (m *Machine) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.state == stopped {
		m.mu.Unlock()
		return nil
	}
	m.state = stopping
	m.stopTimers()
	m.mu.Unlock()

	if err := m.logic.Stop(ctx); err != nil {
		m.fail()
		return fmt.Errorf("%s: stop: %w", m.logic.Name(), err)
	}

	m.transition(stopped)
	return nil
}

// Broken reports whether a lifecycle failure took the machine out of service.
func (m *Machine) Broken() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == broken
}

func (m *Machine) Stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == stopped
}

// Counters returns the machine-local execution counters.
func (m *Machine) Counters() (total, failed uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.execTotal, m.execFailed
}

func (m *Machine) transition(to int32) {
	m.mu.Lock()
	m.state = to
	m.mu.Unlock()
}

func (m *Machine) fail() {
	m.mu.Lock()
	m.state = broken
	m.stopTimers()
	m.mu.Unlock()
}

// every starts a named periodic timer. Caller holds m.mu.
func (m *Machine) every(ctx context.Context, t Timer) {
	if _, ok := m.timers[t.Name]; ok {
		return
	}

	stop := make(chan struct{})
	m.timers[t.Name] = stop

	go func() {
		ticker := time.NewTicker(t.Every)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				t.Fn(ctx)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// stopTimers cancels every timer. Caller holds m.mu.
func (m *Machine) stopTimers() {
	for name, stop := range m.timers {
		close(stop)
		delete(m.timers, name)
	}
}

func (m *Machine) emit(result Result, err error) {
	if m.events == nil {
		return
	}

	m.events <- Event{
		Strategy: m.logic.Name(),
		Account:  m.account,
		Action:   result.Action,
		Fields:   result.Fields,
		Err:      err,
	}
}
