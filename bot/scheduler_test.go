package bot

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func startedMachine(t *testing.T, logic Logic, account string) *Machine {
	ctx := context.Background()
	m := newMachine(logic, account, nil)
	assert.NoError(t, m.Init(ctx))
	assert.NoError(t, m.Start(ctx))

	return m
}

func fetchEmpty(context.Context) (*Snapshot, error) {
	return &Snapshot{At: time.Now()}, nil
}

func TestScheduler_TickFansOutAndTallies(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.Register("acc-1", 100)
	assert.NoError(t, err)

	good := &fakeLogic{}
	bad := &fakeLogic{execErr: errors.New("boom")}

	pairs := []Pair{
		{Account: "acc-1", Machine: startedMachine(t, good, "acc-1")},
		{Account: "acc-1", Machine: startedMachine(t, bad, "acc-1")},
	}

	stats := &Stats{}
	s := NewScheduler(time.Second, 2, stats, fetchEmpty, func() []Pair { return pairs }, registry)

	s.Tick(context.Background())

	doc := stats.Doc()
	assert.EqualValues(t, 2, doc.Total)
	assert.EqualValues(t, 1, doc.Success)
	assert.EqualValues(t, 1, doc.Failure)
	assert.EqualValues(t, 0, stats.Active())
}

func TestScheduler_SkipsWhenSaturated(t *testing.T) {
	registry := NewRegistry()
	logic := &fakeLogic{}
	pairs := []Pair{{Machine: startedMachine(t, logic, "")}}

	stats := &Stats{}
	s := NewScheduler(time.Second, 1, stats, fetchEmpty, func() []Pair { return pairs }, registry)

	// Saturate the gauge as if a tick were still in flight.
	assert.True(t, stats.Acquire(1))

	s.Tick(context.Background())

	doc := stats.Doc()
	assert.EqualValues(t, 0, doc.Total)
	assert.EqualValues(t, 0, atomic.LoadInt32(&logic.execs))

	stats.Release()
	s.Tick(context.Background())
	assert.EqualValues(t, 1, stats.Doc().Total)
}

func TestScheduler_RiskLimitSkipsPair(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.Register("acc-1", 50)
	assert.NoError(t, err)

	logic := &fakeLogic{cost: 60}
	pairs := []Pair{{Account: "acc-1", Machine: startedMachine(t, logic, "acc-1")}}

	stats := &Stats{}
	s := NewScheduler(time.Second, 1, stats, fetchEmpty, func() []Pair { return pairs }, registry)

	execsBefore := atomic.LoadInt32(&logic.execs) // the start pass already ran

	s.Tick(context.Background())

	assert.EqualValues(t, 0, stats.Doc().Total)
	assert.Equal(t, execsBefore, atomic.LoadInt32(&logic.execs))
}

func TestScheduler_RiskReleasedWhenNothingOrdered(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.Register("acc-1", 100)
	assert.NoError(t, err)

	logic := &fakeLogic{cost: 70} // returns ActionNone
	pairs := []Pair{{Account: "acc-1", Machine: startedMachine(t, logic, "acc-1")}}

	stats := &Stats{}
	s := NewScheduler(time.Second, 1, stats, fetchEmpty, func() []Pair { return pairs }, registry)

	s.Tick(context.Background())
	s.Tick(context.Background())

	// Both ticks ran: the idle tick's reservation was given back each time.
	assert.EqualValues(t, 2, stats.Doc().Total)
	assert.NoError(t, registry.ReserveRisk("acc-1", 100))
}

func TestScheduler_RiskKeptWhenOrdered(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.Register("acc-1", 100)
	assert.NoError(t, err)

	logic := &fakeLogic{cost: 70, action: ActionOrdered}
	pairs := []Pair{{Account: "acc-1", Machine: startedMachine(t, logic, "acc-1")}}

	stats := &Stats{}
	s := NewScheduler(time.Second, 1, stats, fetchEmpty, func() []Pair { return pairs }, registry)

	s.Tick(context.Background())

	assert.ErrorIs(t, registry.ReserveRisk("acc-1", 70), ErrRiskLimit)
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	registry := NewRegistry()
	stats := &Stats{}
	s := NewScheduler(time.Millisecond, 1, stats, fetchEmpty, func() []Pair { return nil }, registry)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(time.Millisecond * 20)
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
}
