package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func okPrepare(_ context.Context, account string) (*Approval, error) {
	return &Approval{ID: account + "-approval", Account: account, Cost: 25}, nil
}

func TestReserver_CapAcrossPasses(t *testing.T) {
	ctx := context.Background()
	r := NewReserver(2, 0, nil)
	deadline := time.Now().Add(time.Hour)
	accounts := []string{"a", "b", "c", "d", "e"}

	added := r.Reserve(ctx, "m1@1", deadline, accounts, okPrepare)
	assert.Equal(t, 2, added)
	assert.Equal(t, 2, r.Size("m1@1"))

	// A further pass before the deadline has nothing left to add.
	added = r.Reserve(ctx, "m1@1", deadline, accounts, okPrepare)
	assert.Equal(t, 0, added)
	assert.Equal(t, 2, r.Size("m1@1"))
}

func TestReserver_CapSharedAcrossPools(t *testing.T) {
	ctx := context.Background()
	r := NewReserver(2, 0, nil)
	deadline := time.Now().Add(time.Hour)

	assert.Equal(t, 2, r.Reserve(ctx, "m1@1", deadline, []string{"a", "b"}, okPrepare))

	// The cap is scope-wide: a second opportunity cannot add more.
	assert.Equal(t, 0, r.Reserve(ctx, "m2@1", deadline, []string{"c", "d"}, okPrepare))
}

func TestReserver_NoDuplicateReservation(t *testing.T) {
	ctx := context.Background()
	r := NewReserver(4, 0, nil)
	deadline := time.Now().Add(time.Hour)

	prepared := 0
	prepare := func(_ context.Context, account string) (*Approval, error) {
		prepared++
		return okPrepare(ctx, account)
	}

	assert.Equal(t, 1, r.Reserve(ctx, "m1@1", deadline, []string{"a"}, prepare))
	assert.Equal(t, 0, r.Reserve(ctx, "m1@1", deadline, []string{"a"}, prepare))
	assert.Equal(t, 1, prepared)
	assert.True(t, r.Reserved("m1@1", "a"))
}

func TestReserver_PrepareFailureCooldown(t *testing.T) {
	ctx := context.Background()
	r := NewReserver(2, time.Minute, nil)
	deadline := time.Now().Add(time.Hour)

	attempts := 0
	failing := func(context.Context, string) (*Approval, error) {
		attempts++
		return nil, errors.New("allowance rejected")
	}

	assert.Equal(t, 0, r.Reserve(ctx, "m1@1", deadline, []string{"a"}, failing))
	assert.Equal(t, 1, attempts)

	// On cooldown: the account is skipped, not hammered.
	assert.Equal(t, 0, r.Reserve(ctx, "m1@1", deadline, []string{"a"}, failing))
	assert.Equal(t, 1, attempts)
}

func TestReserver_CommitPartialSuccess(t *testing.T) {
	ctx := context.Background()
	r := NewReserver(2, 0, nil)
	deadline := time.Now().Add(time.Hour)

	assert.Equal(t, 2, r.Reserve(ctx, "m1@1", deadline, []string{"a", "b"}, okPrepare))

	act := func(_ context.Context, res Reservation) error {
		if res.Account == "a" {
			return errors.New("order rejected")
		}
		return nil
	}

	results := r.Commit(ctx, "m1@1", act)
	assert.Len(t, results, 2)

	var failed, succeeded []string
	for _, result := range results {
		if result.Err != nil {
			failed = append(failed, result.Account)
		} else {
			succeeded = append(succeeded, result.Account)
		}
	}
	assert.Equal(t, []string{"a"}, failed)
	assert.Equal(t, []string{"b"}, succeeded)

	// a was reinserted by the compensating action; b is consumed for good.
	assert.True(t, r.Reserved("m1@1", "a"))
	assert.False(t, r.Reserved("m1@1", "b"))
	assert.Equal(t, 1, r.Size("m1@1"))

	// Even a fresh reservation pass cannot bring b back for this opportunity.
	assert.Equal(t, 0, r.Reserve(ctx, "m1@1", deadline, []string{"b"}, okPrepare))
}

func TestReserver_CommitConsumesAtMostOnce(t *testing.T) {
	ctx := context.Background()
	r := NewReserver(4, 0, nil)
	deadline := time.Now().Add(time.Hour)

	assert.Equal(t, 3, r.Reserve(ctx, "m1@1", deadline, []string{"a", "b", "c"}, okPrepare))

	acted := make(map[string]int)
	var mu sync.Mutex
	act := func(_ context.Context, res Reservation) error {
		mu.Lock()
		acted[res.Account]++
		mu.Unlock()
		return nil
	}

	// Two overlapping commit passes over the same pool.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Commit(ctx, "m1@1", act)
		}()
	}
	wg.Wait()

	for account, n := range acted {
		assert.Equalf(t, 1, n, "account %q acted on %d times", account, n)
	}
	assert.Equal(t, 0, r.Size("m1@1"))
}

func TestReserver_SweepDuringCommitFreesFailedEntry(t *testing.T) {
	ctx := context.Background()

	var discarded []string
	r := NewReserver(2, 0, func(res Reservation) {
		discarded = append(discarded, res.Account)
	})

	deadline := time.Now().Add(time.Millisecond)
	assert.Equal(t, 1, r.Reserve(ctx, "m1@1", deadline, []string{"a"}, okPrepare))

	act := func(context.Context, Reservation) error {
		// The pool expires while the order is in flight.
		r.Sweep(time.Now().Add(time.Hour))
		return errors.New("order rejected")
	}

	results := r.Commit(ctx, "m1@1", act)
	assert.Len(t, results, 1)
	assert.Error(t, results[0].Err)

	// The failed entry cannot be parked in the swept pool; it goes through
	// the discard callback instead.
	assert.Equal(t, []string{"a"}, discarded)
	assert.Equal(t, 0, r.Size("m1@1"))
}

func TestReserver_SweepDiscardsExpiredPools(t *testing.T) {
	ctx := context.Background()

	var discarded []string
	r := NewReserver(4, 0, func(res Reservation) {
		discarded = append(discarded, res.Account)
	})

	deadline := time.Now().Add(time.Millisecond * 10)
	assert.Equal(t, 2, r.Reserve(ctx, "m1@1", deadline, []string{"a", "b"}, okPrepare))

	// Not yet expired: nothing happens.
	assert.Equal(t, 0, r.Sweep(time.Now().Add(-time.Hour)))
	assert.Equal(t, 2, r.Size("m1@1"))

	assert.Equal(t, 2, r.Sweep(time.Now().Add(time.Hour)))
	assert.Equal(t, 0, r.Size("m1@1"))
	assert.ElementsMatch(t, []string{"a", "b"}, discarded)

	// The freed capacity is available to new opportunities.
	assert.Equal(t, 2, r.Reserve(ctx, "m2@1", time.Now().Add(time.Hour), []string{"c", "d"}, okPrepare))
}
