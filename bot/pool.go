package bot

import (
	"context"
	"sync"
	"time"

	"github.com/edgekit/flock/log"
	"github.com/sirupsen/logrus"
)

// Reservation is one pooled candidate: an account plus the execution handle
// obtained during pre-authorization.
type Reservation struct {
	Account  string
	Approval *Approval
	At       time.Time
}

// pool holds the candidates reserved for one opportunity. consumed remembers
// accounts whose commit succeeded, so a later scan pass cannot reserve them
// again for the same opportunity. Discarded wholesale once the opportunity's
// deadline passes, whatever its fill state.
type pool struct {
	deadline time.Time
	entries  map[string]Reservation
	consumed map[string]bool
}

// CommitResult reports one account's outcome from a commit pass. Entries are
// independent; partial success across a pass is expected and normal.
type CommitResult struct {
	Account string
	Err     error
}

// Reserver runs the two-phase candidate protocol. One pool per opportunity
// key; at most maxPositions reservations across all live pools sharing this
// Reserver. Every pool mutation goes through r.mu, which is the single-writer
// discipline the remove-then-try-then-reinsert sequence depends on.
//
// Pools live in memory only. A reservation is meaningless outside its
// opportunity's live window, so none of this survives a restart.
type Reserver struct {
	mu           sync.Mutex
	maxPositions int
	cooldown     time.Duration
	pools        map[string]*pool
	failedUntil  map[string]time.Time
	onDiscard    func(Reservation)
}

// NewReserver builds a reserver capped at maxPositions across its scope.
// Accounts whose preparation step fails are not retried until cooldown has
// passed, so a consistently failing account cannot be hammered within one
// scan window. onDiscard, if set, is called for every reservation dropped by
// Sweep without having been consumed.
func NewReserver(maxPositions int, cooldown time.Duration, onDiscard func(Reservation)) *Reserver {
	return &Reserver{
		maxPositions: maxPositions,
		cooldown:     cooldown,
		pools:        make(map[string]*pool),
		failedUntil:  make(map[string]time.Time),
		onDiscard:    onDiscard,
	}
}

// Reserve is phase one: pre-authorization. It walks accounts not already
// reserved for this opportunity, up to the scope-wide need, running prepare
// for each. Successes join the pool; failures are logged, put on cooldown and
// stay eligible for a later pass. The phase is purely additive: it never
// evicts existing entries. Returns how many candidates were added.
func (r *Reserver) Reserve(ctx context.Context, opportunity string, deadline time.Time, accounts []string, prepare func(ctx context.Context, account string) (*Approval, error)) int {
	now := time.Now()

	r.mu.Lock()
	p, ok := r.pools[opportunity]
	if !ok {
		p = &pool{deadline: deadline, entries: make(map[string]Reservation), consumed: make(map[string]bool)}
		r.pools[opportunity] = p
	}

	need := r.maxPositions - r.total()

	var candidates []string
	for _, acc := range accounts {
		if need <= len(candidates) {
			break
		}
		if _, reserved := p.entries[acc]; reserved {
			continue
		}
		if p.consumed[acc] {
			// One opportunity, one use: a committed account never comes back.
			continue
		}
		if until, cooling := r.failedUntil[acc]; cooling && now.Before(until) {
			continue
		}
		candidates = append(candidates, acc)
	}
	r.mu.Unlock()

	added := 0
	for _, acc := range candidates {
		approval, err := prepare(ctx, acc)
		if err != nil {
			r.mu.Lock()
			r.failedUntil[acc] = time.Now().Add(r.cooldown)
			r.mu.Unlock()

			log.Logger <- log.Log{
				Msg:    err,
				Fields: logrus.Fields{"opportunity": opportunity, "account": acc, "phase": "prepare"},
				Level:  logrus.WarnLevel,
			}
			continue
		}

		r.mu.Lock()
		// The prepare call ran unlocked; re-check the cap and duplicates
		// before inserting.
		if _, reserved := p.entries[acc]; !reserved && !p.consumed[acc] && r.total() < r.maxPositions {
			p.entries[acc] = Reservation{Account: acc, Approval: approval, At: time.Now()}
			added++
		}
		r.mu.Unlock()
	}

	return added
}

// Commit is phase two. It snapshots the pool and, for each entry, removes it
// before attempting act: the reservation is pessimistically consumed first,
// so no concurrent pass can pick the same account up twice. A successful act
// leaves the account consumed for good: one opportunity, one use. A failed
// act reinserts the entry (the compensating action) before the failure shows
// up in the results, so the candidate is not lost to a transient error.
func (r *Reserver) Commit(ctx context.Context, opportunity string, act func(ctx context.Context, res Reservation) error) []CommitResult {
	r.mu.Lock()
	p, ok := r.pools[opportunity]
	if !ok {
		r.mu.Unlock()
		return nil
	}

	snapshot := make([]Reservation, 0, len(p.entries))
	for _, res := range p.entries {
		snapshot = append(snapshot, res)
	}
	r.mu.Unlock()

	results := make([]CommitResult, 0, len(snapshot))
	for _, res := range snapshot {
		r.mu.Lock()
		if _, still := p.entries[res.Account]; !still {
			// Taken by a concurrent pass between snapshot and now.
			r.mu.Unlock()
			continue
		}
		delete(p.entries, res.Account)
		r.mu.Unlock()

		if err := act(ctx, res); err != nil {
			r.mu.Lock()
			// The pool may have been swept while act was in flight; an
			// entry reinserted there would never be visited again.
			if live, ok := r.pools[opportunity]; ok {
				live.entries[res.Account] = res
				r.mu.Unlock()
			} else {
				r.mu.Unlock()
				if r.onDiscard != nil {
					r.onDiscard(res)
				}
			}

			results = append(results, CommitResult{Account: res.Account, Err: err})
			continue
		}

		r.mu.Lock()
		p.consumed[res.Account] = true
		r.mu.Unlock()

		results = append(results, CommitResult{Account: res.Account})
	}

	return results
}

// Sweep discards every pool whose deadline has passed, regardless of
// remaining entries, and expires stale cooldowns. Returns the number of
// reservations discarded.
func (r *Reserver) Sweep(now time.Time) int {
	r.mu.Lock()

	discarded := make([]Reservation, 0)
	for key, p := range r.pools {
		if now.Before(p.deadline) {
			continue
		}
		for _, res := range p.entries {
			discarded = append(discarded, res)
		}
		delete(r.pools, key)
	}

	for acc, until := range r.failedUntil {
		if !now.Before(until) {
			delete(r.failedUntil, acc)
		}
	}
	r.mu.Unlock()

	for _, res := range discarded {
		if r.onDiscard != nil {
			r.onDiscard(res)
		}
	}

	return len(discarded)
}

// Size reports one opportunity's pool size.
func (r *Reserver) Size(opportunity string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pools[opportunity]
	if !ok {
		return 0
	}

	return len(p.entries)
}

// Reserved reports whether the account currently holds a reservation for the
// opportunity.
func (r *Reserver) Reserved(opportunity, account string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pools[opportunity]
	if !ok {
		return false
	}
	_, reserved := p.entries[account]

	return reserved
}

// total counts reservations across all live pools. Caller holds r.mu.
func (r *Reserver) total() int {
	n := 0
	for _, p := range r.pools {
		n += len(p.entries)
	}

	return n
}
