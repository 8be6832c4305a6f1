package bot

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/edgekit/flock/log"
	"github.com/sirupsen/logrus"
	"github.com/thoas/go-funk"
)

// Account is one trading account: identity, risk counters and its bound
// strategy machines. Accounts are only ever removed by explicit operator
// action.
type Account struct {
	ID string

	mu        sync.Mutex
	riskUsed  float64
	riskLimit float64
	machines  map[Kind]*Machine
}

// AccountDoc is the persisted form of an account's durable state.
type AccountDoc struct {
	ID        string
	RiskUsed  float64
	RiskLimit float64
}

// Registry holds every trading account and answers eligibility questions for
// the scheduler and the cross-account strategies.
type Registry struct {
	mu       sync.Mutex
	accounts map[string]*Account
}

func NewRegistry() *Registry {
	return &Registry{accounts: make(map[string]*Account)}
}

// Register creates an account entry. Registering the same id twice fails.
func (r *Registry) Register(id string, riskLimit float64) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[id]; ok {
		return nil, fmt.Errorf("%q: %w", id, ErrDuplicateAccount)
	}

	acc := &Account{ID: id, riskLimit: riskLimit, machines: make(map[Kind]*Machine)}
	r.accounts[id] = acc

	return acc, nil
}

// Bind instantiates the strategy kind for the account and attaches its
// machine. Unknown kinds are rejected here, at bind time.
func (r *Registry) Bind(id string, kind Kind, deps Deps, events chan<- Event) (*Machine, error) {
	r.mu.Lock()
	acc, ok := r.accounts[id]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrUnknownAccount)
	}

	deps.Account = id

	logic, err := newLogic(kind, deps)
	if err != nil {
		return nil, err
	}

	m := newMachine(logic, id, events)

	acc.mu.Lock()
	acc.machines[kind] = m
	acc.mu.Unlock()

	return m, nil
}

// ReserveRisk atomically checks the account's ceiling and reserves cost
// against it. On ErrRiskLimit nothing is mutated. Two concurrent reservations
// can never double-count: the check and the reserve happen under the account
// lock.
func (r *Registry) ReserveRisk(id string, cost float64) error {
	acc, err := r.account(id)
	if err != nil {
		return err
	}

	acc.mu.Lock()
	defer acc.mu.Unlock()

	if acc.riskUsed+cost > acc.riskLimit {
		return fmt.Errorf("%q: used %.2f + cost %.2f over %.2f: %w",
			id, acc.riskUsed, cost, acc.riskLimit, ErrRiskLimit)
	}
	acc.riskUsed += cost

	return nil
}

// ReleaseRisk gives back a reservation that was not spent.
func (r *Registry) ReleaseRisk(id string, cost float64) {
	acc, err := r.account(id)
	if err != nil {
		return
	}

	acc.mu.Lock()
	acc.riskUsed -= cost
	if acc.riskUsed < 0 {
		acc.riskUsed = 0
	}
	acc.mu.Unlock()
}

// Eligible returns the ids of accounts holding a live (started, not broken)
// binding of kind. The order is stable across calls but carries no priority.
func (r *Registry) Eligible(kind Kind) []string {
	r.mu.Lock()
	accounts := funk.Filter(r.values(), func(acc *Account) bool {
		acc.mu.Lock()
		m, ok := acc.machines[kind]
		acc.mu.Unlock()

		return ok && !m.Broken() && !m.Stopped()
	}).([]*Account)
	r.mu.Unlock()

	ids := funk.Map(accounts, func(acc *Account) string { return acc.ID }).([]string)
	sort.Strings(ids)

	return ids
}

// IDs returns every registered account id, sorted.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	ids := funk.Map(r.values(), func(acc *Account) string { return acc.ID }).([]string)
	r.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// Remove stops every machine bound to the account, then deletes the entry.
// Stop failures are logged, not rethrown; removal proceeds regardless.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	acc, ok := r.accounts[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%q: %w", id, ErrUnknownAccount)
	}
	delete(r.accounts, id)
	r.mu.Unlock()

	acc.mu.Lock()
	machines := make([]*Machine, 0, len(acc.machines))
	for _, m := range acc.machines {
		machines = append(machines, m)
	}
	acc.machines = make(map[Kind]*Machine)
	acc.mu.Unlock()

	for _, m := range machines {
		if err := m.Stop(ctx); err != nil {
			log.Logger <- log.Log{
				Msg:    err,
				Fields: logrus.Fields{"account": id},
				Level:  logrus.ErrorLevel,
			}
		}
	}

	return nil
}

// StopAll stops every bound machine without removing accounts. Used at engine
// shutdown.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.Lock()
	accounts := r.values()
	r.mu.Unlock()

	for _, acc := range accounts {
		acc.mu.Lock()
		machines := make([]*Machine, 0, len(acc.machines))
		for _, m := range acc.machines {
			machines = append(machines, m)
		}
		acc.mu.Unlock()

		for _, m := range machines {
			if err := m.Stop(ctx); err != nil {
				log.Logger <- log.Log{
					Msg:    err,
					Fields: logrus.Fields{"account": acc.ID},
					Level:  logrus.ErrorLevel,
				}
			}
		}
	}
}

// Pairs enumerates every (account, machine) pair for a scheduler tick.
func (r *Registry) Pairs() []Pair {
	r.mu.Lock()
	accounts := r.values()
	r.mu.Unlock()

	var pairs []Pair
	for _, acc := range accounts {
		acc.mu.Lock()
		for _, m := range acc.machines {
			pairs = append(pairs, Pair{Account: acc.ID, Machine: m})
		}
		acc.mu.Unlock()
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Account < pairs[j].Account })

	return pairs
}

// Doc snapshots every account's durable state for persistence.
func (r *Registry) Doc() map[string]AccountDoc {
	r.mu.Lock()
	accounts := r.values()
	r.mu.Unlock()

	doc := make(map[string]AccountDoc, len(accounts))
	for _, acc := range accounts {
		acc.mu.Lock()
		doc[acc.ID] = AccountDoc{ID: acc.ID, RiskUsed: acc.riskUsed, RiskLimit: acc.riskLimit}
		acc.mu.Unlock()
	}

	return doc
}

// RestoreRisk re-applies persisted risk counters after a restart.
func (r *Registry) RestoreRisk(id string, used float64) {
	acc, err := r.account(id)
	if err != nil {
		return
	}

	acc.mu.Lock()
	acc.riskUsed = used
	acc.mu.Unlock()
}

func (r *Registry) account(id string) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, ok := r.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrUnknownAccount)
	}

	return acc, nil
}

// values collects the account set. Caller holds r.mu.
func (r *Registry) values() []*Account {
	accounts := make([]*Account, 0, len(r.accounts))
	for _, acc := range r.accounts {
		accounts = append(accounts, acc)
	}

	return accounts
}
