package bot

import (
	"context"
	"strconv"
	"time"
)

// Order sides.
const (
	B = "bid"
	S = "ask"
)

// Market is one tradable market in a snapshot. The same physical market
// recurring hourly shows up with a new ExpiresAt each cycle, so each cycle is
// a distinct opportunity.
type Market struct {
	ID         string
	Price      float64
	ChangeRate float64 // change against the previous cycle close
	ExpiresAt  time.Time
}

// Opportunity returns the stable key for this market's current cycle.
func (m Market) Opportunity() string {
	return m.ID + "@" + strconv.FormatInt(m.ExpiresAt.Unix(), 10)
}

func (m Market) TimeToExpiry(now time.Time) time.Duration {
	return m.ExpiresAt.Sub(now)
}

// Snapshot is the immutable market view fetched once per scheduler tick and
// handed to every strategy. Strategies never share mutable market state.
type Snapshot struct {
	At      time.Time
	Markets []Market
}

// Approval is the execution handle returned by the pre-authorization step.
// Holding one means the venue will accept an order up to Cost for Account.
type Approval struct {
	ID      string
	Account string
	Cost    float64
}

type OrderParams struct {
	Side   string
	Volume float64
	Price  float64
}

// Venue is the boundary to the external market venue. Implementations:
// restVenue (live) and PaperVenue (bolt-backed, for tests and dry runs).
type Venue interface {
	// Markets fetches the current market snapshot. Transient failures are
	// treated by callers as "no opportunities this tick".
	Markets(ctx context.Context) ([]Market, error)
	// Approve runs the allowance step for one account and opportunity.
	Approve(ctx context.Context, account, opportunity string, cost float64) (*Approval, error)
	// Order places the final order consuming a prior approval.
	Order(ctx context.Context, account, opportunity string, p OrderParams) error
	// Balance reports the account's free cash.
	Balance(ctx context.Context, account string) (float64, error)
}
