package bot

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/edgekit/flock"
	"github.com/edgekit/flock/client"
	"github.com/thoas/go-funk"
)

// restVenue is the live venue over the signed REST client. Responses come
// back as untyped maps; the conversions below are the only place that knows
// their shape.
type restVenue struct {
	c *client.Client
}

func NewRestVenue(config *flock.Config) Venue {
	return &restVenue{c: &client.Client{
		Client:    &http.Client{Timeout: time.Second * config.Timeout},
		URL:       config.Venue.URL,
		AccessKey: config.Venue.AccessKey,
		SecretKey: config.Venue.SecretKey,
	}}
}

func (v *restVenue) Markets(ctx context.Context) ([]Market, error) {
	resp, err := v.c.Call("GET", "/markets", nil)
	if err != nil {
		return nil, err
	}

	rows, ok := resp.([]map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("venue: unexpected /markets response %T", resp)
	}

	markets := funk.Map(rows, func(row map[string]interface{}) Market {
		return Market{
			ID:         str(row["market"]),
			Price:      num(row["price"]),
			ChangeRate: num(row["change_rate"]),
			ExpiresAt:  time.Unix(int64(num(row["expires_at"])), 0),
		}
	}).([]Market)

	return markets, nil
}

func (v *restVenue) Approve(_ context.Context, account, opportunity string, cost float64) (*Approval, error) {
	resp, err := v.c.Call("POST", "/approvals", struct {
		Account     string  `url:"account"`
		Opportunity string  `url:"opportunity"`
		Cost        float64 `url:"cost"`
	}{account, opportunity, cost})
	if err != nil {
		return nil, err
	}

	row, ok := resp.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("venue: unexpected /approvals response %T", resp)
	}
	if state := str(row["state"]); state != "approved" {
		return nil, fmt.Errorf("venue: approval for %q is %q", account, state)
	}

	return &Approval{ID: str(row["uuid"]), Account: account, Cost: cost}, nil
}

func (v *restVenue) Order(_ context.Context, account, opportunity string, p OrderParams) error {
	resp, err := v.c.Call("POST", "/orders", struct {
		Account     string  `url:"account"`
		Opportunity string  `url:"opportunity"`
		Side        string  `url:"side"`
		Volume      float64 `url:"volume"`
		Price       float64 `url:"price"`
	}{account, opportunity, p.Side, p.Volume, p.Price})
	if err != nil {
		return err
	}

	row, ok := resp.(map[string]interface{})
	if !ok {
		return fmt.Errorf("venue: unexpected /orders response %T", resp)
	}
	if state := str(row["state"]); state != "done" && state != "wait" {
		return fmt.Errorf("venue: order for %q is %q", account, state)
	}

	return nil
}

func (v *restVenue) Balance(_ context.Context, account string) (float64, error) {
	resp, err := v.c.Call("GET", "/balances", struct {
		Account string `url:"account"`
	}{account})
	if err != nil {
		return 0, err
	}

	row, ok := resp.(map[string]interface{})
	if !ok {
		return 0, fmt.Errorf("venue: unexpected /balances response %T", resp)
	}

	return num(row["balance"]), nil
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

// num accepts both JSON numbers and the venue's stringified decimals.
func num(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
