package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
	"github.com/edgekit/flock/log"
	"github.com/fatih/structs"
	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"
)

const (
	paperBalancesBucket  = "balances"
	paperPositionsBucket = "positions"
)

// paperPosition is one held position in the paper ledger.
type paperPosition struct {
	Market   string  `structs:"market"`
	Volume   float64 `structs:"volume"`
	AvgPrice float64 `structs:"avg_price"`
}

// PaperVenue simulates the venue against a bolt ledger, so the whole engine
// runs end to end with no keys and no network. Approvals succeed whenever the
// account can afford the cost; orders move cash and positions inside one
// bolt transaction. Markets are synthesized on an hourly settlement cycle.
type PaperVenue struct {
	db *bolt.DB
}

// NewPaperVenue opens (or creates) the ledger and seeds each account that is
// not already present with cash.
func NewPaperVenue(filename string, cash float64, accounts []string) (*PaperVenue, error) {
	db, err := bolt.Open(filename, 0666, nil)
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		balances, err := tx.CreateBucketIfNotExists([]byte(paperBalancesBucket))
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(paperPositionsBucket)); err != nil {
			return err
		}

		for _, acc := range accounts {
			if balances.Get([]byte(acc)) != nil {
				continue
			}

			encoded, err := serialize(cash)
			if err != nil {
				return err
			}
			if err := balances.Put([]byte(acc), encoded); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Logger <- log.Log{
		Msg:    "paper venue ready",
		Fields: logrus.Fields{"accounts": len(accounts), "cash": cash},
		Level:  logrus.DebugLevel,
	}

	return &PaperVenue{db}, nil
}

// Markets synthesizes one up/down market pair settling at the top of the next
// hour, with a deterministic pseudo price walk so strategies have something
// to react to.
func (v *PaperVenue) Markets(context.Context) ([]Market, error) {
	now := time.Now()
	expiry := now.Truncate(time.Hour).Add(time.Hour)

	walk := float64(now.Unix()%600)/600.0 - 0.5 // [-0.5, 0.5), repeats every 10 min

	return []Market{
		{ID: "DEMO-UP", Price: 0.5 + walk*0.2, ChangeRate: walk * 0.1, ExpiresAt: expiry},
		{ID: "DEMO-DOWN", Price: 0.5 - walk*0.2, ChangeRate: -walk * 0.1, ExpiresAt: expiry},
	}, nil
}

// Approve checks the account can afford cost and hands back a fresh handle.
// Nothing is held; the paper venue trusts the engine's own risk accounting.
func (v *PaperVenue) Approve(ctx context.Context, account, opportunity string, cost float64) (*Approval, error) {
	balance, err := v.Balance(ctx, account)
	if err != nil {
		return nil, err
	}
	if balance < cost {
		return nil, fmt.Errorf("paper: %q cannot cover approval of %.2f (balance %.2f)", account, cost, balance)
	}

	return &Approval{ID: uuid.NewV4().String(), Account: account, Cost: cost}, nil
}

// Order settles immediately: cash and position move together in one update
// transaction.
func (v *PaperVenue) Order(_ context.Context, account, opportunity string, p OrderParams) error {
	sign := 1.0
	if p.Side == S {
		sign = -sign
	}

	return v.db.Update(func(tx *bolt.Tx) error {
		balances := tx.Bucket([]byte(paperBalancesBucket))
		positions := tx.Bucket([]byte(paperPositionsBucket))
		if balances == nil || positions == nil {
			return fmt.Errorf("paper: ledger buckets missing")
		}

		var balance float64
		encoded := balances.Get([]byte(account))
		if encoded == nil {
			return fmt.Errorf("paper: %q: %w", account, ErrUnknownAccount)
		}
		if err := deserialize(encoded, &balance); err != nil {
			return err
		}

		balance -= sign * p.Volume * p.Price
		if balance < 0 {
			return fmt.Errorf("paper: %q has insufficient cash for %s %f @ %f", account, p.Side, p.Volume, p.Price)
		}

		encoded, err := serialize(balance)
		if err != nil {
			return err
		}
		if err := balances.Put([]byte(account), encoded); err != nil {
			return err
		}

		key := []byte(account + "/" + opportunity)

		position := paperPosition{Market: opportunity}
		if encoded := positions.Get(key); encoded != nil {
			if err := deserialize(encoded, &position); err != nil {
				return err
			}
		}

		volume := position.Volume + sign*p.Volume
		if volume < 0 {
			return fmt.Errorf("paper: %q cannot sell %f of %q, holds %f", account, p.Volume, opportunity, position.Volume)
		}
		if volume > 0 {
			position.AvgPrice = (position.AvgPrice*position.Volume + sign*p.Volume*p.Price) / volume
		} else {
			position.AvgPrice = 0
		}
		position.Volume = volume

		encoded, err = serialize(position)
		if err != nil {
			return err
		}

		return positions.Put(key, encoded)
	})
}

func (v *PaperVenue) Balance(_ context.Context, account string) (float64, error) {
	var balance float64

	err := v.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(paperBalancesBucket))
		if bkt == nil {
			return fmt.Errorf("paper: ledger buckets missing")
		}

		encoded := bkt.Get([]byte(account))
		if encoded == nil {
			return fmt.Errorf("paper: %q: %w", account, ErrUnknownAccount)
		}

		return deserialize(encoded, &balance)
	})
	if err != nil {
		return 0, err
	}

	return balance, nil
}

// Positions lists an account's open positions as generic maps, the shape the
// observer tooling prints.
func (v *PaperVenue) Positions(account string) ([]map[string]interface{}, error) {
	r := make([]map[string]interface{}, 0)

	err := v.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(paperPositionsBucket))
		if bkt == nil {
			return fmt.Errorf("paper: ledger buckets missing")
		}

		prefix := []byte(account + "/")

		return bkt.ForEach(func(key, encoded []byte) error {
			if len(key) < len(prefix) || string(key[:len(prefix)]) != string(prefix) {
				return nil
			}

			var position paperPosition
			if err := deserialize(encoded, &position); err != nil {
				return err
			}
			if position.Volume == 0 {
				return nil
			}

			r = append(r, structs.Map(position))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return r, nil
}

func (v *PaperVenue) Close() error { return v.db.Close() }
