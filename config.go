package flock

import (
	"time"

	"github.com/jinzhu/configor"
)

// An account entry as it appears in the configuration file. Accounts added at
// runtime go through the same struct.
type AccountConfig struct {
	ID        string  `required:"true"`
	RiskLimit float64 `required:"true"` // ceiling for reserved spend, venue currency
}

type Config struct {
	Venue struct {
		URL       string `default:"https://api.flock.exchange"`
		AccessKey string
		SecretKey string
		Paper     bool // run against the bolt-backed paper venue instead
	}
	Scheduler struct {
		// Tick interval in seconds; multiplied by time.Second where used.
		Interval      time.Duration `default:"10"`
		MaxConcurrent int           `default:"4"` // concurrently running ticks
	}
	Settlement struct {
		MaxPositions int           `default:"2"`   // candidate pool cap per scope
		ScanWindow   time.Duration `default:"120"` // seconds before expiry the commit window opens
		Horizon      time.Duration `default:"900"` // seconds before expiry pre-authorization may start
		OrderPrice   float64       `required:"true"`
	}
	Momentum struct {
		Enter      float64 `default:"-0.03"`
		Exit       float64 `default:"0.03"`
		OrderPrice float64 `required:"true"`
	}
	Accounts []AccountConfig
	Store    string        `default:"flock.db"`
	Timeout  time.Duration `default:"10"` // seconds to wait for an order before cancel
}

func NewConfig(filename string) (*Config, error) {
	config := Config{}

	if err := configor.New(&configor.Config{Silent: true}).Load(&config, filename); err != nil {
		return nil, err
	}

	return &config, nil
}
