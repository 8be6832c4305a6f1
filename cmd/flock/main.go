package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/edgekit/flock"
	"github.com/edgekit/flock/bot"
	"github.com/edgekit/flock/store"
	"github.com/sirupsen/logrus"
	"github.com/thoas/go-funk"
)

func main() {
	config, err := flock.NewConfig("flock.config.yml")
	if err != nil {
		logrus.Fatal(err)
	}

	st, err := store.Open(config.Store)
	if err != nil {
		logrus.Fatal(err)
	}
	defer st.Close()

	var venue bot.Venue
	if config.Venue.Paper {
		ids := funk.Map(config.Accounts, func(a flock.AccountConfig) string { return a.ID }).([]string)

		paper, err := bot.NewPaperVenue("paper.db", 1000.0, ids)
		if err != nil {
			logrus.Fatal(err)
		}
		defer paper.Close()

		venue = paper
	} else {
		venue = bot.NewRestVenue(config)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		cancel()
	}()

	if err := bot.New(config, venue, st).Run(ctx); err != nil {
		logrus.Fatal(err)
	}
}
