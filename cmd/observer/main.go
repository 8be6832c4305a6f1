package main

import (
	"github.com/edgekit/flock"
	"github.com/edgekit/flock/observer"
	"github.com/sirupsen/logrus"
)

func main() {
	config, err := flock.NewConfig("flock.config.yml")
	if err != nil {
		logrus.Fatal(err)
	}

	o, err := observer.New(config, "wss://stream.flock.exchange/v1")
	if err != nil {
		logrus.Fatal(err)
	}
	defer o.Close()

	logrus.Fatal(o.Watch())
}
