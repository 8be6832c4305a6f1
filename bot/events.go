package bot

import (
	"github.com/sirupsen/logrus"
)

// Event is what a strategy reports to the engine after every execution pass.
// All machines share one channel and a single aggregator consumes it, so
// event ordering and backpressure stay explicit instead of being hidden in
// listener registration.
type Event struct {
	Strategy string
	Account  string
	Action   string
	Fields   logrus.Fields
	Err      error
}

func (e Event) fields() logrus.Fields {
	f := logrus.Fields{"strategy": e.Strategy}
	if e.Account != "" {
		f["account"] = e.Account
	}
	f["action"] = e.Action
	for k, v := range e.Fields {
		f[k] = v
	}

	return f
}
