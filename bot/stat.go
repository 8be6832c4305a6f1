package bot

import (
	"sync/atomic"
	"time"
)

// Stats carries the engine-wide execution counters. Counters only grow;
// they reset on process restart. Persisted periodically for observability,
// never read back for correctness.
type Stats struct {
	total   uint64
	success uint64
	failure uint64
	active  int32
}

// StatsDoc is the persisted form of Stats.
type StatsDoc struct {
	Total   uint64
	Success uint64
	Failure uint64
	At      time.Time
}

func (s *Stats) Launched() { atomic.AddUint64(&s.total, 1) }

func (s *Stats) Succeeded() { atomic.AddUint64(&s.success, 1) }

func (s *Stats) Failed() { atomic.AddUint64(&s.failure, 1) }

// Acquire claims an active-execution slot, failing when max are already in
// flight. Paired with Release in a defer.
func (s *Stats) Acquire(max int32) bool {
	for {
		active := atomic.LoadInt32(&s.active)
		if active >= max {
			return false
		}
		if atomic.CompareAndSwapInt32(&s.active, active, active+1) {
			return true
		}
	}
}

func (s *Stats) Release() { atomic.AddInt32(&s.active, -1) }

func (s *Stats) Active() int32 { return atomic.LoadInt32(&s.active) }

func (s *Stats) Doc() StatsDoc {
	return StatsDoc{
		Total:   atomic.LoadUint64(&s.total),
		Success: atomic.LoadUint64(&s.success),
		Failure: atomic.LoadUint64(&s.failure),
		At:      time.Now(),
	}
}
