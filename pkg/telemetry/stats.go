package telemetry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// KeyStats is the contention summary for one resource key.
type KeyStats struct {
	Key        string        `json:"key"`
	Runs       int64         `json:"runs"`
	Busy       int64         `json:"busy"`
	Errors     int64         `json:"errors"`
	TotalWait  time.Duration `json:"total_wait"`
	MaxWait    time.Duration `json:"max_wait"`
	LastHolder string        `json:"last_holder,omitempty"`
	LastSeen   time.Time     `json:"last_seen"`
}

// AvgWait is the mean wait per run.
func (k KeyStats) AvgWait() time.Duration {
	if k.Runs == 0 {
		return 0
	}
	return k.TotalWait / time.Duration(k.Runs)
}

// Stats aggregates events into per-key contention counters for the admin
// surface. Safe for concurrent use.
type Stats struct {
	mu   sync.Mutex
	keys map[string]*KeyStats
	now  func() time.Time
}

func NewStats() *Stats {
	return &Stats{
		keys: make(map[string]*KeyStats),
		now:  time.Now,
	}
}

func (s *Stats) Emit(_ context.Context, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, key := range ev.Keys {
		ks, ok := s.keys[key]
		if !ok {
			ks = &KeyStats{Key: key}
			s.keys[key] = ks
		}

		ks.Runs++
		ks.TotalWait += ev.Wait
		if ev.Wait > ks.MaxWait {
			ks.MaxWait = ev.Wait
		}
		ks.LastSeen = now

		switch ev.Outcome {
		case OutcomeBusy:
			if ev.BusyKey == "" || ev.BusyKey == key {
				ks.Busy++
			}
		case OutcomeError, OutcomePanic:
			ks.Errors++
		}
		if ev.Outcome != OutcomeBusy {
			ks.LastHolder = ev.Holder.String()
		}
	}
}

// Snapshot returns a copy of all counters, most contended first.
func (s *Stats) Snapshot() []KeyStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]KeyStats, 0, len(s.keys))
	for _, ks := range s.keys {
		out = append(out, *ks)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Busy != out[j].Busy {
			return out[i].Busy > out[j].Busy
		}
		if out[i].TotalWait != out[j].TotalWait {
			return out[i].TotalWait > out[j].TotalWait
		}
		return out[i].Key < out[j].Key
	})
	return out
}
