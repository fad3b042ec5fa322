package apperr

import (
	"sync"
	"time"
)

// Stats counts errors by code. It is safe for concurrent use.
type Stats struct {
	mu        sync.Mutex
	counts    map[Code]int
	total     int
	lastReset time.Time
	started   time.Time
	now       func() time.Time
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	ByCode      map[Code]int  `json:"byCode"`
	TotalErrors int           `json:"totalErrors"`
	LastReset   time.Time     `json:"lastReset"`
	Uptime      time.Duration `json:"uptime"`
}

func NewStats() *Stats {
	return newStatsWithClock(time.Now)
}

func newStatsWithClock(now func() time.Time) *Stats {
	t := now()
	return &Stats{counts: make(map[Code]int), lastReset: t, started: t, now: now}
}

// Record normalizes err and counts its code. nil is ignored.
func (s *Stats) Record(err error) {
	if err == nil {
		return
	}
	code := Normalize(err).Code
	s.mu.Lock()
	s.counts[code]++
	s.total++
	s.mu.Unlock()
}

func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	byCode := make(map[Code]int, len(s.counts))
	for k, v := range s.counts {
		byCode[k] = v
	}
	return StatsSnapshot{
		ByCode:      byCode,
		TotalErrors: s.total,
		LastReset:   s.lastReset,
		Uptime:      s.now().Sub(s.started),
	}
}

// Reset clears the counters. Uptime is unaffected.
func (s *Stats) Reset() {
	s.mu.Lock()
	s.counts = make(map[Code]int)
	s.total = 0
	s.lastReset = s.now()
	s.mu.Unlock()
}
