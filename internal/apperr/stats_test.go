package apperr

import (
	"errors"
	"testing"
	"time"
)

func TestStatsRecordAndReset(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	s := newStatsWithClock(clock)

	s.Record(Validation("a"))
	s.Record(Validation("b"))
	s.Record(errors.New("sqlite: disk I/O error"))
	s.Record(nil)

	snap := s.Snapshot()
	if snap.TotalErrors != 3 {
		t.Errorf("TotalErrors = %d, want 3", snap.TotalErrors)
	}
	if snap.ByCode[CodeValidation] != 2 || snap.ByCode[CodeDatabase] != 1 {
		t.Errorf("ByCode = %v", snap.ByCode)
	}

	now = now.Add(time.Hour)
	s.Reset()
	snap = s.Snapshot()
	if snap.TotalErrors != 0 || len(snap.ByCode) != 0 {
		t.Errorf("after Reset: %+v", snap)
	}
	if snap.Uptime != time.Hour {
		t.Errorf("Uptime = %v, want 1h", snap.Uptime)
	}
	if !snap.LastReset.Equal(now) {
		t.Errorf("LastReset = %v, want %v", snap.LastReset, now)
	}
}
