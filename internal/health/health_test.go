package health

import (
	"fmt"
	"testing"
	"time"
)

func fleet(offending int, errorsPerHundred int64) []Sample {
	samples := make([]Sample, 10)
	for i := range samples {
		samples[i] = Sample{Name: fmt.Sprintf("tool_%02d", i), Calls: 100, AvgLatency: 10 * time.Millisecond}
		if i < offending {
			samples[i].Errors = errorsPerHundred
		}
	}
	return samples
}

func TestAggregateDegradedWhenToolsExceedTenPercent(t *testing.T) {
	r := Aggregate(fleet(3, 15), ToolThresholds)
	if r.Status != Degraded {
		t.Errorf("Status = %s, want %s", r.Status, Degraded)
	}
	if r.Degraded != 3 || r.Healthy != 7 {
		t.Errorf("counts = %d degraded / %d healthy, want 3/7", r.Degraded, r.Healthy)
	}
	if len(r.Offenders) != 3 {
		t.Errorf("Offenders = %v", r.Offenders)
	}
}

func TestAggregateUnhealthyWhenToolsExceedTwentyPercent(t *testing.T) {
	r := Aggregate(fleet(3, 25), ToolThresholds)
	if r.Status != Unhealthy {
		t.Errorf("Status = %s, want %s", r.Status, Unhealthy)
	}
	if r.Unhealthy != 3 {
		t.Errorf("Unhealthy = %d, want 3", r.Unhealthy)
	}
}

func TestAggregateHealthyFleet(t *testing.T) {
	r := Aggregate(fleet(0, 0), ToolThresholds)
	if r.Status != Healthy || r.Healthy != 10 {
		t.Errorf("report = %+v", r)
	}
}

func TestClassifyLatency(t *testing.T) {
	if got := Classify(Sample{Calls: 1, AvgLatency: 6 * time.Second}, ToolThresholds); got != Degraded {
		t.Errorf("6s tool = %s, want degraded", got)
	}
	if got := Classify(Sample{Calls: 1, AvgLatency: 11 * time.Second}, ToolThresholds); got != Unhealthy {
		t.Errorf("11s tool = %s, want unhealthy", got)
	}
	if got := Classify(Sample{Calls: 1, AvgLatency: 3 * time.Second}, ServiceThresholds); got != Degraded {
		t.Errorf("3s service = %s, want degraded", got)
	}
	if got := Classify(Sample{}, ToolThresholds); got != Healthy {
		t.Errorf("idle tool = %s, want healthy", got)
	}
}

func TestWorse(t *testing.T) {
	if Worse(Healthy, Degraded) != Degraded || Worse(Unhealthy, Degraded) != Unhealthy {
		t.Error("Worse ordering broken")
	}
}

func TestAggregateSingleFailureKeepsFleetHealthy(t *testing.T) {
	samples := make([]Sample, 17)
	for i := range samples {
		samples[i] = Sample{Name: fmt.Sprintf("tool_%02d", i), Calls: 1000}
	}
	samples[5] = Sample{Name: "get_project", Calls: 1, Errors: 1}

	r := Aggregate(samples, ToolThresholds)
	if r.Status != Healthy {
		t.Errorf("Status = %s, want %s", r.Status, Healthy)
	}
	if r.Unhealthy != 1 || len(r.Offenders) != 1 || r.Offenders[0] != "get_project" {
		t.Errorf("report = %+v, want get_project as the only offender", r)
	}
}

func TestAggregateShareBoundsAreExclusive(t *testing.T) {
	// 1 of 10 offending is exactly the degraded share.
	if r := Aggregate(fleet(1, 25), ToolThresholds); r.Status != Healthy {
		t.Errorf("1/10 unhealthy: Status = %s, want %s", r.Status, Healthy)
	}
	if r := Aggregate(fleet(2, 15), ToolThresholds); r.Status != Degraded {
		t.Errorf("2/10 degraded: Status = %s, want %s", r.Status, Degraded)
	}
	if r := Aggregate(fleet(2, 25), ToolThresholds); r.Status != Degraded {
		t.Errorf("2/10 unhealthy: Status = %s, want %s", r.Status, Degraded)
	}
}

func TestAggregateEmpty(t *testing.T) {
	if r := Aggregate(nil, ToolThresholds); r.Status != Healthy || r.Total != 0 {
		t.Errorf("report = %+v", r)
	}
}

func TestClassifyErrorRateBoundary(t *testing.T) {
	if got := Classify(Sample{Calls: 100, Errors: 10}, ToolThresholds); got != Degraded {
		t.Errorf("10%% errors = %s, want degraded", got)
	}
	if got := Classify(Sample{Calls: 100, Errors: 9}, ToolThresholds); got != Healthy {
		t.Errorf("9%% errors = %s, want healthy", got)
	}
	if got := Classify(Sample{Calls: 100, Errors: 20}, ToolThresholds); got != Degraded {
		t.Errorf("20%% errors = %s, want degraded", got)
	}
	if got := Classify(Sample{Calls: 1, AvgLatency: 5 * time.Second}, ToolThresholds); got != Degraded {
		t.Errorf("5s tool = %s, want degraded", got)
	}
}
