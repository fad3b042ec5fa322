// Package health classifies per-component call statistics and aggregates
// them into an overall service status.
package health

import (
	"sort"
	"time"
)

type Status string

const (
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
)

func (s Status) rank() int {
	switch s {
	case Degraded:
		return 1
	case Unhealthy:
		return 2
	}
	return 0
}

// Worse returns the more severe of a and b.
func Worse(a, b Status) Status {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// Thresholds mark where a component stops being healthy. Reaching a
// Degraded bound degrades it; exceeding an Unhealthy bound fails it.
//
// The share bounds grade a whole set: it degrades once more than
// DegradedShare of its components are offending, and fails once more than
// UnhealthyShare of them are unhealthy.
type Thresholds struct {
	DegradedErrorRate  float64
	UnhealthyErrorRate float64
	DegradedLatency    time.Duration
	UnhealthyLatency   time.Duration
	DegradedShare      float64
	UnhealthyShare     float64
}

var (
	// ToolThresholds apply to individual tools and the tool fleet.
	ToolThresholds = Thresholds{
		DegradedErrorRate:  0.1,
		UnhealthyErrorRate: 0.2,
		DegradedLatency:    5 * time.Second,
		UnhealthyLatency:   10 * time.Second,
		DegradedShare:      0.1,
		UnhealthyShare:     0.2,
	}
	// ServiceThresholds apply to search services, which are expected to be
	// faster and more reliable than the tools wrapping them.
	ServiceThresholds = Thresholds{
		DegradedErrorRate:  0.05,
		UnhealthyErrorRate: 0.1,
		DegradedLatency:    2 * time.Second,
		UnhealthyLatency:   5 * time.Second,
		DegradedShare:      0.1,
		UnhealthyShare:     0.2,
	}
)

// Sample is the call history of one component.
type Sample struct {
	Name       string
	Calls      int64
	Errors     int64
	AvgLatency time.Duration
}

func (s Sample) ErrorRate() float64 {
	if s.Calls == 0 {
		return 0
	}
	return float64(s.Errors) / float64(s.Calls)
}

// Classify grades one sample. A component is healthy only while both its
// error rate and its latency stay below the Degraded bounds. A component
// that has never been called is healthy.
func Classify(s Sample, th Thresholds) Status {
	rate := s.ErrorRate()
	switch {
	case rate > th.UnhealthyErrorRate || s.AvgLatency > th.UnhealthyLatency:
		return Unhealthy
	case rate >= th.DegradedErrorRate || s.AvgLatency >= th.DegradedLatency:
		return Degraded
	}
	return Healthy
}

// ComponentReport is one graded component.
type ComponentReport struct {
	Name       string        `json:"name"`
	Status     Status        `json:"status"`
	Calls      int64         `json:"calls"`
	ErrorRate  float64       `json:"errorRate"`
	AvgLatency time.Duration `json:"avgLatencyNs"`
}

// Report is the aggregate view of a set of components.
type Report struct {
	Status     Status            `json:"status"`
	Total      int               `json:"total"`
	Healthy    int               `json:"healthy"`
	Degraded   int               `json:"degraded"`
	Unhealthy  int               `json:"unhealthy"`
	Offenders  []string          `json:"offenders,omitempty"`
	Components []ComponentReport `json:"components"`
}

// Aggregate grades every sample and derives the overall status from the
// share of offending components, so a single failing call to a rarely used
// component does not fail the whole set.
func Aggregate(samples []Sample, th Thresholds) Report {
	r := Report{Status: Healthy, Total: len(samples)}
	for _, s := range samples {
		st := Classify(s, th)
		switch st {
		case Healthy:
			r.Healthy++
		case Degraded:
			r.Degraded++
		case Unhealthy:
			r.Unhealthy++
		}
		if st != Healthy {
			r.Offenders = append(r.Offenders, s.Name)
		}
		r.Components = append(r.Components, ComponentReport{
			Name:       s.Name,
			Status:     st,
			Calls:      s.Calls,
			ErrorRate:  s.ErrorRate(),
			AvgLatency: s.AvgLatency,
		})
	}
	r.Status = r.overall(th)
	sort.Strings(r.Offenders)
	sort.Slice(r.Components, func(i, j int) bool { return r.Components[i].Name < r.Components[j].Name })
	return r
}

func (r Report) overall(th Thresholds) Status {
	if r.Total == 0 {
		return Healthy
	}
	total := float64(r.Total)
	switch {
	case float64(r.Unhealthy)/total > th.UnhealthyShare:
		return Unhealthy
	case float64(r.Degraded+r.Unhealthy)/total > th.DegradedShare:
		return Degraded
	}
	return Healthy
}
