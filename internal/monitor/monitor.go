// Package monitor implements the read-only operational health probe over
// queue depth, lag, and recent run error rate. It never mutates state and
// reports adapter failures as failed checks rather than crashing the caller.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/cheekymohnkey/styledna/internal/config"
	"github.com/cheekymohnkey/styledna/internal/queue"
	"github.com/cheekymohnkey/styledna/internal/store"
)

// CheckState grades a single metric against its threshold.
type CheckState string

const (
	StatePass CheckState = "pass"
	StateWarn CheckState = "warn"
	StateFail CheckState = "fail"
)

// Check is one graded metric.
type Check struct {
	Name   string     `json:"name"`
	State  CheckState `json:"state"`
	Detail string     `json:"detail,omitempty"`
}

// Report aggregates all checks. Healthy is false when any check failed.
type Report struct {
	Healthy   bool      `json:"healthy"`
	Checks    []Check   `json:"checks"`
	CheckedAt time.Time `json:"checked_at"`
}

// Monitor is the read-only aggregation over the queue adapter and store.
type Monitor struct {
	store store.Store
	queue queue.Adapter
	cfg   config.MonitorConfig
}

func New(st store.Store, q queue.Adapter, cfg config.MonitorConfig) *Monitor {
	return &Monitor{store: st, queue: q, cfg: cfg}
}

// Report runs all checks. An unreachable adapter produces failing queue
// checks; the error-rate check degrades independently.
func (m *Monitor) Report(ctx context.Context) *Report {
	now := time.Now().UTC()
	var checks []Check

	stats, err := m.queue.Stats(ctx)
	if err != nil {
		checks = append(checks,
			Check{Name: "queue_depth", State: StateFail, Detail: err.Error()},
			Check{Name: "dead_letters", State: StateFail, Detail: err.Error()},
			Check{Name: "queue_lag", State: StateFail, Detail: err.Error()},
		)
	} else {
		checks = append(checks,
			m.thresholdCheck("queue_depth", stats.Depth, m.cfg.MaxQueueDepth),
			m.thresholdCheck("dead_letters", stats.DeadLetters, m.cfg.MaxDeadLetters),
			m.lagCheck(stats, now),
		)
	}

	checks = append(checks, m.errorRateCheck(ctx, now))

	healthy := true
	for _, c := range checks {
		if c.State == StateFail {
			healthy = false
			break
		}
	}
	return &Report{Healthy: healthy, Checks: checks, CheckedAt: now}
}

func (m *Monitor) thresholdCheck(name string, value, max int) Check {
	c := Check{Name: name, State: StatePass, Detail: fmt.Sprintf("%d of %d", value, max)}
	if value > max {
		c.State = StateFail
	}
	return c
}

// lagCheck grades the age of the oldest visible message. Adapters that do
// not expose it (the distributed transport) report warn, never a false fail.
func (m *Monitor) lagCheck(stats *queue.Stats, now time.Time) Check {
	if stats.OldestVisible.IsZero() {
		if stats.Depth == 0 {
			return Check{Name: "queue_lag", State: StatePass, Detail: "queue empty"}
		}
		return Check{Name: "queue_lag", State: StateWarn, Detail: "oldest message age unavailable"}
	}

	lag := now.Sub(stats.OldestVisible)
	c := Check{Name: "queue_lag", State: StatePass, Detail: lag.Truncate(time.Second).String()}
	if lag > m.cfg.MaxLag {
		c.State = StateFail
	}
	return c
}

// errorRateCheck grades failed/total over the trailing window. Too small a
// sample reports warn: a handful of failures is not a signal.
func (m *Monitor) errorRateCheck(ctx context.Context, now time.Time) Check {
	failed, total, err := m.store.RunErrorRate(ctx, now.Add(-m.cfg.ErrorRateWindow))
	if err != nil {
		return Check{Name: "error_rate", State: StateFail, Detail: err.Error()}
	}
	if total < m.cfg.MinErrorRateRuns {
		return Check{Name: "error_rate", State: StateWarn,
			Detail: fmt.Sprintf("insufficient sample: %d runs", total)}
	}

	rate := float64(failed) / float64(total)
	c := Check{Name: "error_rate", State: StatePass,
		Detail: fmt.Sprintf("%.2f over %d runs", rate, total)}
	if rate > m.cfg.MaxErrorRate {
		c.State = StateFail
	}
	return c
}
