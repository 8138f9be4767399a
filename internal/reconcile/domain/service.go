// Package domain defines the reconciliation report over the three usage models.
package domain

import (
	"context"
	"time"
)

// MismatchCap bounds each mismatch list so a badly drifted database still
// produces a report an operator can read.
const MismatchCap = 200

// TotalMismatch is a lifetime-total disagreement between the summary cache
// and the success rollups.
type TotalMismatch struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Metric   string `json:"metric"`
	Expected int64  `json:"expected"`
	Actual   int64  `json:"actual"`
}

// AggregateMismatch is a per-day disagreement between the event log and the
// rollup for one (stat_date, user, action, status) key.
type AggregateMismatch struct {
	StatDate       string `json:"stat_date"`
	UserID         int64  `json:"user_id"`
	Username       string `json:"username"`
	Action         string `json:"action"`
	Status         string `json:"status"`
	EventsCount    int64  `json:"events_count"`
	AggregateCount int64  `json:"aggregate_count"`
}

// Summary counts what a reconcile run covered and found.
type Summary struct {
	UsersChecked        int `json:"users_checked"`
	UserTotalMismatches int `json:"user_total_mismatches"`
	AggregateMismatches int `json:"aggregate_mismatches"`
}

// Report is the outcome of one reconcile run. Drift is data, not an error:
// the auditor reports it and never corrects it.
type Report struct {
	GeneratedAt         time.Time           `json:"generated_at"`
	Summary             Summary             `json:"summary"`
	UserTotalMismatches []TotalMismatch     `json:"user_total_mismatches"`
	AggregateMismatches []AggregateMismatch `json:"aggregate_mismatches"`
}

// Service is the read-only drift detector.
type Service interface {
	Reconcile(ctx context.Context, userID *int64) (*Report, error)
}
