// Package stuck finds tasks that have waited in Inbox or Assigned longer
// than their priority tier allows and records the result in the status store.
package stuck

import (
	"context"
	"time"

	"missioncontrol/internal/domain"
)

// Querier runs the staleness aggregates. Each cutoff is the oldest
// updated_at still considered fresh for that tier.
type Querier interface {
	CountStuck(ctx context.Context, normalCutoff, urgentCutoff time.Time) (int, error)
	ListStuck(ctx context.Context, normalCutoff, urgentCutoff time.Time) ([]domain.StuckTask, error)
}

type Detector struct {
	q   Querier
	cfg domain.MonitoringConfig
	now func() time.Time
}

func NewDetector(q Querier, cfg domain.MonitoringConfig) *Detector {
	return &Detector{q: q, cfg: cfg, now: time.Now}
}

func (d *Detector) WithClock(now func() time.Time) *Detector {
	d.now = now
	return d
}

func (d *Detector) cutoffs() (normal, urgent time.Time) {
	now := d.now().UTC()
	return now.Add(-d.cfg.Limit(domain.PriorityNormal)), now.Add(-d.cfg.Limit(domain.PriorityUrgent))
}

// CountStuck returns the number of stuck tasks in one aggregate query.
// Errors are returned as is; there are no retries.
func (d *Detector) CountStuck(ctx context.Context) (int, error) {
	normal, urgent := d.cutoffs()
	return d.q.CountStuck(ctx, normal, urgent)
}

func (d *Detector) ListStuck(ctx context.Context) ([]domain.StuckTask, error) {
	normal, urgent := d.cutoffs()
	return d.q.ListStuck(ctx, normal, urgent)
}
