package stuck

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"missioncontrol/internal/domain"
	"missioncontrol/internal/status"
)

// Checker runs a detection pass and writes the outcome into the status store.
// Concurrent callers share one in-flight pass.
type Checker struct {
	detector *Detector
	status   *status.Store
	notifier *Notifier
	now      func() time.Time
	timeout  time.Duration
	group    singleflight.Group
}

const defaultPassTimeout = time.Minute

// NewChecker builds a Checker. notifier may be nil.
func NewChecker(d *Detector, st *status.Store, n *Notifier) *Checker {
	return &Checker{detector: d, status: st, notifier: n, now: d.now, timeout: defaultPassTimeout}
}

// WithTimeout bounds each detection pass.
func (c *Checker) WithTimeout(d time.Duration) *Checker {
	if d > 0 {
		c.timeout = d
	}
	return c
}

// Check counts stuck tasks and records currently_tracked_tasks and last_run.
// On detector failure the stored status is left untouched and the error is
// returned. The shared pass runs detached from any single caller and is
// bounded by the checker's own timeout; a caller whose ctx ends stops
// waiting without failing the others.
func (c *Checker) Check(ctx context.Context) (int, error) {
	ch := c.group.DoChan("stuck", func() (any, error) {
		passCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.run(passCtx)
	})
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(int), nil
	}
}

func (c *Checker) run(ctx context.Context) (int, error) {
	count, err := c.detector.CountStuck(ctx)
	if err != nil {
		return 0, err
	}
	now := c.now().UTC()
	c.status.UpdateStuck(func(s *domain.StuckTaskStatus) {
		s.CurrentlyTrackedTasks = uint32(count)
		s.LastRun = now
	})

	if c.notifier == nil {
		return count, nil
	}
	var tasks []domain.StuckTask
	if count > 0 {
		if tasks, err = c.detector.ListStuck(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to list stuck tasks for notification")
			return count, nil
		}
	}
	if sent := c.notifier.Notify(tasks, now); sent > 0 {
		c.status.UpdateStuck(func(s *domain.StuckTaskStatus) {
			s.TotalNotificationsSent += uint32(sent)
		})
	}
	return count, nil
}
