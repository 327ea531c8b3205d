// Package scheduler drives the periodic monitoring cycle: gateway probe,
// stuck-task check and due recurring tasks, one tick at a time.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"missioncontrol/internal/domain"
)

type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseHealthCheck Phase = "running_health_check"
	PhaseStuckCheck  Phase = "running_stuck_check"
	PhaseRecurring   Phase = "running_recurring"
	PhaseSleeping    Phase = "sleeping"
)

type HealthChecker interface {
	Check(ctx context.Context, interval time.Duration) domain.GatewayStatus
}

type StuckChecker interface {
	Check(ctx context.Context) (int, error)
}

type RecurringDispatcher interface {
	DispatchDue(ctx context.Context, now time.Time) (int, error)
}

// Status is a point-in-time view of the loop for the API.
type Status struct {
	Phase           Phase     `json:"phase"`
	Ticks           uint64    `json:"ticks"`
	LastTick        time.Time `json:"last_tick"`
	IntervalSeconds float64   `json:"interval_seconds"`
}

// Loop runs every check sequentially on one goroutine, so ticks never
// overlap; ticks that come due while one is still running are dropped.
type Loop struct {
	health       HealthChecker
	stuck        StuckChecker
	recurring    RecurringDispatcher
	interval     time.Duration
	probeTimeout time.Duration
	now          func() time.Time

	mu       sync.RWMutex
	phase    Phase
	lastTick time.Time
	ticks    atomic.Uint64

	stop     chan struct{}
	stopOnce sync.Once
}

// NewLoop builds a loop. recurring may be nil. probeTimeout bounds the
// health probe; zero leaves it to the prober.
func NewLoop(health HealthChecker, stuck StuckChecker, recurring RecurringDispatcher, interval, probeTimeout time.Duration) *Loop {
	return &Loop{
		health:       health,
		stuck:        stuck,
		recurring:    recurring,
		interval:     interval,
		probeTimeout: probeTimeout,
		now:          time.Now,
		phase:        PhaseIdle,
		stop:         make(chan struct{}),
	}
}

// Run ticks once immediately and then every interval until ctx is done or
// Stop is called. Stop cancels a tick in flight the same way ctx does.
func (l *Loop) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-l.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	log.Info().Dur("interval", l.interval).Msg("scheduler loop started")
	defer func() {
		l.setPhase(PhaseIdle)
		log.Info().Uint64("ticks", l.ticks.Load()).Msg("scheduler loop stopped")
	}()

	l.tick(ctx)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Loop) tick(ctx context.Context) {
	start := l.now()
	l.mu.Lock()
	l.lastTick = start
	l.mu.Unlock()

	l.setPhase(PhaseHealthCheck)
	probeCtx, cancel := l.bounded(ctx, l.probeTimeout)
	gw := l.health.Check(probeCtx, l.interval)
	cancel()
	if ctx.Err() != nil {
		return
	}

	l.setPhase(PhaseStuckCheck)
	stuckCtx, cancel := l.bounded(ctx, l.interval)
	count, err := l.stuck.Check(stuckCtx)
	cancel()
	if err != nil {
		log.Error().Err(err).Msg("stuck task check failed")
	}
	if ctx.Err() != nil {
		return
	}

	fired := 0
	if l.recurring != nil {
		l.setPhase(PhaseRecurring)
		recCtx, cancel := l.bounded(ctx, l.interval)
		fired, err = l.recurring.DispatchDue(recCtx, l.now())
		cancel()
		if err != nil {
			log.Error().Err(err).Msg("recurring dispatch failed")
		}
	}

	n := l.ticks.Add(1)
	l.setPhase(PhaseSleeping)
	log.Debug().
		Uint64("tick", n).
		Str("gateway", string(gw.HealthStatus)).
		Int("stuck_tasks", count).
		Int("recurring_fired", fired).
		Dur("took", time.Since(start)).
		Msg("scheduler tick complete")
}

func (l *Loop) bounded(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func (l *Loop) setPhase(p Phase) {
	l.mu.Lock()
	l.phase = p
	l.mu.Unlock()
}

func (l *Loop) Phase() Phase {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.phase
}

// Ticks returns the number of completed ticks.
func (l *Loop) Ticks() uint64 { return l.ticks.Load() }

func (l *Loop) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Status{
		Phase:           l.phase,
		Ticks:           l.ticks.Load(),
		LastTick:        l.lastTick,
		IntervalSeconds: l.interval.Seconds(),
	}
}
