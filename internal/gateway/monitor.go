package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"missioncontrol/internal/domain"
	"missioncontrol/internal/events"
	"missioncontrol/internal/status"
)

// Monitor turns probe verdicts into gateway status updates.
type Monitor struct {
	prober Prober
	status *status.Store
	pub    events.Publisher
	now    func() time.Time

	alertMu   sync.Mutex
	lastAlert time.Time
}

func NewMonitor(p Prober, st *status.Store, pub events.Publisher) *Monitor {
	return &Monitor{prober: p, status: st, pub: pub, now: time.Now}
}

// WithClock replaces the monitor's time source.
func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	m.now = now
	return m
}

// Check probes once and records the verdict. A healthy verdict adds
// interval to the uptime counter; a crashed verdict resets it to zero.
// The probe runs outside the status lock. When ctx was cancelled by the
// caller the verdict is discarded and the current snapshot returned; an
// expired deadline still counts as a crashed probe.
func (m *Monitor) Check(ctx context.Context, interval time.Duration) domain.GatewayStatus {
	verdict := m.prober.Probe(ctx)
	if errors.Is(ctx.Err(), context.Canceled) {
		log.Debug().Str("verdict", string(verdict)).Msg("gateway check abandoned by caller")
		return m.status.Gateway()
	}
	now := m.now().UTC()

	var prev domain.HealthStatus
	snap := m.status.UpdateGateway(func(g *domain.GatewayStatus) {
		prev = g.HealthStatus
		g.HealthStatus = verdict
		g.LastCheckTime = now
		switch verdict {
		case domain.HealthHealthy:
			g.UptimeSeconds += uint64(interval / time.Second)
			g.ConsecutiveFailures = 0
			g.LastHealthy = &now
		default:
			g.UptimeSeconds = 0
			g.ConsecutiveFailures++
			if prev != domain.HealthCrashed {
				g.CrashCount++
				g.LastCrash = &now
			}
		}
	})

	if prev != verdict {
		ev := log.Info()
		if verdict == domain.HealthCrashed {
			ev = log.Warn()
		}
		ev.Str("from", string(prev)).Str("to", string(verdict)).
			Uint32("consecutive_failures", snap.ConsecutiveFailures).
			Msg("gateway health changed")
		events.Emit(m.pub, events.GatewayStatusChanged(string(verdict)))
	}
	m.alertRestart(snap, now)
	return snap
}

// alertRestart reports a gateway that has failed max_restart_attempts probes
// in a row, at most once per notification_cooldown_minutes. Recovery resets
// the cooldown.
func (m *Monitor) alertRestart(snap domain.GatewayStatus, now time.Time) {
	m.alertMu.Lock()
	defer m.alertMu.Unlock()

	if snap.HealthStatus != domain.HealthCrashed {
		m.lastAlert = time.Time{}
		return
	}
	limit := snap.Config.MaxRestartAttempts
	if limit == 0 || snap.ConsecutiveFailures < limit {
		return
	}
	cooldown := time.Duration(snap.Config.NotificationCooldownMinutes) * time.Minute
	if !m.lastAlert.IsZero() && now.Sub(m.lastAlert) < cooldown {
		return
	}
	m.lastAlert = now
	log.Error().Uint32("consecutive_failures", snap.ConsecutiveFailures).Msg("gateway unreachable, restart required")
	events.Emit(m.pub, events.GatewayRestartRequired(snap.ConsecutiveFailures))
}

// Restart records an operator restart request. The gateway process itself
// is restarted by an external collaborator.
func (m *Monitor) Restart() domain.GatewayStatus {
	snap := m.status.UpdateGateway(func(g *domain.GatewayStatus) {
		g.RestartCount++
		g.HealthStatus = domain.HealthUnknown
	})
	log.Info().Uint32("restart_count", snap.RestartCount).Msg("gateway restart requested")
	return snap
}
