// Package status holds the process-wide gateway and stuck-task status
// records. Both records share one RWMutex: readers get value copies and
// never block each other, writers hold the lock only while their mutator runs.
package status

import (
	"sync"
	"time"

	"missioncontrol/internal/domain"
)

type Store struct {
	mu      sync.RWMutex
	gateway domain.GatewayStatus
	stuck   domain.StuckTaskStatus
}

func New(gw domain.GatewayConfig, mon domain.MonitoringConfig, now time.Time) *Store {
	return &Store{
		gateway: domain.GatewayStatus{
			HealthStatus:  domain.HealthUnknown,
			LastCheckTime: now,
			Config:        gw,
		},
		stuck: domain.StuckTaskStatus{
			LastRun: now,
			Config:  mon,
		},
	}
}

// Gateway returns a snapshot of the gateway status.
func (s *Store) Gateway() domain.GatewayStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneGateway(s.gateway)
}

// UpdateGateway runs fn with exclusive access to the gateway record and
// returns the resulting snapshot. fn must not block.
func (s *Store) UpdateGateway(fn func(*domain.GatewayStatus)) domain.GatewayStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.gateway)
	return cloneGateway(s.gateway)
}

func (s *Store) Stuck() domain.StuckTaskStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stuck
}

func (s *Store) UpdateStuck(fn func(*domain.StuckTaskStatus)) domain.StuckTaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.stuck)
	return s.stuck
}

// cloneGateway copies the pointer fields so callers cannot reach the
// store's timestamps through a snapshot.
func cloneGateway(g domain.GatewayStatus) domain.GatewayStatus {
	if g.LastHealthy != nil {
		t := *g.LastHealthy
		g.LastHealthy = &t
	}
	if g.LastCrash != nil {
		t := *g.LastCrash
		g.LastCrash = &t
	}
	return g
}
