package main

import (
	"time"

	"missioncontrol/internal/api"
	"missioncontrol/internal/config"
	"missioncontrol/internal/dispatch"
	"missioncontrol/internal/events"
	"missioncontrol/internal/gateway"
	"missioncontrol/internal/recurring"
	"missioncontrol/internal/scheduler"
	"missioncontrol/internal/status"
	"missioncontrol/internal/store"
	"missioncontrol/internal/stuck"
	"missioncontrol/internal/tasks"
)

// newMonitor picks the HTTP probe when a gateway URL is configured and the
// TCP dial otherwise.
func newMonitor(c *config.Config, st *status.Store, pub events.Publisher) *gateway.Monitor {
	var prober gateway.Prober = gateway.NewTCPProber(c.Gateway.Host, c.Gateway.Port, c.ProbeTimeout())
	if u := c.GatewayHealthURL(); u != "" {
		prober = gateway.HTTPProber{URL: u, Timeout: c.ProbeTimeout()}
	}
	return gateway.NewMonitor(prober, st, pub)
}

// components builds every long-lived part of the server around one store.
func components(c *config.Config, db *store.SQLiteStore) (api.Deps, error) {
	hub := events.NewHub(c.Events.BufferSize)
	st := status.New(c.GatewayConfig(), c.MonitoringConfig(), time.Now())

	monitor := newMonitor(c, st, hub)

	mon := c.MonitoringConfig()
	checker := stuck.NewChecker(
		stuck.NewDetector(db, mon),
		st,
		stuck.NewNotifier(hub, time.Duration(mon.NotificationCooldownMinutes)*time.Minute),
	).WithTimeout(c.CheckInterval())

	spawner, err := dispatch.New(c.Dispatch.Command, c.Dispatch.MaxConcurrent, c.DispatchTimeout())
	if err != nil {
		return api.Deps{}, err
	}
	taskSvc := tasks.NewService(db, hub,
		tasks.WithStrictTransitions(c.Tasks.StrictTransitions),
		tasks.WithRouter(spawner),
	)
	sched := recurring.NewScheduler(db, taskSvc, hub)

	return api.Deps{
		Status:    st,
		Hub:       hub,
		Gateway:   monitor,
		Stuck:     checker,
		Recurring: sched,
		Tasks:     taskSvc,
		Loop:      scheduler.NewLoop(monitor, checker, sched, c.CheckInterval(), c.ProbeTimeout()),
	}, nil
}
