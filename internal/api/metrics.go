package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"missioncontrol/internal/domain"
)

// newMetricsHandler exposes the status store, hub and loop counters in the
// Prometheus text format. Values are read at scrape time.
func newMetricsHandler(d Deps) http.Handler {
	reg := prometheus.NewRegistry()

	gauge := func(name, help string, fn func() float64) {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Namespace: "missioncontrol", Name: name, Help: help}, fn))
	}
	counter := func(name, help string, fn func() float64) {
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{Namespace: "missioncontrol", Name: name, Help: help}, fn))
	}

	gauge("up", "Always 1 while the server is running.", func() float64 { return 1 })

	if d.Status != nil {
		gauge("gateway_healthy", "1 when the last gateway probe succeeded.", func() float64 {
			if d.Status.Gateway().HealthStatus == domain.HealthHealthy {
				return 1
			}
			return 0
		})
		gauge("gateway_uptime_seconds", "Accumulated gateway uptime since the last crash.", func() float64 {
			return float64(d.Status.Gateway().UptimeSeconds)
		})
		gauge("gateway_consecutive_failures", "Failed probes since the last healthy one.", func() float64 {
			return float64(d.Status.Gateway().ConsecutiveFailures)
		})
		counter("gateway_restarts_total", "Restart requests received.", func() float64 {
			return float64(d.Status.Gateway().RestartCount)
		})
		counter("gateway_crashes_total", "Transitions into the crashed state.", func() float64 {
			return float64(d.Status.Gateway().CrashCount)
		})
		gauge("stuck_tasks", "Tasks stuck as of the last check.", func() float64 {
			return float64(d.Status.Stuck().CurrentlyTrackedTasks)
		})
		counter("stuck_notifications_total", "Stuck task notifications dispatched.", func() float64 {
			return float64(d.Status.Stuck().TotalNotificationsSent)
		})
	}
	if d.Hub != nil {
		gauge("event_subscribers", "Live event stream subscribers.", func() float64 { return float64(d.Hub.Subscribers()) })
		counter("events_published_total", "Events published to the hub.", func() float64 { return float64(d.Hub.Published()) })
	}
	if d.Loop != nil {
		counter("scheduler_ticks_total", "Completed scheduler loop ticks.", func() float64 { return float64(d.Loop.Ticks()) })
	}

	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
