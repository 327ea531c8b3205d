package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missioncontrol/internal/dispatch"
	"missioncontrol/internal/domain"
	"missioncontrol/internal/events"
	"missioncontrol/internal/gateway"
	"missioncontrol/internal/recurring"
	"missioncontrol/internal/status"
	"missioncontrol/internal/store"
	"missioncontrol/internal/stuck"
	"missioncontrol/internal/tasks"
)

type fixture struct {
	srv     *httptest.Server
	db      *store.SQLiteStore
	deps    Deps
	healthy atomic.Bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)

	f := &fixture{db: db}
	f.healthy.Store(true)

	mon := domain.MonitoringConfig{NormalPriorityLimitMinutes: 120, UrgentPriorityLimitMinutes: 30, NotificationCooldownMinutes: 60}
	hub := events.NewHub(16)
	st := status.New(domain.GatewayConfig{CheckIntervalSeconds: 60, HealthCheckTimeout: 5, MaxRestartAttempts: 3}, mon, time.Now())

	probe := gateway.ProberFunc(func(context.Context) domain.HealthStatus {
		if f.healthy.Load() {
			return domain.HealthHealthy
		}
		return domain.HealthCrashed
	})
	spawner, err := dispatch.New("echo spawned", 2, 5*time.Second)
	require.NoError(t, err)
	taskSvc := tasks.NewService(db, hub, tasks.WithStrictTransitions(true), tasks.WithRouter(spawner))

	f.deps = Deps{
		Status:    st,
		Hub:       hub,
		Gateway:   gateway.NewMonitor(probe, st, hub),
		Stuck:     stuck.NewChecker(stuck.NewDetector(db, mon), st, stuck.NewNotifier(hub, time.Hour)),
		Recurring: recurring.NewScheduler(db, taskSvc, hub),
		Tasks:     taskSvc,
	}
	f.srv = httptest.NewServer(NewServer(f.deps))
	t.Cleanup(func() {
		hub.Close()
		f.srv.Close()
		db.Close()
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, r)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func decode[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(b, &v), string(b))
	return v
}

func TestHealthAndRoot(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", string(body))

	code, body = f.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "Mission Control")
}

func TestGatewayEndpoints(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodGet, "/api/monitoring/gateway/status", nil)
	require.Equal(t, http.StatusOK, code)
	gs := decode[domain.GatewayStatus](t, body)
	assert.Equal(t, domain.HealthUnknown, gs.HealthStatus)
	assert.Equal(t, uint64(60), gs.Config.CheckIntervalSeconds)

	code, body = f.do(t, http.MethodPost, "/api/monitoring/gateway/health-check", nil)
	require.Equal(t, http.StatusOK, code)
	gs = decode[domain.GatewayStatus](t, body)
	assert.Equal(t, domain.HealthHealthy, gs.HealthStatus)
	assert.Zero(t, gs.UptimeSeconds, "manual checks do not accrue uptime")
	assert.NotNil(t, gs.LastHealthy)

	f.healthy.Store(false)
	_, body = f.do(t, http.MethodPost, "/api/monitoring/gateway/health-check", nil)
	gs = decode[domain.GatewayStatus](t, body)
	assert.Equal(t, domain.HealthCrashed, gs.HealthStatus)
	assert.Equal(t, uint32(1), gs.CrashCount)
	assert.Equal(t, uint32(1), gs.ConsecutiveFailures)

	for i := 1; i <= 2; i++ {
		code, body = f.do(t, http.MethodPost, "/api/monitoring/gateway/restart", nil)
		require.Equal(t, http.StatusOK, code)
		resp := decode[struct {
			Success      bool   `json:"success"`
			RestartCount uint32 `json:"restart_count"`
		}](t, body)
		assert.True(t, resp.Success)
		assert.Equal(t, uint32(i), resp.RestartCount)
	}

	_, body = f.do(t, http.MethodGet, "/api/monitoring/gateway/status", nil)
	gs = decode[domain.GatewayStatus](t, body)
	assert.Equal(t, uint32(2), gs.RestartCount)
	assert.Equal(t, domain.HealthUnknown, gs.HealthStatus)
}

func TestStuckCheckEndpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-3 * time.Hour)
	_, err := f.db.CreateTask(ctx, domain.Task{Title: "forgotten", CreatedAt: old, UpdatedAt: old})
	require.NoError(t, err)
	fresh := time.Now().UTC()
	_, err = f.db.CreateTask(ctx, domain.Task{Title: "fresh", CreatedAt: fresh, UpdatedAt: fresh})
	require.NoError(t, err)

	for _, method := range []string{http.MethodPost, http.MethodGet} {
		code, body := f.do(t, method, "/api/monitoring/stuck-tasks/check", nil)
		require.Equal(t, http.StatusOK, code)
		resp := decode[stuckCheckResp](t, body)
		assert.True(t, resp.Success)
		require.NotNil(t, resp.StuckCount)
		assert.Equal(t, 1, *resp.StuckCount)
	}

	code, body := f.do(t, http.MethodGet, "/api/monitoring/stuck-tasks/status", nil)
	require.Equal(t, http.StatusOK, code)
	ss := decode[domain.StuckTaskStatus](t, body)
	assert.Equal(t, uint32(1), ss.CurrentlyTrackedTasks)
	assert.Equal(t, uint32(1), ss.TotalNotificationsSent, "second check is inside the cooldown")
	assert.Equal(t, uint64(120), ss.Config.NormalPriorityLimitMinutes)
}

func TestSchedulerStatusWithoutLoop(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, http.MethodGet, "/api/monitoring/scheduler", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"phase":"idle"`)
}

func TestRecurringEndpoints(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodGet, "/api/recurring", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(body))

	code, _ = f.do(t, http.MethodPost, "/api/recurring", map[string]string{"title": "x", "schedule_type": "hourly", "schedule_time": "09:00"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = f.do(t, http.MethodPost, "/api/recurring", map[string]string{
		"title": "sync inbox", "schedule_type": "interval", "schedule_value": "15", "schedule_time": "09:00",
	})
	require.Equal(t, http.StatusCreated, code, string(body))
	rt := decode[domain.RecurringTask](t, body)
	assert.True(t, rt.IsActive)
	assert.True(t, rt.NextRun.After(time.Now().Add(14*time.Minute)))

	code, body = f.do(t, http.MethodPost, "/api/recurring/"+rt.ID+"/trigger", nil)
	require.Equal(t, http.StatusOK, code, string(body))
	tr := decode[triggerResp](t, body)
	assert.Equal(t, domain.RunSuccess, tr.Run.Status)
	require.NotNil(t, tr.Run.TaskID)
	assert.Equal(t, 1, tr.RecurringTask.RunCount)

	task, err := f.db.GetTask(context.Background(), *tr.Run.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "sync inbox", task.Title)
	assert.Equal(t, domain.StatusInbox, task.Status)

	code, body = f.do(t, http.MethodGet, "/api/recurring/"+rt.ID+"/runs", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]domain.RecurringTaskRun](t, body), 1)

	code, body = f.do(t, http.MethodPatch, "/api/recurring/"+rt.ID+"/toggle", nil)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, decode[domain.RecurringTask](t, body).IsActive)

	code, _ = f.do(t, http.MethodDelete, "/api/recurring/"+rt.ID, nil)
	assert.Equal(t, http.StatusNoContent, code)

	code, _ = f.do(t, http.MethodGet, "/api/recurring/"+rt.ID+"/runs", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = f.do(t, http.MethodPost, "/api/recurring/"+rt.ID+"/trigger", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestTaskEndpoints(t *testing.T) {
	f := newFixture(t)

	code, _ := f.do(t, http.MethodPost, "/api/tasks", map[string]string{"title": "  "})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := f.do(t, http.MethodPost, "/api/tasks", map[string]string{"title": "draft plan", "priority": "urgent"})
	require.Equal(t, http.StatusCreated, code, string(body))
	task := decode[domain.Task](t, body)
	assert.Equal(t, domain.PriorityUrgent, task.Priority)
	assert.Equal(t, domain.StatusInbox, task.Status)

	code, body = f.do(t, http.MethodPatch, "/api/tasks/"+task.ID, map[string]string{"status": "in-progress"})
	require.Equal(t, http.StatusOK, code, string(body))
	assert.Equal(t, domain.StatusInProgress, decode[domain.Task](t, body).Status)

	code, _ = f.do(t, http.MethodPatch, "/api/tasks/"+task.ID, map[string]string{"status": "bogus"})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = f.do(t, http.MethodPatch, "/api/tasks/"+task.ID, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = f.do(t, http.MethodPatch, "/api/tasks/tsk_missing", map[string]string{"status": "DONE"})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(t, http.MethodPatch, "/api/tasks/"+task.ID, map[string]string{"status": "DONE"})
	require.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, http.MethodPatch, "/api/tasks/"+task.ID, map[string]string{"status": "REVIEW"})
	assert.Equal(t, http.StatusConflict, code, "done tasks only leave through reopen")

	code, body = f.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/reopen", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, domain.StatusInbox, decode[domain.Task](t, body).Status)

	code, _ = f.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/comments", map[string]string{"agent_id": "a1", "content": "on it"})
	assert.Equal(t, http.StatusCreated, code)
	code, _ = f.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/deliverables", map[string]string{"title": "plan.md"})
	assert.Equal(t, http.StatusCreated, code)
	code, _ = f.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/activity", map[string]string{"message": "started"})
	assert.Equal(t, http.StatusCreated, code)
	code, _ = f.do(t, http.MethodPost, "/api/tasks/nope/comments", map[string]string{"agent_id": "a1", "content": "x"})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(t, http.MethodPost, "/api/announcements", map[string]string{"message": "freeze at 5"})
	assert.Equal(t, http.StatusCreated, code)
	code, _ = f.do(t, http.MethodPost, "/api/announcements", map[string]string{"message": ""})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRouteTask(t *testing.T) {
	f := newFixture(t)

	_, body := f.do(t, http.MethodPost, "/api/tasks", map[string]string{"title": "unassigned"})
	unassigned := decode[domain.Task](t, body)
	code, _ := f.do(t, http.MethodPost, "/api/tasks/"+unassigned.ID+"/route", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	_, body = f.do(t, http.MethodPost, "/api/tasks", map[string]string{"title": "assigned", "assignee_id": "agent-7"})
	assigned := decode[domain.Task](t, body)
	code, body = f.do(t, http.MethodPost, "/api/tasks/"+assigned.ID+"/route", nil)
	require.Equal(t, http.StatusOK, code, string(body))
	resp := decode[map[string]string](t, body)
	assert.Equal(t, "success", resp["status"])
	assert.Contains(t, resp["output"], "--agent agent-7")
	assert.Contains(t, resp["output"], "task:"+assigned.ID)
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/monitoring/gateway/health-check", nil)
	f.do(t, http.MethodPost, "/api/monitoring/gateway/restart", nil)

	code, body := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, code)
	text := string(body)
	assert.Contains(t, text, "missioncontrol_gateway_restarts_total 1")
	assert.Contains(t, text, "missioncontrol_stuck_tasks 0")
	assert.Contains(t, text, "missioncontrol_event_subscribers 0")
	assert.NotContains(t, text, "missioncontrol_scheduler_ticks_total", "no loop wired")
}

func TestWebSocketStreamsEvents(t *testing.T) {
	f := newFixture(t)

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.deps.Hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, body := f.do(t, http.MethodPost, "/api/tasks", map[string]string{"title": "watch me"})
	task := decode[domain.Task](t, body)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	mt, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	assert.JSONEq(t, `{"type":"task_created","task_id":"`+task.ID+`"}`, string(msg))

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return f.deps.Hub.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketCloseWhileStreaming(t *testing.T) {
	f := newFixture(t)

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.deps.Hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	stop := make(chan struct{})
	published := make(chan struct{})
	go func() {
		defer close(published)
		for {
			select {
			case <-stop:
				return
			default:
				events.Emit(f.deps.Hub, events.AnnouncementCreated())
			}
		}
	}()

	_, _, err = conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	require.Eventually(t, func() bool { return f.deps.Hub.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
	close(stop)
	<-published
}
