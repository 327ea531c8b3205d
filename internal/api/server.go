package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/pprof"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"missioncontrol/internal/dispatch"
	"missioncontrol/internal/domain"
	"missioncontrol/internal/events"
	"missioncontrol/internal/gateway"
	"missioncontrol/internal/recurring"
	"missioncontrol/internal/scheduler"
	"missioncontrol/internal/status"
	"missioncontrol/internal/stuck"
	"missioncontrol/internal/tasks"
)

// Deps are the components the HTTP surface reads from and triggers.
// Loop may be nil when the background loop is not running.
type Deps struct {
	Status    *status.Store
	Hub       *events.Hub
	Gateway   *gateway.Monitor
	Stuck     *stuck.Checker
	Recurring *recurring.Scheduler
	Tasks     *tasks.Service
	Loop      *scheduler.Loop
}

type Server struct {
	r *chi.Mux
	Deps
}

func NewServer(d Deps) http.Handler {
	return NewServerWithDebug(d, false)
}

func NewServerWithDebug(d Deps, enableDebug bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{r: r, Deps: d}

	r.Get("/", s.root)
	r.Get("/health", s.health)
	r.Handle("/metrics", newMetricsHandler(d))
	r.Get("/ws", s.ws)

	r.Route("/api", func(r chi.Router) {
		r.Route("/monitoring", func(r chi.Router) {
			r.Get("/gateway/status", s.gatewayStatus)
			r.Post("/gateway/restart", s.restartGateway)
			r.Post("/gateway/health-check", s.gatewayHealthCheck)
			r.Get("/stuck-tasks/status", s.stuckStatus)
			r.Get("/stuck-tasks/check", s.stuckCheck)
			r.Post("/stuck-tasks/check", s.stuckCheck)
			r.Get("/scheduler", s.schedulerStatus)
		})

		r.Get("/recurring", s.listRecurring)
		r.Post("/recurring", s.createRecurring)
		r.Delete("/recurring/{id}", s.deleteRecurring)
		r.Patch("/recurring/{id}/toggle", s.toggleRecurring)
		r.Post("/recurring/{id}/trigger", s.triggerRecurring)
		r.Get("/recurring/{id}/runs", s.recurringRuns)

		r.Post("/tasks", s.createTask)
		r.Patch("/tasks/{id}", s.updateTask)
		r.Post("/tasks/{id}/reopen", s.reopenTask)
		r.Post("/tasks/{id}/comments", s.addComment)
		r.Post("/tasks/{id}/deliverables", s.addDeliverable)
		r.Post("/tasks/{id}/activity", s.addActivity)
		r.Post("/tasks/{id}/route", s.routeTask)
		r.Post("/announcements", s.createAnnouncement)
	})

	// Debug routes (pprof)
	if enableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) root(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "text/plain")
	w.Write([]byte("Mission Control API"))
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) gatewayStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Status.Gateway())
}

func (s *Server) restartGateway(w http.ResponseWriter, r *http.Request) {
	snap := s.Gateway.Restart()
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"message":       "Gateway restart initiated",
		"restart_count": snap.RestartCount,
		"status":        snap,
	})
}

// gatewayHealthCheck probes on demand. Uptime only advances on loop ticks.
func (s *Server) gatewayHealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Gateway.Check(r.Context(), 0))
}

func (s *Server) stuckStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Status.Stuck())
}

type stuckCheckResp struct {
	Success    bool   `json:"success"`
	StuckCount *int   `json:"stuck_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (s *Server) stuckCheck(w http.ResponseWriter, r *http.Request) {
	n, err := s.Stuck.Check(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("manual stuck task check failed")
		writeJSON(w, http.StatusInternalServerError, stuckCheckResp{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stuckCheckResp{Success: true, StuckCount: &n})
}

func (s *Server) schedulerStatus(w http.ResponseWriter, r *http.Request) {
	if s.Loop == nil {
		writeJSON(w, http.StatusOK, scheduler.Status{Phase: scheduler.PhaseIdle})
		return
	}
	writeJSON(w, http.StatusOK, s.Loop.Status())
}

type createRecurringReq struct {
	Title         string  `json:"title"`
	Description   *string `json:"description"`
	AssigneeID    *string `json:"assignee_id"`
	ScheduleType  string  `json:"schedule_type"`
	ScheduleValue string  `json:"schedule_value"`
	ScheduleTime  string  `json:"schedule_time"`
}

func (s *Server) listRecurring(w http.ResponseWriter, r *http.Request) {
	list, err := s.Recurring.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []domain.RecurringTask{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) createRecurring(w http.ResponseWriter, r *http.Request) {
	var req createRecurringReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rt, err := s.Recurring.Create(r.Context(), domain.RecurringTask{
		Title:         req.Title,
		Description:   req.Description,
		AssigneeID:    req.AssigneeID,
		ScheduleType:  domain.ScheduleType(req.ScheduleType),
		ScheduleValue: req.ScheduleValue,
		ScheduleTime:  req.ScheduleTime,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rt)
}

func (s *Server) deleteRecurring(w http.ResponseWriter, r *http.Request) {
	if err := s.Recurring.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) toggleRecurring(w http.ResponseWriter, r *http.Request) {
	rt, err := s.Recurring.Toggle(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

type triggerResp struct {
	Run           domain.RecurringTaskRun `json:"run"`
	RecurringTask domain.RecurringTask    `json:"recurring_task"`
}

func (s *Server) triggerRecurring(w http.ResponseWriter, r *http.Request) {
	run, rt, err := s.Recurring.Trigger(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, triggerResp{Run: run, RecurringTask: rt})
}

func (s *Server) recurringRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.Recurring.Runs(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []domain.RecurringTaskRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

type createTaskReq struct {
	Title       string  `json:"title"`
	Description *string `json:"description"`
	Priority    string  `json:"priority"`
	AssigneeID  *string `json:"assignee_id"`
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	t, err := s.Tasks.CreateTask(r.Context(), domain.Task{
		Title:       req.Title,
		Description: req.Description,
		Priority:    domain.Priority(req.Priority),
		AssigneeID:  req.AssigneeID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Status == "" {
		http.Error(w, "status is required", http.StatusBadRequest)
		return
	}
	t, err := s.Tasks.SetStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) reopenTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.Tasks.Reopen(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) addComment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID string `json:"agent_id"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c, err := s.Tasks.AddComment(r.Context(), chi.URLParam(r, "id"), req.AgentID, req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) addDeliverable(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title       string  `json:"title"`
		Description *string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	d, err := s.Tasks.AddDeliverable(r.Context(), chi.URLParam(r, "id"), req.Title, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) addActivity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID *string `json:"agent_id"`
		Message string  `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a, err := s.Tasks.AddActivity(r.Context(), chi.URLParam(r, "id"), req.AgentID, req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) routeTask(w http.ResponseWriter, r *http.Request) {
	out, err := s.Tasks.Route(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Task routed to agent session",
		"output":  out,
	})
}

func (s *Server) createAnnouncement(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title     *string `json:"title"`
		Message   string  `json:"message"`
		Priority  string  `json:"priority"`
		CreatedBy string  `json:"created_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a, err := s.Tasks.CreateAnnouncement(r.Context(), domain.Announcement{
		Title: req.Title, Message: req.Message, Priority: domain.Priority(req.Priority), CreatedBy: req.CreatedBy,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// writeError maps component errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, recurring.ErrValidation),
		errors.Is(err, tasks.ErrValidation),
		errors.Is(err, tasks.ErrInvalidStatus),
		errors.Is(err, dispatch.ErrNoAssignee):
		code = http.StatusBadRequest
	case errors.Is(err, tasks.ErrInvalidTransition):
		code = http.StatusConflict
	case errors.Is(err, recurring.ErrNotFound),
		errors.Is(err, tasks.ErrNotFound),
		errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
	default:
		log.Error().Err(err).Msg("request failed")
	}
	http.Error(w, err.Error(), code)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
