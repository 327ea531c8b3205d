// Package tasks applies task mutations and announces each accepted one on
// the event hub once the write has succeeded.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"missioncontrol/internal/domain"
	"missioncontrol/internal/events"
)

var (
	ErrInvalidStatus     = errors.New("invalid task status")
	ErrInvalidTransition = errors.New("invalid task transition")
	ErrNotFound          = errors.New("task not found")
	ErrValidation        = errors.New("invalid task")
)

type Store interface {
	CreateTask(ctx context.Context, t domain.Task) (domain.Task, error)
	GetTask(ctx context.Context, id string) (domain.Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status domain.TaskStatus, at time.Time) error
	AddComment(ctx context.Context, c domain.Comment) (domain.Comment, error)
	AddDeliverable(ctx context.Context, d domain.Deliverable) (domain.Deliverable, error)
	AddTaskActivity(ctx context.Context, a domain.TaskActivity) (domain.TaskActivity, error)
	CreateAnnouncement(ctx context.Context, a domain.Announcement) (domain.Announcement, error)
}

// Router hands a task to its assignee's runtime.
type Router interface {
	Spawn(ctx context.Context, agentID, label string) (string, error)
}

type Service struct {
	store  Store
	pub    events.Publisher
	router Router
	strict bool
	now    func() time.Time
}

type Option func(*Service)

// WithStrictTransitions rejects moves back into Inbox and moves out of Done.
// Done tasks can still be reopened explicitly.
func WithStrictTransitions(strict bool) Option { return func(s *Service) { s.strict = strict } }

func WithRouter(r Router) Option { return func(s *Service) { s.router = r } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(st Store, pub events.Publisher, opts ...Option) *Service {
	s := &Service{store: st, pub: pub, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) get(ctx context.Context, id string) (domain.Task, error) {
	t, err := s.store.GetTask(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t, err
}

func (s *Service) Get(ctx context.Context, id string) (domain.Task, error) { return s.get(ctx, id) }

// checkTransition enforces the strict rules. Permissive mode accepts any
// valid status, including no-op transitions.
func (s *Service) checkTransition(from, to domain.TaskStatus) error {
	if !s.strict || from == to {
		return nil
	}
	if to == domain.StatusInbox {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if from == domain.StatusDone {
		return fmt.Errorf("%w: %s is terminal, reopen first", ErrInvalidTransition, from)
	}
	return nil
}

// SetStatus validates and applies a status change, refreshing updated_at,
// then publishes status_changed.
func (s *Service) SetStatus(ctx context.Context, id, status string) (domain.Task, error) {
	to, err := domain.ParseTaskStatus(status)
	if err != nil {
		return domain.Task{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	t, err := s.get(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if err := s.checkTransition(t.Status, to); err != nil {
		return domain.Task{}, err
	}
	return s.apply(ctx, t, to)
}

// Reopen moves a task back to Assigned, or to Inbox when it has no assignee.
// It is the only way out of Done in strict mode.
func (s *Service) Reopen(ctx context.Context, id string) (domain.Task, error) {
	t, err := s.get(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	to := domain.StatusInbox
	if t.AssigneeID != nil {
		to = domain.StatusAssigned
	}
	return s.apply(ctx, t, to)
}

func (s *Service) apply(ctx context.Context, t domain.Task, to domain.TaskStatus) (domain.Task, error) {
	now := s.now().UTC()
	if err := s.store.UpdateTaskStatus(ctx, t.ID, to, now); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Task{}, fmt.Errorf("%w: %s", ErrNotFound, t.ID)
		}
		return domain.Task{}, fmt.Errorf("update task status: %w", err)
	}
	from := t.Status
	t.Status, t.UpdatedAt = to, now
	log.Debug().Str("task_id", t.ID).Str("from", string(from)).Str("to", string(to)).Msg("task status changed")
	events.Emit(s.pub, events.StatusChanged(t.ID, string(to)))
	return t, nil
}

func (s *Service) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	t.Title = strings.TrimSpace(t.Title)
	if t.Title == "" {
		return domain.Task{}, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if t.Status == "" {
		t.Status = domain.StatusInbox
	}
	if _, err := domain.ParseTaskStatus(string(t.Status)); err != nil {
		return domain.Task{}, fmt.Errorf("%w: %q", ErrInvalidStatus, t.Status)
	}
	p, err := domain.ParsePriority(string(t.Priority))
	if err != nil {
		return domain.Task{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	t.Priority = p
	now := s.now().UTC()
	t.ID = ""
	t.CreatedAt, t.UpdatedAt = now, now

	t, err = s.store.CreateTask(ctx, t)
	if err != nil {
		return domain.Task{}, fmt.Errorf("create task: %w", err)
	}
	events.Emit(s.pub, events.TaskCreated(t.ID))
	return t, nil
}

func (s *Service) AddComment(ctx context.Context, taskID, agentID, content string) (domain.Comment, error) {
	if strings.TrimSpace(content) == "" {
		return domain.Comment{}, fmt.Errorf("%w: content is required", ErrValidation)
	}
	if _, err := s.get(ctx, taskID); err != nil {
		return domain.Comment{}, err
	}
	c, err := s.store.AddComment(ctx, domain.Comment{TaskID: taskID, AgentID: agentID, Content: content, CreatedAt: s.now()})
	if err != nil {
		return domain.Comment{}, fmt.Errorf("add comment: %w", err)
	}
	events.Emit(s.pub, events.CommentAdded(taskID))
	return c, nil
}

func (s *Service) AddDeliverable(ctx context.Context, taskID, title string, description *string) (domain.Deliverable, error) {
	if strings.TrimSpace(title) == "" {
		return domain.Deliverable{}, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if _, err := s.get(ctx, taskID); err != nil {
		return domain.Deliverable{}, err
	}
	d, err := s.store.AddDeliverable(ctx, domain.Deliverable{TaskID: taskID, Title: title, Description: description, CreatedAt: s.now()})
	if err != nil {
		return domain.Deliverable{}, fmt.Errorf("add deliverable: %w", err)
	}
	events.Emit(s.pub, events.DeliverableAdded(taskID))
	return d, nil
}

func (s *Service) AddActivity(ctx context.Context, taskID string, agentID *string, message string) (domain.TaskActivity, error) {
	if strings.TrimSpace(message) == "" {
		return domain.TaskActivity{}, fmt.Errorf("%w: message is required", ErrValidation)
	}
	if _, err := s.get(ctx, taskID); err != nil {
		return domain.TaskActivity{}, err
	}
	a, err := s.store.AddTaskActivity(ctx, domain.TaskActivity{TaskID: taskID, AgentID: agentID, Message: message, Timestamp: s.now()})
	if err != nil {
		return domain.TaskActivity{}, fmt.Errorf("add activity: %w", err)
	}
	events.Emit(s.pub, events.TaskActivityAdded(taskID))
	return a, nil
}

func (s *Service) CreateAnnouncement(ctx context.Context, a domain.Announcement) (domain.Announcement, error) {
	if strings.TrimSpace(a.Message) == "" {
		return domain.Announcement{}, fmt.Errorf("%w: message is required", ErrValidation)
	}
	p, err := domain.ParsePriority(string(a.Priority))
	if err != nil {
		return domain.Announcement{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	a.ID, a.Priority, a.CreatedAt = "", p, s.now()
	a, err = s.store.CreateAnnouncement(ctx, a)
	if err != nil {
		return domain.Announcement{}, fmt.Errorf("create announcement: %w", err)
	}
	events.Emit(s.pub, events.AnnouncementCreated())
	return a, nil
}

// Route spawns an agent session for the task's assignee and returns the
// runtime's output.
func (s *Service) Route(ctx context.Context, id string) (string, error) {
	if s.router == nil {
		return "", errors.New("task routing is not configured")
	}
	t, err := s.get(ctx, id)
	if err != nil {
		return "", err
	}
	agent := ""
	if t.AssigneeID != nil {
		agent = *t.AssigneeID
	}
	out, err := s.router.Spawn(ctx, agent, "task:"+t.ID)
	if err != nil {
		return "", err
	}
	log.Info().Str("task_id", t.ID).Str("agent_id", agent).Msg("task routed")
	events.Emit(s.pub, events.TaskRouted(t.ID))
	return out, nil
}
