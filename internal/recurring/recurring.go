// Package recurring owns recurring task definitions: validation, next-run
// computation, manual and automatic triggering, and run history.
package recurring

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
	ErrValidation = errors.New("invalid recurring task")
	ErrNotFound   = errors.New("recurring task not found")
)

type Store interface {
	CreateRecurring(ctx context.Context, rt domain.RecurringTask) (domain.RecurringTask, error)
	GetRecurring(ctx context.Context, id string) (domain.RecurringTask, error)
	ListRecurring(ctx context.Context) ([]domain.RecurringTask, error)
	DueRecurring(ctx context.Context, now time.Time) ([]domain.RecurringTask, error)
	RecordRecurringRun(ctx context.Context, run domain.RecurringTaskRun, nextRun time.Time) (domain.RecurringTaskRun, error)
	SetRecurringActive(ctx context.Context, id string, active bool, nextRun time.Time) error
	DeleteRecurring(ctx context.Context, id string) error
	ListRecurringRuns(ctx context.Context, id string, limit int) ([]domain.RecurringTaskRun, error)
}

// TaskCreator creates the work item produced by each run.
type TaskCreator interface {
	CreateTask(ctx context.Context, t domain.Task) (domain.Task, error)
}

type Scheduler struct {
	store Store
	tasks TaskCreator
	pub   events.Publisher
	loc   *time.Location
	now   func() time.Time
}

func NewScheduler(st Store, tasks TaskCreator, pub events.Publisher) *Scheduler {
	return &Scheduler{store: st, tasks: tasks, pub: pub, loc: time.Local, now: time.Now}
}

// WithLocation sets the zone daily, weekly and cron schedules are read in.
func (s *Scheduler) WithLocation(loc *time.Location) *Scheduler {
	s.loc = loc
	return s
}

func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Create validates def, computes its first next_run and stores it active.
func (s *Scheduler) Create(ctx context.Context, def domain.RecurringTask) (domain.RecurringTask, error) {
	def.Title = strings.TrimSpace(def.Title)
	def.ScheduleTime = strings.TrimSpace(def.ScheduleTime)
	def.ScheduleType = domain.ScheduleType(strings.ToLower(strings.TrimSpace(string(def.ScheduleType))))
	switch {
	case def.Title == "":
		return domain.RecurringTask{}, fmt.Errorf("%w: title is required", ErrValidation)
	case def.ScheduleType == "":
		return domain.RecurringTask{}, fmt.Errorf("%w: schedule_type is required", ErrValidation)
	case def.ScheduleTime == "":
		return domain.RecurringTask{}, fmt.Errorf("%w: schedule_time is required", ErrValidation)
	}

	now := s.now()
	next, err := NextRun(def, now, s.loc)
	if err != nil {
		return domain.RecurringTask{}, err
	}
	def.ID = ""
	def.NextRun = next
	def.LastRun = nil
	def.IsActive = true
	def.RunCount = 0
	def.CreatedAt = now

	rt, err := s.store.CreateRecurring(ctx, def)
	if err != nil {
		return domain.RecurringTask{}, fmt.Errorf("create recurring task: %w", err)
	}
	log.Info().Str("recurring_id", rt.ID).Str("schedule_type", string(rt.ScheduleType)).
		Time("next_run", rt.NextRun).Msg("recurring task created")
	return rt, nil
}

func (s *Scheduler) Get(ctx context.Context, id string) (domain.RecurringTask, error) {
	rt, err := s.store.GetRecurring(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.RecurringTask{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rt, err
}

func (s *Scheduler) List(ctx context.Context) ([]domain.RecurringTask, error) {
	return s.store.ListRecurring(ctx)
}

// Trigger fires a definition now regardless of its schedule or active flag.
func (s *Scheduler) Trigger(ctx context.Context, id string) (domain.RecurringTaskRun, domain.RecurringTask, error) {
	rt, err := s.Get(ctx, id)
	if err != nil {
		return domain.RecurringTaskRun{}, domain.RecurringTask{}, err
	}
	return s.fire(ctx, rt, s.now())
}

// DispatchDue fires every active definition whose next_run is at or before
// now and returns how many fired. A failing definition does not stop the rest.
func (s *Scheduler) DispatchDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.store.DueRecurring(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("load due recurring tasks: %w", err)
	}
	fired := 0
	for _, rt := range due {
		if ctx.Err() != nil {
			return fired, ctx.Err()
		}
		if _, _, err := s.fire(ctx, rt, now); err != nil {
			log.Error().Err(err).Str("recurring_id", rt.ID).Msg("failed to fire recurring task")
			continue
		}
		fired++
	}
	return fired, nil
}

// fire creates the task for one run, records the run and advances the
// schedule. The next_run is computed before anything is written so a
// schedule that cannot advance leaves no trace.
func (s *Scheduler) fire(ctx context.Context, rt domain.RecurringTask, now time.Time) (domain.RecurringTaskRun, domain.RecurringTask, error) {
	next, err := NextRun(rt, now, s.loc)
	if err != nil {
		return domain.RecurringTaskRun{}, domain.RecurringTask{}, err
	}

	run := domain.RecurringTaskRun{RecurringTaskID: rt.ID, RunAt: now, Status: domain.RunSuccess}
	task, err := s.tasks.CreateTask(ctx, domain.Task{
		Title:       rt.Title,
		Description: rt.Description,
		AssigneeID:  rt.AssigneeID,
		Status:      domain.StatusInbox,
	})
	if err != nil {
		run.Status = domain.RunFailed
		run.Error = err.Error()
		log.Warn().Err(err).Str("recurring_id", rt.ID).Msg("recurring run failed to create task")
	} else {
		run.TaskID = &task.ID
	}

	run, err = s.store.RecordRecurringRun(ctx, run, next)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			err = fmt.Errorf("%w: %s", ErrNotFound, rt.ID)
		}
		return domain.RecurringTaskRun{}, domain.RecurringTask{}, fmt.Errorf("record recurring run: %w", err)
	}

	rt.LastRun = &run.RunAt
	rt.NextRun = next.UTC()
	if run.Status == domain.RunSuccess {
		rt.RunCount++
		events.Emit(s.pub, events.RecurringTriggered(rt.ID, task.ID))
	}
	log.Info().Str("recurring_id", rt.ID).Str("run_id", run.ID).Str("status", run.Status).
		Time("next_run", rt.NextRun).Msg("recurring task fired")
	return run, rt, nil
}

// Toggle pauses or resumes a definition. Resuming recomputes next_run from
// now so paused periods are not replayed.
func (s *Scheduler) Toggle(ctx context.Context, id string) (domain.RecurringTask, error) {
	rt, err := s.Get(ctx, id)
	if err != nil {
		return domain.RecurringTask{}, err
	}
	rt.IsActive = !rt.IsActive
	if rt.IsActive {
		next, err := NextRun(rt, s.now(), s.loc)
		if err != nil {
			return domain.RecurringTask{}, err
		}
		rt.NextRun = next.UTC()
	}
	if err := s.store.SetRecurringActive(ctx, id, rt.IsActive, rt.NextRun); err != nil {
		return domain.RecurringTask{}, fmt.Errorf("toggle recurring task: %w", err)
	}
	return rt, nil
}

func (s *Scheduler) Delete(ctx context.Context, id string) error {
	err := s.store.DeleteRecurring(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}

// Runs returns the newest runs of a definition first.
func (s *Scheduler) Runs(ctx context.Context, id string, limit int) ([]domain.RecurringTaskRun, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListRecurringRuns(ctx, id, limit)
}
