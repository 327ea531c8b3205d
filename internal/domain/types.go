package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

type TaskStatus string

const (
	StatusInbox      TaskStatus = "INBOX"
	StatusAssigned   TaskStatus = "ASSIGNED"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusReview     TaskStatus = "REVIEW"
	StatusDone       TaskStatus = "DONE"
)

// ParseTaskStatus accepts the canonical upper-case form as well as
// lower-case and hyphenated spellings sent by older clients.
func ParseTaskStatus(s string) (TaskStatus, error) {
	v := TaskStatus(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")))
	switch v {
	case StatusInbox, StatusAssigned, StatusInProgress, StatusReview, StatusDone:
		return v, nil
	}
	return "", fmt.Errorf("unknown task status %q", s)
}

type Priority string

const (
	PriorityNormal Priority = "NORMAL"
	PriorityUrgent Priority = "URGENT"
)

func ParsePriority(s string) (Priority, error) {
	switch Priority(strings.ToUpper(strings.TrimSpace(s))) {
	case "", PriorityNormal:
		return PriorityNormal, nil
	case PriorityUrgent:
		return PriorityUrgent, nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description *string    `json:"description,omitempty"`
	Status      TaskStatus `json:"status"`
	Priority    Priority   `json:"priority"`
	AssigneeID  *string    `json:"assignee_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// StuckTask is the projection the stuck-task notifier needs.
type StuckTask struct {
	ID        string
	Priority  Priority
	UpdatedAt time.Time
}

type Comment struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	AgentID   string    `json:"agent_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type Deliverable struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"task_id"`
	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

type TaskActivity struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	AgentID   *string   `json:"agent_id,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type Announcement struct {
	ID        string    `json:"id"`
	Title     *string   `json:"title,omitempty"`
	Message   string    `json:"message"`
	Priority  Priority  `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by"`
}

type ScheduleType string

const (
	ScheduleInterval ScheduleType = "interval"
	ScheduleDaily    ScheduleType = "daily"
	ScheduleWeekly   ScheduleType = "weekly"
	ScheduleCron     ScheduleType = "cron"
)

type RecurringTask struct {
	ID            string       `json:"id"`
	Title         string       `json:"title"`
	Description   *string      `json:"description,omitempty"`
	AssigneeID    *string      `json:"assignee_id,omitempty"`
	ScheduleType  ScheduleType `json:"schedule_type"`
	ScheduleValue string       `json:"schedule_value,omitempty"`
	ScheduleTime  string       `json:"schedule_time"`
	LastRun       *time.Time   `json:"last_run,omitempty"`
	NextRun       time.Time    `json:"next_run"`
	IsActive      bool         `json:"is_active"`
	RunCount      int          `json:"run_count"`
	CreatedAt     time.Time    `json:"created_at"`
}

const (
	RunSuccess = "success"
	RunFailed  = "failed"
)

type RecurringTaskRun struct {
	ID              string    `json:"id"`
	RecurringTaskID string    `json:"recurring_task_id"`
	RunAt           time.Time `json:"run_at"`
	TaskID          *string   `json:"task_id,omitempty"`
	Status          string    `json:"status"`
	Error           string    `json:"error,omitempty"`
}

type HealthStatus string

const (
	HealthUnknown HealthStatus = "unknown"
	HealthHealthy HealthStatus = "healthy"
	HealthCrashed HealthStatus = "crashed"
)

type GatewayConfig struct {
	CheckIntervalSeconds        uint64 `json:"check_interval_seconds"`
	HealthCheckTimeout          uint64 `json:"health_check_timeout"`
	MaxRestartAttempts          uint32 `json:"max_restart_attempts"`
	NotificationCooldownMinutes uint64 `json:"notification_cooldown_minutes"`
}

type GatewayStatus struct {
	HealthStatus        HealthStatus  `json:"health_status"`
	UptimeSeconds       uint64        `json:"uptime_seconds"`
	LastCheckTime       time.Time     `json:"last_check_time"`
	RestartCount        uint32        `json:"restart_count"`
	ConsecutiveFailures uint32        `json:"consecutive_failures"`
	CrashCount          uint32        `json:"crash_count"`
	LastHealthy         *time.Time    `json:"last_healthy,omitempty"`
	LastCrash           *time.Time    `json:"last_crash,omitempty"`
	Config              GatewayConfig `json:"config"`
}

type MonitoringConfig struct {
	NormalPriorityLimitMinutes  uint64 `json:"normal_priority_limit_minutes"`
	UrgentPriorityLimitMinutes  uint64 `json:"urgent_priority_limit_minutes"`
	NotificationCooldownMinutes uint64 `json:"notification_cooldown_minutes"`
}

// Limit returns the staleness threshold for a priority tier.
func (c MonitoringConfig) Limit(p Priority) time.Duration {
	if p == PriorityUrgent {
		return time.Duration(c.UrgentPriorityLimitMinutes) * time.Minute
	}
	return time.Duration(c.NormalPriorityLimitMinutes) * time.Minute
}

type StuckTaskStatus struct {
	TotalNotificationsSent uint32           `json:"total_notifications_sent"`
	CurrentlyTrackedTasks  uint32           `json:"currently_tracked_tasks"`
	LastRun                time.Time        `json:"last_run"`
	Config                 MonitoringConfig `json:"config"`
}
