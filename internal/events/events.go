package events

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// Event type discriminators carried in the "type" field.
const (
	TypeTaskCreated          = "task_created"
	TypeStatusChanged        = "status_changed"
	TypeCommentAdded         = "comment_added"
	TypeAnnouncementCreated  = "announcement_created"
	TypeTaskActivityAdded    = "task_activity_added"
	TypeDeliverableAdded     = "deliverable_added"
	TypeTaskRouted           = "task_routed"
	TypeGatewayStatusChanged = "gateway_status_changed"
	TypeGatewayRestartNeeded = "gateway_restart_required"
	TypeTaskStuck            = "task_stuck"
	TypeRecurringTriggered   = "recurring_triggered"
)

// Event is the JSON object pushed to real-time subscribers.
type Event struct {
	Type        string `json:"type"`
	TaskID      string `json:"task_id,omitempty"`
	Status      string `json:"status,omitempty"`
	Priority    string `json:"priority,omitempty"`
	RecurringID string `json:"recurring_id,omitempty"`
	Failures    uint32 `json:"consecutive_failures,omitempty"`
}

func TaskCreated(taskID string) Event { return Event{Type: TypeTaskCreated, TaskID: taskID} }

func StatusChanged(taskID, status string) Event {
	return Event{Type: TypeStatusChanged, TaskID: taskID, Status: status}
}

func CommentAdded(taskID string) Event      { return Event{Type: TypeCommentAdded, TaskID: taskID} }
func AnnouncementCreated() Event            { return Event{Type: TypeAnnouncementCreated} }
func TaskActivityAdded(taskID string) Event { return Event{Type: TypeTaskActivityAdded, TaskID: taskID} }
func DeliverableAdded(taskID string) Event  { return Event{Type: TypeDeliverableAdded, TaskID: taskID} }
func TaskRouted(taskID string) Event        { return Event{Type: TypeTaskRouted, TaskID: taskID} }

func GatewayStatusChanged(status string) Event {
	return Event{Type: TypeGatewayStatusChanged, Status: status}
}

// GatewayRestartRequired reports how many probes in a row have failed.
func GatewayRestartRequired(failures uint32) Event {
	return Event{Type: TypeGatewayRestartNeeded, Status: "crashed", Failures: failures}
}

func TaskStuck(taskID, priority string) Event {
	return Event{Type: TypeTaskStuck, TaskID: taskID, Priority: priority}
}

func RecurringTriggered(recurringID, taskID string) Event {
	return Event{Type: TypeRecurringTriggered, RecurringID: recurringID, TaskID: taskID}
}

// Emit encodes e and hands it to p. A nil publisher is allowed.
func Emit(p Publisher, e Event) {
	if p == nil {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		log.Warn().Err(err).Str("type", e.Type).Msg("failed to encode event")
		return
	}
	p.Publish(string(data))
}
