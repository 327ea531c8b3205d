package stuck

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"missioncontrol/internal/domain"
	"missioncontrol/internal/events"
)

// Notifier publishes task_stuck events, at most once per task per cooldown.
type Notifier struct {
	pub      events.Publisher
	cooldown time.Duration

	mu   sync.Mutex
	sent map[string]time.Time
}

func NewNotifier(pub events.Publisher, cooldown time.Duration) *Notifier {
	return &Notifier{pub: pub, cooldown: cooldown, sent: make(map[string]time.Time)}
}

// Notify dispatches notifications for the given stuck tasks and returns how
// many were sent. Tasks absent from the list are forgotten, so a task that
// becomes stuck again is announced immediately.
func (n *Notifier) Notify(tasks []domain.StuckTask, now time.Time) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	current := make(map[string]struct{}, len(tasks))
	sent := 0
	for _, t := range tasks {
		current[t.ID] = struct{}{}
		if last, ok := n.sent[t.ID]; ok && now.Sub(last) < n.cooldown {
			continue
		}
		events.Emit(n.pub, events.TaskStuck(t.ID, string(t.Priority)))
		n.sent[t.ID] = now
		sent++
		log.Info().Str("task_id", t.ID).Str("priority", string(t.Priority)).
			Time("updated_at", t.UpdatedAt).Msg("stuck task notification sent")
	}
	for id := range n.sent {
		if _, ok := current[id]; !ok {
			delete(n.sent, id)
		}
	}
	return sent
}
