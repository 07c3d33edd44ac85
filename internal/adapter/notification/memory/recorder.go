package memory

import (
	"context"
	"sync"

	"github.com/simaogato/wealthflow-automation/internal/domain"
)

// Recorder implements domain.NotificationEmitter by keeping notifications in memory.
// Redelivered notifications (same ID) are stored once.
type Recorder struct {
	mu            sync.Mutex
	notifications []domain.Notification
	seen          map[string]struct{}

	// Err, when set, is returned by Emit and nothing is recorded
	Err error
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{seen: make(map[string]struct{})}
}

func (r *Recorder) Emit(ctx context.Context, notification domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Err != nil {
		return r.Err
	}

	id := notification.ID.String()
	if _, dup := r.seen[id]; dup {
		return nil
	}
	r.seen[id] = struct{}{}
	r.notifications = append(r.notifications, notification)

	return nil
}

// Notifications returns everything recorded so far, in emit order
func (r *Recorder) Notifications() []domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Notification, len(r.notifications))
	copy(out, r.notifications)
	return out
}

// ByType returns the recorded notifications of one type
func (r *Recorder) ByType(notificationType domain.NotificationType) []domain.Notification {
	var out []domain.Notification
	for _, n := range r.Notifications() {
		if n.Type == notificationType {
			out = append(out, n)
		}
	}
	return out
}
