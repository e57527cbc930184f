// Package notify publishes lease lifecycle notifications. Delivery is
// fire-and-forget: failures are logged and counted, never propagated.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/reservd/reservd/internal/model"
)

// Payload is the message body published for every lease notification.
type Payload struct {
	LeaseID   string    `json:"leaseId"`
	Name      string    `json:"name"`
	ProjectID string    `json:"projectId"`
	UserID    string    `json:"userId"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	Status    string    `json:"status"`
}

// FormatLeasePayload builds the notification payload for a lease.
func FormatLeasePayload(l *model.Lease) Payload {
	return Payload{
		LeaseID:   l.ID,
		Name:      l.Name,
		ProjectID: l.ProjectID,
		UserID:    l.UserID,
		StartDate: l.StartDate,
		EndDate:   l.EndDate,
		Status:    string(l.Status),
	}
}

// Notifier publishes one message per event name, prefixed "lease.".
type Notifier interface {
	Send(ctx context.Context, lease *model.Lease, events ...string)
}

// Nop discards all notifications.
type Nop struct{}

func (Nop) Send(ctx context.Context, lease *model.Lease, events ...string) {}

// Recorder captures notifications for assertions in tests.
type Recorder struct {
	mu   sync.Mutex
	sent []string
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Send(ctx context.Context, lease *model.Lease, events ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range events {
		r.sent = append(r.sent, "lease."+e)
	}
}

// Sent returns the channel names published so far.
func (r *Recorder) Sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

var (
	_ Notifier = Nop{}
	_ Notifier = (*Recorder)(nil)
)
