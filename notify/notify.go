// Package notify delivers workflow notifications. Delivery is
// fire-and-forget: a failed notification is logged and never rolls back the
// transition that triggered it.
package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Templates for contribution workflow notifications.
const (
	TemplateSubmitted     = "contribution-submitted"
	TemplateReviewStarted = "contribution-review-started"
	TemplateAccepted      = "contribution-accepted"
	TemplateRejected      = "contribution-rejected"
)

// MaintainersRecipient addresses all language pack maintainers rather than
// one user.
const MaintainersRecipient = "maintainers"

// Notification is one message for one recipient, rendered elsewhere from a
// template and its data.
type Notification struct {
	Recipient string            `json:"recipient"`
	Template  string            `json:"template"`
	Data      map[string]string `json:"data"`
}

// Sink accepts notifications for delivery. Implementations must be safe for
// concurrent use.
type Sink interface {
	Send(ctx context.Context, n Notification) error
}

// LogSink writes notifications to the log. The default sink when no real
// delivery channel is configured.
type LogSink struct {
	Log *slog.Logger
}

func (s LogSink) Send(ctx context.Context, n Notification) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log.InfoContext(ctx, "notification",
		slog.String("recipient", n.Recipient),
		slog.String("template", n.Template),
		slog.Any("data", n.Data))

	return nil
}

// MemorySink collects notifications in memory for tests.
type MemorySink struct {
	mu   sync.Mutex
	sent []Notification
}

func (s *MemorySink) Send(ctx context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)

	return nil
}

// Sent returns a copy of everything delivered so far.
func (s *MemorySink) Sent() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Notification, len(s.sent))
	copy(out, s.sent)

	return out
}
