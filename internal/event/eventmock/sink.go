package eventmock

import (
	"context"
	"sync"

	"github.com/openkcm/auth-oidc/internal/event"
)

// Sink records the events it receives.
type Sink struct {
	mu     sync.Mutex
	events []event.UserLoggedIn
	err    error
}

var _ = event.Sink(&Sink{})

func NewSink() *Sink {
	return &Sink{}
}

// WithError makes every call fail with err after recording the event.
func (s *Sink) WithError(err error) *Sink {
	s.err = err
	return s
}

func (s *Sink) UserLoggedIn(_ context.Context, e event.UserLoggedIn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, e)
	return s.err
}

// TEvents is a helper method for tests to get the recorded events.
func (s *Sink) TEvents() []event.UserLoggedIn {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]event.UserLoggedIn(nil), s.events...)
}
