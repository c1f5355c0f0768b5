package auth

import (
	"context"
	"time"
)

// ActivityEventType enumerates session lifecycle events.
type ActivityEventType string

const (
	ActivityEventBootstrapResolved ActivityEventType = "session.bootstrap.resolved"
	ActivityEventLoginSuccess      ActivityEventType = "session.login.success"
	ActivityEventLoginFailure      ActivityEventType = "session.login.failure"
	ActivityEventLoginRetry        ActivityEventType = "session.login.retry"
	ActivityEventLogout            ActivityEventType = "session.logout"

	ActivityEventPasswordResetRequested ActivityEventType = "password.reset.requested"
	ActivityEventPasswordResetSuccess   ActivityEventType = "password.reset.success"
)

// ActivityEvent describes something that happened to the session.
type ActivityEvent struct {
	EventType  ActivityEventType
	SessionID  string
	UserID     string
	Email      string
	Outcome    string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

// MultiSink fans an event out to every sink, returning the first error.
func MultiSink(sinks ...ActivitySink) ActivitySink {
	return ActivitySinkFunc(func(ctx context.Context, event ActivityEvent) error {
		var first error
		for _, s := range sinks {
			if s == nil {
				continue
			}
			if err := s.Record(ctx, event); err != nil && first == nil {
				first = err
			}
		}
		return first
	})
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}
