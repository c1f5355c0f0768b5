package auth

import (
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const textCodeInvalidTransition = "INVALID_SESSION_STATE_TRANSITION"

// ErrInvalidTransition is returned when a requested status change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid session state transition", goerrors.CategoryValidation).
	WithTextCode(textCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// SessionStatus is the lifecycle state of the application session
type SessionStatus string

const (
	SessionUnauthenticated SessionStatus = "unauthenticated"
	SessionBootstrapping   SessionStatus = "bootstrapping"
	SessionReady           SessionStatus = "ready"
)

func (s SessionStatus) String() string {
	return string(s)
}

// Snapshot is a point in time copy of the session. A Ready snapshot
// with a nil User means the identity is confirmed absent.
type Snapshot struct {
	SessionID string
	Status    SessionStatus
	User      *User
	UpdatedAt time.Time
}

// IsResolved reports if bootstrap has completed
func (s Snapshot) IsResolved() bool {
	return s.Status == SessionReady
}

// IsAuthenticated reports a Ready session holding a user
func (s Snapshot) IsAuthenticated() bool {
	return s.Status == SessionReady && s.User != nil
}

// TransitionContext is handed to listeners after every status change.
type TransitionContext struct {
	SessionID string
	From      SessionStatus
	To        SessionStatus
	User      *User
	Reason    string
}

// sessionTransitions holds the allowed edges. There is no edge back to
// bootstrapping once the session resolved.
var sessionTransitions = map[SessionStatus]map[SessionStatus]struct{}{
	SessionUnauthenticated: {
		SessionBootstrapping: {},
		SessionReady:         {},
	},
	SessionBootstrapping: {
		SessionReady: {},
	},
	SessionReady: {
		SessionReady: {},
	},
}

func validateTransition(from, to SessionStatus) error {
	targets, ok := sessionTransitions[from]
	if !ok {
		return transitionError(from, to)
	}
	if _, ok := targets[to]; !ok {
		return transitionError(from, to)
	}
	return nil
}

func transitionError(from, to SessionStatus) error {
	err := ErrInvalidTransition.Clone()
	err.Message = fmt.Sprintf("cannot move session from %s to %s", from, to)
	err.WithMetadata(map[string]any{
		"from": from,
		"to":   to,
	})
	return err
}
