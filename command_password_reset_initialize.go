package auth

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

// MessagePasswordResetRequested is shown when the API sends no message
const MessagePasswordResetRequested = "If the address is registered you will receive a reset link shortly."

// MessagePasswordResetFailed is the fallback for reset request failures
const MessagePasswordResetFailed = "Unable to request a password reset. Please try again."

type InitializePasswordResetMessage struct {
	Email      string `json:"email" example:"pepe.rone@example.com" doc:"Account email."`
	OnResponse func(resp *InitializePasswordResetResponse)
}

func (p InitializePasswordResetMessage) Type() string { return "user.password_reset.request" }

// Validate will run validation rules
func (p InitializePasswordResetMessage) Validate() *goerrors.Error {
	return goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&p,
			validation.Field(&p.Email, validation.Required, is.Email),
		)
	}, "Invalid password reset request")
}

type InitializePasswordResetResponse struct {
	Email   string
	Message string
}

// InitializePasswordResetHandler asks the API to send a reset link
type InitializePasswordResetHandler struct {
	gateway  PasswordGateway
	activity ActivitySink
	logger   Logger
}

func NewInitializePasswordResetHandler(gateway PasswordGateway) *InitializePasswordResetHandler {
	return &InitializePasswordResetHandler{
		gateway:  gateway,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithActivitySink sets the sink used to emit password reset events.
func (h *InitializePasswordResetHandler) WithActivitySink(sink ActivitySink) *InitializePasswordResetHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

func (h *InitializePasswordResetHandler) WithLogger(logger Logger) *InitializePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset request",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	if err := event.Validate(); err != nil {
		return err
	}

	message, err := h.gateway.RequestPasswordReset(ctx, event.Email)
	if err != nil {
		h.logger.Warn("password reset request failed for %s: %v", event.Email, err)
		return surfaceFailure(err, MessagePasswordResetFailed)
	}

	if message == "" {
		message = MessagePasswordResetRequested
	}

	if err := h.activity.Record(ctx, ActivityEvent{
		EventType:  ActivityEventPasswordResetRequested,
		Email:      event.Email,
		Outcome:    "success",
		OccurredAt: time.Now(),
	}); err != nil {
		h.logger.Warn("activity sink error for %s: %v", ActivityEventPasswordResetRequested, err)
	}

	if event.OnResponse != nil {
		event.OnResponse(&InitializePasswordResetResponse{
			Email:   event.Email,
			Message: message,
		})
	}

	return nil
}
