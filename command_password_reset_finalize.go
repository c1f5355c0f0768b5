package auth

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

// MessagePasswordResetDone is shown when the API sends no message
const MessagePasswordResetDone = "Your password has been reset. You can now sign in."

// MessagePasswordResetInvalid is the fallback for finalize failures
const MessagePasswordResetInvalid = "Unable to reset the password. The link may have expired."

// MinPasswordLength mirrors the API password policy
const MinPasswordLength = 8

type FinalizePasswordResetMessage struct {
	Token                string `json:"token" example:"c0ffee" doc:"Reset token from the email link"`
	Email                string `json:"email" example:"pepe.rone@example.com" doc:"Account email."`
	Password             string `json:"password" example:"some_secret_word" doc:"Password"`
	PasswordConfirmation string `json:"password_confirmation" example:"some_secret_word" doc:"Password again"`
	OnResponse           func(message string)
}

func (p FinalizePasswordResetMessage) Type() string { return "user.password_reset.finalize" }

// Validate will run validation rules
func (p FinalizePasswordResetMessage) Validate() *goerrors.Error {
	return goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&p,
			validation.Field(&p.Token, validation.Required),
			validation.Field(&p.Email, validation.Required, is.Email),
			validation.Field(&p.Password, validation.Required, validation.Length(MinPasswordLength, 100)),
			validation.Field(
				&p.PasswordConfirmation,
				validation.Required,
				validation.By(ValidateStringEquals(p.Password)),
			),
		)
	}, "Invalid password reset payload")
}

// FinalizePasswordResetHandler sets the new password through the API
type FinalizePasswordResetHandler struct {
	gateway  PasswordGateway
	activity ActivitySink
	logger   Logger
}

// NewFinalizePasswordResetHandler creates a handler with sane defaults.
func NewFinalizePasswordResetHandler(gateway PasswordGateway) *FinalizePasswordResetHandler {
	return &FinalizePasswordResetHandler{
		gateway:  gateway,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithActivitySink sets the sink used to emit password reset events.
func (h *FinalizePasswordResetHandler) WithActivitySink(sink ActivitySink) *FinalizePasswordResetHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *FinalizePasswordResetHandler) WithLogger(logger Logger) *FinalizePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset finalization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *FinalizePasswordResetHandler) execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	if err := event.Validate(); err != nil {
		return err
	}

	message, err := h.gateway.ResetPassword(ctx, PasswordResetRequest{
		Token:                event.Token,
		Email:                event.Email,
		Password:             event.Password,
		PasswordConfirmation: event.PasswordConfirmation,
	})
	if err != nil {
		h.logger.Warn("password reset failed for %s: %v", event.Email, err)
		return surfaceFailure(err, MessagePasswordResetInvalid)
	}

	if message == "" {
		message = MessagePasswordResetDone
	}

	if err := h.activity.Record(ctx, ActivityEvent{
		EventType:  ActivityEventPasswordResetSuccess,
		Email:      event.Email,
		Outcome:    "success",
		OccurredAt: time.Now(),
	}); err != nil {
		h.logger.Warn("activity sink error for %s: %v", ActivityEventPasswordResetSuccess, err)
	}

	if event.OnResponse != nil {
		event.OnResponse(message)
	}

	return nil
}
