package activitymap_test

import (
	"context"
	"testing"
	"time"

	auth "github.com/goliatone/go-console-auth"
	"github.com/goliatone/go-console-auth/activitymap"
)

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)
	event := auth.ActivityEvent{
		EventType: auth.ActivityEventLoginSuccess,
		SessionID: "session-1",
		UserID:    "42",
		Email:     "ops@example.com",
		Outcome:   "success",
		Metadata: map[string]any{
			"retried": true,
		},
		OccurredAt: ts,
	}

	out := activitymap.Normalize(event)

	if out.ActorID != "42" {
		t.Fatalf("expected actor_id 42, got %q", out.ActorID)
	}
	if out.Verb != string(auth.ActivityEventLoginSuccess) {
		t.Fatalf("expected verb %q, got %q", auth.ActivityEventLoginSuccess, out.Verb)
	}
	if out.ObjectType != "session" {
		t.Fatalf("expected object_type session, got %q", out.ObjectType)
	}
	if out.ObjectID != "session-1" {
		t.Fatalf("expected object_id session-1, got %q", out.ObjectID)
	}
	if out.Channel != "console" {
		t.Fatalf("expected channel console, got %q", out.Channel)
	}
	if !out.OccurredAt.Equal(ts) {
		t.Fatalf("expected occurred_at %v, got %v", ts, out.OccurredAt)
	}

	if out.Metadata["retried"] != true {
		t.Fatalf("expected metadata retried, got %#v", out.Metadata["retried"])
	}
	if out.Metadata[activitymap.MetadataKeyOutcome] != "success" {
		t.Fatalf("expected metadata outcome success, got %#v", out.Metadata[activitymap.MetadataKeyOutcome])
	}
	if out.Metadata[activitymap.MetadataKeyEmail] != "ops@example.com" {
		t.Fatalf("expected metadata email, got %#v", out.Metadata[activitymap.MetadataKeyEmail])
	}

	if len(event.Metadata) != 1 {
		t.Fatalf("expected source metadata to remain unchanged, got %+v", event.Metadata)
	}
}

func TestNormalizeOptionOverrides(t *testing.T) {
	t.Parallel()

	event := auth.ActivityEvent{
		EventType: auth.ActivityEventPasswordResetSuccess,
		Email:     "ops@example.com",
		Outcome:   "success",
		Metadata: map[string]any{
			"request_id":                   "req-1",
			activitymap.MetadataKeyOutcome: "existing",
		},
	}

	out := activitymap.Normalize(
		event,
		activitymap.WithDefaultChannel("security"),
		activitymap.WithDefaultObjectType("account"),
		activitymap.WithObjectIDResolver(func(e auth.ActivityEvent) string {
			if v, ok := e.Metadata["request_id"].(string); ok {
				return v
			}
			return ""
		}),
	)

	if out.Channel != "security" {
		t.Fatalf("expected channel security, got %q", out.Channel)
	}
	if out.ObjectType != "account" {
		t.Fatalf("expected object_type account, got %q", out.ObjectType)
	}
	if out.ObjectID != "req-1" {
		t.Fatalf("expected object_id req-1, got %q", out.ObjectID)
	}
	if out.Metadata[activitymap.MetadataKeyOutcome] != "existing" {
		t.Fatalf("expected existing outcome preserved, got %#v", out.Metadata[activitymap.MetadataKeyOutcome])
	}
	if out.OccurredAt.IsZero() {
		t.Fatalf("expected occurred_at to be set when input is zero")
	}
}

func TestNormalizeActorFallbackChain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		event  auth.ActivityEvent
		opts   []activitymap.Option
		expect string
	}{
		{
			name:   "uses user id when present",
			event:  auth.ActivityEvent{UserID: "user-1", Email: "a@example.com"},
			expect: "user-1",
		},
		{
			name:   "uses lower cased email when user id missing",
			event:  auth.ActivityEvent{Email: "Ops@Example.com"},
			expect: "ops@example.com",
		},
		{
			name:   "uses default fallback when nobody is named",
			event:  auth.ActivityEvent{},
			expect: "anonymous",
		},
		{
			name:   "uses configured fallback when nobody is named",
			event:  auth.ActivityEvent{},
			opts:   []activitymap.Option{activitymap.WithActorFallback("console")},
			expect: "console",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			out := activitymap.Normalize(tc.event, tc.opts...)
			if out.ActorID != tc.expect {
				t.Fatalf("expected actor_id %q, got %q", tc.expect, out.ActorID)
			}
		})
	}
}

func TestSinkForwardsNormalizedRecords(t *testing.T) {
	t.Parallel()

	var got []activitymap.Normalized
	sink := activitymap.Sink(func(n activitymap.Normalized) error {
		got = append(got, n)
		return nil
	}, activitymap.WithDefaultChannel("audit"))

	err := sink.Record(context.Background(), auth.ActivityEvent{
		EventType: auth.ActivityEventLogout,
		UserID:    "7",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one record, got %d", len(got))
	}
	if got[0].Channel != "audit" || got[0].Verb != string(auth.ActivityEventLogout) {
		t.Fatalf("unexpected record %+v", got[0])
	}
}
