package security

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func newTestAuditor(enabled bool) (*Auditor, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	return NewAuditor(logger, enabled), &buf
}

func TestNewAuditor_NilLogger(t *testing.T) {
	auditor := NewAuditor(nil, true)
	if auditor.logger == nil {
		t.Error("logger should not be nil")
	}
}

func TestAuditor_LogEvent(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		wantLog bool
	}{
		{"enabled", true, true},
		{"disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auditor, buf := newTestAuditor(tt.enabled)

			auditor.LogEvent(Event{
				Type:      "test_event",
				UserID:    "user-123",
				ClientID:  "client-456",
				IPAddress: "192.168.1.1",
				RequestID: "req-1",
			})

			if got := buf.Len() > 0; got != tt.wantLog {
				t.Errorf("LogEvent() logged = %v, want %v", got, tt.wantLog)
			}
		})
	}
}

func TestAuditor_LogEvent_HashesUserID(t *testing.T) {
	auditor, buf := newTestAuditor(true)

	auditor.LogEvent(Event{Type: EventTokenIssued, UserID: "alice@example.com"})

	out := buf.String()
	if strings.Contains(out, "alice@example.com") {
		t.Errorf("raw user ID leaked into audit log: %s", out)
	}
	if !strings.Contains(out, hashForLogging("alice@example.com")) {
		t.Errorf("audit log missing user_id_hash: %s", out)
	}
}

func TestAuditor_NilSafe(t *testing.T) {
	var auditor *Auditor
	auditor.LogEvent(Event{Type: "ignored"})
}

func TestAuditor_Helpers(t *testing.T) {
	tests := []struct {
		name      string
		log       func(a *Auditor)
		eventType string
	}{
		{"code issued", func(a *Auditor) { a.LogCodeIssued("u", "c", "S256") }, EventAuthorizationCodeIssued},
		{"token issued", func(a *Auditor) { a.LogTokenIssued("u", "c", "openid") }, EventTokenIssued},
		{"token refreshed", func(a *Auditor) { a.LogTokenRefreshed("u", "c") }, EventTokenRefreshed},
		{"auth failure", func(a *Auditor) { a.LogAuthFailure("", "c", "10.0.0.1", "bad secret") }, EventAuthFailure},
		{"rate limit", func(a *Auditor) { a.LogRateLimitExceeded("10.0.0.1", "/oauth/token") }, EventRateLimitExceeded},
		{"client registered", func(a *Auditor) { a.LogClientRegistered("c", "10.0.0.1") }, EventClientRegistered},
		{"client deactivated", func(a *Auditor) { a.LogClientDeactivated("c") }, EventClientDeactivated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auditor, buf := newTestAuditor(true)
			tt.log(auditor)
			if !strings.Contains(buf.String(), "event_type="+tt.eventType) {
				t.Errorf("log output missing event_type=%s: %s", tt.eventType, buf.String())
			}
		})
	}
}

func TestHashForLogging(t *testing.T) {
	if got := hashForLogging(""); got != "<empty>" {
		t.Errorf("hashForLogging(\"\") = %q, want <empty>", got)
	}
	h := hashForLogging("user-1")
	if len(h) != 16 {
		t.Errorf("len(hashForLogging()) = %d, want 16", len(h))
	}
	if h != hashForLogging("user-1") {
		t.Error("hashForLogging() is not deterministic")
	}
}
