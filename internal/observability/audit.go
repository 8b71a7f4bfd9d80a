package observability

import (
	"context"
	"log/slog"

	"github.com/segmentio/ksuid"
)

// SecurityEvent writes an audit-grade security event to the structured log.
// Every event gets its own id so downstream SIEM tooling can deduplicate.
func SecurityEvent(ctx context.Context, event string, attrs ...any) {
	base := []any{
		"event", event,
		"event_id", ksuid.New().String(),
	}
	base = append(base, attrs...)
	slog.InfoContext(ctx, "security_event", base...)
}

// SecurityAlert is SecurityEvent at warn level, for findings that should page.
func SecurityAlert(ctx context.Context, event string, attrs ...any) {
	base := []any{
		"event", event,
		"event_id", ksuid.New().String(),
	}
	base = append(base, attrs...)
	slog.WarnContext(ctx, "security_event", base...)
}
