package rbac

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLogSinkWritesDecisions(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	sink := NewLogSink(logger, nil, 8)

	sink.Emit(AuditRecord{
		PrincipalID: "u1",
		Role:        RoleEditor,
		Resource:    "content",
		Action:      "publish",
		Scope:       ScopeAll,
		Allowed:     true,
		Reason:      ReasonGranted,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sink.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"permission decision", `"principal":"u1"`, `"allowed":true`, `"reason":"granted"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output %q missing %q", out, want)
		}
	}
	if !strings.Contains(out, `"audit_id":"`) {
		t.Fatal("record was not assigned an id")
	}
}

func TestLogSinkCloseIdempotent(t *testing.T) {
	sink := NewLogSink(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), nil, 1)
	ctx := context.Background()
	if err := sink.Close(ctx); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := sink.Close(ctx); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
