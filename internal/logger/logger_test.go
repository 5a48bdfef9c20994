package logger

import (
	"context"
	"log/slog"
	"testing"

	"github.com/promptdeck/promptdeck/internal/config"
)

func TestNewHonorsLevel(t *testing.T) {
	ctx := context.Background()

	l, closer := New(config.Logging{Level: "warn", Service: "test-svc"})
	defer closer.Close()

	if l.Enabled(ctx, slog.LevelInfo) {
		t.Error("info should be disabled at warn level")
	}
	if !l.Enabled(ctx, slog.LevelWarn) {
		t.Error("warn should be enabled at warn level")
	}
}

func TestSetLevelAppliesToExistingLogger(t *testing.T) {
	ctx := context.Background()

	l, closer := New(config.Logging{Level: "info", Service: "test-svc"})
	defer closer.Close()

	if l.Enabled(ctx, slog.LevelDebug) {
		t.Fatal("debug should start disabled")
	}

	// SIGHUP reload path: the level changes without rebuilding the logger.
	SetLevel("debug")
	defer SetLevel("info")

	if !l.Enabled(ctx, slog.LevelDebug) {
		t.Error("debug should be enabled after SetLevel")
	}
}

func TestNewAsyncCloses(t *testing.T) {
	l, closer := New(config.Logging{Level: "debug", Service: "test-svc", Async: true})
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
	l.Info("flushed before close")
	closer.Close()
}

func TestResolveFormat(t *testing.T) {
	if got := resolveFormat("json"); got != "json" {
		t.Errorf("resolveFormat(json) = %q", got)
	}
	if got := resolveFormat("text"); got != "text" {
		t.Errorf("resolveFormat(text) = %q", got)
	}
	// "auto" resolves by terminal detection; either way it must be concrete.
	if got := resolveFormat("auto"); got != "json" && got != "text" {
		t.Errorf("resolveFormat(auto) = %q, want json or text", got)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()

	if got := RequestID(ctx); got != "" {
		t.Errorf("expected empty request ID on bare context, got %q", got)
	}

	ctx = WithRequestID(ctx, "req-123")
	if got := RequestID(ctx); got != "req-123" {
		t.Errorf("expected req-123, got %q", got)
	}

	// A nested handler may re-stamp; the newest ID wins.
	ctx = WithRequestID(ctx, "req-456")
	if got := RequestID(ctx); got != "req-456" {
		t.Errorf("expected req-456 after overwrite, got %q", got)
	}
}
