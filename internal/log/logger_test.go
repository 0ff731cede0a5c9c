package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLoggerComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelInfo, Component: ComponentSync, Output: &buf})

	logger.Info("started")
	if !strings.Contains(buf.String(), "component=sync") {
		t.Errorf("component missing: %s", buf.String())
	}

	buf.Reset()
	outbox := logger.WithComponent(ComponentOutbox)
	if outbox.Component() != ComponentOutbox {
		t.Errorf("Component() = %s", outbox.Component())
	}
	outbox.Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug entry written at info level: %s", buf.String())
	}
}

func TestLoggerOp(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelInfo, Output: &buf})
	ctx := context.Background()

	logger.Op(ctx, OpRefresh, nil, FieldCount, 3)
	out := buf.String()
	if !strings.Contains(out, "level=INFO") || !strings.Contains(out, "operation=refresh") || !strings.Contains(out, "count=3") {
		t.Errorf("unexpected success entry: %s", out)
	}

	buf.Reset()
	logger.Op(ctx, OpReplay, errors.New("boom"))
	out = buf.String()
	if !strings.Contains(out, "level=ERROR") || !strings.Contains(out, "error=boom") {
		t.Errorf("unexpected failure entry: %s", out)
	}
}
