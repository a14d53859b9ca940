package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestContextWithLogger(t *testing.T) {
	t.Run("round trips the logger", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
		ctx := ContextWithLogger(context.Background(), logger)
		if got := FromContext(ctx); got != logger {
			t.Fatalf("expected logger from context")
		}
	})

	t.Run("nil logger leaves context untouched", func(t *testing.T) {
		ctx := context.Background()
		if got := ContextWithLogger(ctx, nil); got != ctx {
			t.Fatalf("expected same context")
		}
		if FromContext(ctx) != nil {
			t.Fatalf("expected no logger")
		}
	})
}

func TestParseLevel(t *testing.T) {
	cases := map[string]struct {
		level slog.Level
		ok    bool
	}{
		"":        {slog.LevelInfo, true},
		"DEBUG":   {slog.LevelDebug, true},
		"warning": {slog.LevelWarn, true},
		"error":   {slog.LevelError, true},
		"verbose": {slog.LevelInfo, false},
	}
	for input, want := range cases {
		level, ok := ParseLevel(input)
		if level != want.level || ok != want.ok {
			t.Fatalf("ParseLevel(%q) = %v, %v; want %v, %v", input, level, ok, want.level, want.ok)
		}
	}
}

func TestNewJSONLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, slog.LevelWarn)
	logger.Info("hidden")
	logger.Warn("visible", "component", "test")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("expected a single record, got %d: %s", len(lines), buf.String())
	}
	var record map[string]any
	if err := json.Unmarshal(lines[0], &record); err != nil {
		t.Fatalf("record is not JSON: %v", err)
	}
	if record["msg"] != "visible" || record["component"] != "test" {
		t.Fatalf("unexpected record: %v", record)
	}
}
