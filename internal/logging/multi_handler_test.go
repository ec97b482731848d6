package logging

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

type recordingHandler struct {
	level slog.Level
	seen  int
	err   error
}

func (h *recordingHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *recordingHandler) Handle(context.Context, slog.Record) error {
	h.seen++
	return h.err
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func record(level slog.Level) slog.Record {
	return slog.NewRecord(time.Now(), level, "msg", 0)
}

func TestMultiHandler(t *testing.T) {
	t.Run("fans out to enabled handlers only", func(t *testing.T) {
		all := &recordingHandler{level: slog.LevelDebug}
		errorsOnly := &recordingHandler{level: slog.LevelError}
		m := NewMultiHandler(all, errorsOnly)

		if err := m.Handle(context.Background(), record(slog.LevelInfo)); err != nil {
			t.Fatalf("Handle failed: %v", err)
		}
		if err := m.Handle(context.Background(), record(slog.LevelError)); err != nil {
			t.Fatalf("Handle failed: %v", err)
		}

		if all.seen != 2 {
			t.Errorf("debug-level handler saw %d records, want 2", all.seen)
		}
		if errorsOnly.seen != 1 {
			t.Errorf("error-level handler saw %d records, want 1", errorsOnly.seen)
		}
	})

	t.Run("a failing sink does not block the others", func(t *testing.T) {
		boom := errors.New("sink down")
		failing := &recordingHandler{level: slog.LevelDebug, err: boom}
		healthy := &recordingHandler{level: slog.LevelDebug}
		m := NewMultiHandler(failing, healthy)

		err := m.Handle(context.Background(), record(slog.LevelError))
		if !errors.Is(err, boom) {
			t.Errorf("sink error not surfaced: %v", err)
		}
		if healthy.seen != 1 {
			t.Errorf("healthy handler saw %d records, want 1", healthy.seen)
		}
	})

	t.Run("enabled when any handler is enabled", func(t *testing.T) {
		m := NewMultiHandler(&recordingHandler{level: slog.LevelError})
		if m.Enabled(context.Background(), slog.LevelDebug) {
			t.Error("enabled below every handler's level")
		}
		if !m.Enabled(context.Background(), slog.LevelError) {
			t.Error("not enabled at a handler's level")
		}
	})
}
