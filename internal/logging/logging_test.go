package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/gogpu/gpuframe"
)

func observed(level zapcore.Level) (*slog.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return slog.New(NewHandler(core)), logs
}

func TestHandler_Levels(t *testing.T) {
	l, logs := observed(zapcore.InfoLevel)

	l.Debug("hidden")
	l.Info("info")
	l.Warn("warn")
	l.Error("error")
	l.Log(t.Context(), slog.LevelWarn+1, "between")

	entries := logs.AllUntimed()
	require.Len(t, entries, 4)
	require.Equal(t, zapcore.InfoLevel, entries[0].Level)
	require.Equal(t, zapcore.WarnLevel, entries[1].Level)
	require.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	require.Equal(t, zapcore.WarnLevel, entries[3].Level)
	require.False(t, l.Enabled(t.Context(), slog.LevelDebug))
}

func TestHandler_Attrs(t *testing.T) {
	l, logs := observed(zapcore.DebugLevel)
	errBoom := errors.New("boom")

	l.With("slot", 2).WithGroup("fence").Info("wait",
		"frame", uint64(7),
		"elapsed", 3*time.Millisecond,
		"err", errBoom,
		slog.Group("queue", "units", 12),
		"ok", true,
	)

	entries := logs.All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	require.Equal(t, int64(2), ctx["slot"])
	require.Equal(t, uint64(7), ctx["fence.frame"])
	require.Equal(t, 3*time.Millisecond, ctx["fence.elapsed"])
	require.Equal(t, "boom", ctx["fence.err"])
	require.Equal(t, int64(12), ctx["fence.queue.units"])
	require.Equal(t, true, ctx["fence.ok"])
}

func TestHandler_InlineGroup(t *testing.T) {
	l, logs := observed(zapcore.DebugLevel)
	l.Info("msg", slog.Group("", "a", 1), slog.Attr{})

	ctx := logs.All()[0].ContextMap()
	require.Equal(t, map[string]any{"a": int64(1)}, ctx)
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	l, h, err := New(&buf, "debug", FormatJSON)
	require.NoError(t, err)

	l.Debug("renderer: started", "workers", 4)
	require.NoError(t, h.Sync())

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "renderer: started", line["msg"])
	require.Equal(t, "debug", line["level"])
	require.Equal(t, float64(4), line["workers"])
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	l, _, err := New(&buf, "WARN", FormatConsole)
	require.NoError(t, err)

	l.Info("quiet")
	l.Warn("loud", "slot", 1)
	out := buf.String()
	require.NotContains(t, out, "quiet")
	require.True(t, strings.Contains(out, "loud") && strings.Contains(out, `"slot": 1`), out)
}

func TestNew_Errors(t *testing.T) {
	_, _, err := New(&bytes.Buffer{}, "loud", FormatJSON)
	require.Error(t, err)
	_, _, err = New(&bytes.Buffer{}, "info", "xml")
	require.Error(t, err)
}

func TestInstall(t *testing.T) {
	l, logs := observed(zapcore.InfoLevel)
	Install(l)
	t.Cleanup(func() { Install(nil) })

	gpuframe.Logger().Info("through gpuframe")
	require.Equal(t, 1, logs.FilterMessage("through gpuframe").Len())
}
