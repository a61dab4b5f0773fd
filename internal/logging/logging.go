package logging

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/gogpu/wgpu/hal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gogpu/gpuframe"
)

// Format names.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// New returns a slog logger writing to w at level in format.
func New(w io.Writer, level, format string) (*slog.Logger, *Handler, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, nil, err
	}

	var enc zapcore.Encoder
	switch format {
	case FormatJSON:
		enc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	case FormatConsole, "":
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		enc = zapcore.NewConsoleEncoder(cfg)
	default:
		return nil, nil, fmt.Errorf("logging: unknown format %q", format)
	}

	h := NewHandler(zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(w)), lvl))
	return slog.New(h), h, nil
}

// Install routes gpuframe and wgpu HAL logging to l.
func Install(l *slog.Logger) {
	gpuframe.SetLogger(l)
	hal.SetLogger(l)
}
