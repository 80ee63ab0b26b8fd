// Package logging builds the process logger. Output always goes to stderr:
// stdout belongs to the MCP protocol stream.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	dim    = "\033[2m"
	red    = "\033[31m"
	yellow = "\033[93m"
	white  = "\033[97m"
	gray   = "\033[90m"
)

// Component names the subsystem a logger belongs to.
type Component string

const (
	ComponentSSH     Component = "SSH"
	ComponentSearch  Component = "SEARCH"
	ComponentMCP     Component = "MCP"
	ComponentHistory Component = "HISTORY"
	ComponentCLI     Component = "CLI"
)

type Options struct {
	Level  string // debug, info, warn, error
	Format string // console (default) or json
	Color  *bool  // nil: auto-detect from the writer
}

// New returns a logger writing to stderr.
func New(opts Options) (*zap.Logger, error) {
	return NewWithWriter(os.Stderr, opts)
}

func NewWithWriter(w io.Writer, opts Options) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.TrimSpace(strings.ToLower(defaultStr(opts.Level, "info"))))
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", opts.Level, err)
	}

	var enc zapcore.Encoder
	switch strings.ToLower(defaultStr(opts.Format, "console")) {
	case "json":
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(cfg)
	case "console":
		color := false
		if opts.Color != nil {
			color = *opts.Color
		} else if f, ok := w.(*os.File); ok {
			color = isatty.IsTerminal(f.Fd())
		}
		enc = consoleEncoder(color)
	default:
		return nil, fmt.Errorf("log format %q: want console or json", opts.Format)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(w), level)
	return zap.New(core, zap.AddCaller()), nil
}

// For tags l with a component field.
func For(l *zap.Logger, c Component) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l.With(zap.String("component", string(c)))
}

func consoleEncoder(color bool) zapcore.Encoder {
	config := zap.NewDevelopmentEncoderConfig()

	// HH:MM:SS.mmm
	config.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		ts := t.Format("15:04:05.000")
		if color {
			ts = dim + ts + reset
		}
		enc.AppendString(ts)
	}

	config.EncodeLevel = func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		s := level.CapitalString()[:1]
		if color {
			s = levelColor(level) + bold + s + reset
		}
		enc.AppendString(s)
	}

	config.EncodeCaller = func(caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		file := caller.File
		if idx := strings.LastIndex(file, "/"); idx >= 0 {
			file = file[idx+1:]
		}
		file = strings.TrimSuffix(file, ".go")
		if color {
			file = dim + file + reset
		}
		enc.AppendString(file)
	}

	return zapcore.NewConsoleEncoder(config)
}

func levelColor(level zapcore.Level) string {
	switch level {
	case zapcore.DebugLevel:
		return gray
	case zapcore.InfoLevel:
		return white
	case zapcore.WarnLevel:
		return yellow
	default:
		return red
	}
}

func defaultStr(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
