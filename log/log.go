// Package log provides the structured logger used across this module,
// modeled on go-ethereum's log package: a slog.Logger wrapped with a
// plain-text handler on stderr (through go-colorable when it is a TTY),
// optionally mirrored to a rotating file.
package log

import (
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

var root = New()

// Config controls where log output goes and at what level.
type Config struct {
	Level    slog.Level
	FilePath string // empty means stderr only
	MaxSizeMB int
	MaxBackups int
}

// New builds a logger writing slog text records to stderr, wrapped by
// go-colorable when stderr is a TTY. No color codes are emitted.
func New() *slog.Logger {
	var w io.Writer = os.Stderr
	if isatty.IsTerminal(os.Stderr.Fd()) {
		w = colorable.NewColorableStderr()
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// NewWithConfig builds a logger per cfg, adding a rotating file sink when
// cfg.FilePath is set.
func NewWithConfig(cfg Config) *slog.Logger {
	var w io.Writer = os.Stderr
	if isatty.IsTerminal(os.Stderr.Fd()) {
		w = colorable.NewColorableStderr()
	}
	if cfg.FilePath != "" {
		fw := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 3),
		}
		w = io.MultiWriter(w, fw)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: cfg.Level}))
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// Root returns the package-wide default logger.
func Root() *slog.Logger { return root }

// SetRoot replaces the package-wide default logger, e.g. after loading config.
func SetRoot(l *slog.Logger) { root = l }

// NewPkgLogger returns a sub-logger tagged with pkg=name, the pattern
// every subsystem in this module uses instead of calling Root() directly.
func NewPkgLogger(name string) *slog.Logger {
	return root.With("pkg", name)
}
