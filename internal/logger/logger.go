// Package logger builds the structured logger shared by every component.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/phuslu/log"
)

// Config selects level, output format and an optional log file.
type Config struct {
	Level  string `yaml:"level" toml:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Format string `yaml:"format" toml:"format" validate:"omitempty,oneof=console json"`
	File   string `yaml:"file" toml:"file"`
}

// New returns a logger writing to stderr, or to cfg.File when set.
func New(cfg Config) *log.Logger {
	var w log.Writer
	switch {
	case cfg.File != "":
		w = &log.FileWriter{
			Filename:     cfg.File,
			MaxBackups:   7,
			EnsureFolder: true,
		}
	case strings.EqualFold(cfg.Format, "json"):
		w = &log.IOWriter{Writer: os.Stderr}
	default:
		w = &log.ConsoleWriter{
			ColorOutput:    log.IsTerminal(os.Stderr.Fd()),
			QuoteString:    true,
			EndWithMessage: true,
			Writer:         os.Stderr,
		}
	}
	return &log.Logger{
		Level:      levelOf(cfg.Level),
		TimeFormat: "15:04:05",
		Writer:     w,
	}
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return &log.Logger{Level: log.ErrorLevel, Writer: &log.IOWriter{Writer: io.Discard}}
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *log.Logger) *log.Logger {
	if l == nil {
		return Discard()
	}
	return l
}

func levelOf(s string) log.Level {
	if s == "" {
		return log.InfoLevel
	}
	return log.ParseLevel(strings.ToLower(s))
}
