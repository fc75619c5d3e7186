// Package logging builds the zerolog logger shared by the CLI and the
// replication coordinator.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level string `yaml:"level"`
	// Format is "console" or "json".
	Format string `yaml:"format"`
	// File additionally receives uncolored console lines when set.
	File string `yaml:"file"`
}

func DefaultConfig() Config {
	return Config{Level: "info", Format: "console"}
}

// ParseLevel maps a level name to zerolog, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToUpper(s) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "OFF", "DISABLED":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// New returns a logger writing to out. The returned closer releases the log
// file, if any, and is never nil.
func New(cfg Config, out io.Writer) (zerolog.Logger, io.Closer, error) {
	var w io.Writer = out
	if cfg.Format != "json" {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return zerolog.Nop(), closer, fmt.Errorf("open log file: %w", err)
		}
		closer = f
		w = zerolog.MultiLevelWriter(w, zerolog.ConsoleWriter{Out: f, TimeFormat: time.RFC3339, NoColor: true})
	}

	logger := zerolog.New(w).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
