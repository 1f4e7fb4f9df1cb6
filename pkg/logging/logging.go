// Package logging configures the process-wide slog logger for the
// screenshare host and its tools.
//
// Levels from most to least verbose: DEBUG, INFO, WARN, ERROR. Loggers are
// built once in main and replaced on config reload with SetLevel.
//
//	logging.Setup(logging.Options{Level: "debug", Format: "json"})
//	slog.Info("screenshare started", "user", id)
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options controls how logging is configured.
type Options struct {
	Level  string    // "debug", "info", "warn", "error" (default: "info")
	Format string    // "text" or "json" (default: "text")
	Output io.Writer // where to write logs (default: os.Stderr)
}

// level is shared by every handler Setup installs so SetLevel applies live.
var level = new(slog.LevelVar)

// ParseLevel converts a string level name to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a logger for opts without installing it.
func New(opts Options) (*slog.Logger, error) {
	if err := Validate(opts.Level); err != nil {
		return nil, err
	}
	if err := ValidateFormat(opts.Format); err != nil {
		return nil, err
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	lv := new(slog.LevelVar)
	lv.Set(ParseLevel(opts.Level))
	return slog.New(newHandler(out, opts.Format, lv)), nil
}

func newHandler(out io.Writer, format string, lv slog.Leveler) slog.Handler {
	handlerOpts := &slog.HandlerOptions{
		Level:     lv,
		AddSource: lv.Level() == slog.LevelDebug, // file:line in debug mode
	}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return slog.NewJSONHandler(out, handlerOpts)
	}
	return slog.NewTextHandler(out, handlerOpts)
}

// Setup installs the global slog logger. Safe to call early in main()
// before any logging occurs.
func Setup(opts Options) error {
	if err := Validate(opts.Level); err != nil {
		return err
	}
	if err := ValidateFormat(opts.Format); err != nil {
		return err
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	level.Set(ParseLevel(opts.Level))
	slog.SetDefault(slog.New(newHandler(out, opts.Format, level)))
	return nil
}

// SetLevel changes the level of the logger installed by Setup.
func SetLevel(name string) error {
	if err := Validate(name); err != nil {
		return err
	}
	level.Set(ParseLevel(name))
	return nil
}

// LevelNames returns all valid level names, useful for --help text.
func LevelNames() string {
	return "debug, info, warn, error"
}

// Validate returns an error if the level string is not recognized.
func Validate(name string) error {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug", "info", "warn", "warning", "error", "":
		return nil
	default:
		return fmt.Errorf("unknown log level %q (valid: %s)", name, LevelNames())
	}
}

// ValidateFormat returns an error unless format is text, json or empty.
func ValidateFormat(format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "text", "json", "":
		return nil
	default:
		return fmt.Errorf("unknown log format %q (valid: text, json)", format)
	}
}
