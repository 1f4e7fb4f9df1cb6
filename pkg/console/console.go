// Package console dispatches the configured on-join and on-return commands
// to the target endpoint's console.
package console

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Placeholders substituted with the user's display name. %player% is the
// legacy spelling still found in older config files.
const (
	PlaceholderUser   = "%user%"
	PlaceholderPlayer = "%player%"
)

// Dispatcher runs a console command, fire-and-forget.
type Dispatcher interface {
	DispatchCommand(command string)
}

// Expand substitutes the user's display name into a command template.
func Expand(template, username string) string {
	return strings.NewReplacer(PlaceholderUser, username, PlaceholderPlayer, username).Replace(template)
}

// Func adapts a plain function to Dispatcher.
type Func func(command string)

func (f Func) DispatchCommand(command string) { f(command) }

// WriterDispatcher writes each command as one line to an io.Writer, such as
// a FIFO read by the endpoint's console or plain stdout.
type WriterDispatcher struct {
	mu  sync.Mutex
	w   io.Writer
	log *slog.Logger
}

// NewWriter creates a dispatcher writing to w. A nil logger uses slog.Default().
func NewWriter(w io.Writer, log *slog.Logger) *WriterDispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &WriterDispatcher{w: w, log: log}
}

func (d *WriterDispatcher) DispatchCommand(command string) {
	command = strings.TrimSpace(strings.ReplaceAll(command, "\n", " "))
	if command == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := fmt.Fprintln(d.w, command); err != nil {
		d.log.Error("console command write failed", "command", command, "err", err)
		return
	}
	d.log.Info("console command dispatched", "command", command)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// OpenSink opens the command sink named in configuration. An empty path or
// "-" means stdout; anything else is opened for appending.
func OpenSink(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("console: open sink: %w", err)
	}
	return f, nil
}
