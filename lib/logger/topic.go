package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// StdoutPath is the Path of a topic that writes to stdout.
const StdoutPath = "<stdout>"

// InitLogDir creates dir and removes log files left by a previous run.
func InitLogDir(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read log directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale log %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// Topic is an append-only log file named after a topic, e.g. kim.log. It is
// safe for concurrent use.
type Topic struct {
	name string
	path string

	mu   sync.Mutex
	w    io.Writer
	file *os.File
}

// OpenTopic opens <dir>/<name>.log for appending. An empty dir gives a topic
// that writes to stdout.
func OpenTopic(dir, name string) (*Topic, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, fmt.Errorf("invalid log topic %q", name)
	}

	if dir == "" {
		return &Topic{name: name, path: StdoutPath, w: os.Stdout}, nil
	}

	path := filepath.Join(dir, name+".log")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("open log topic %s: %w", name, err)
	}
	return &Topic{name: name, path: path, w: f, file: f}, nil
}

// Name returns the topic name.
func (t *Topic) Name() string {
	return t.name
}

// Path returns the log file path, or StdoutPath.
func (t *Topic) Path() string {
	return t.path
}

// Writer returns the topic as an io.Writer.
func (t *Topic) Writer() io.Writer {
	return t
}

func (t *Topic) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.w == nil {
		return 0, os.ErrClosed
	}
	return t.w.Write(p)
}

// Log writes msg verbatim.
func (t *Topic) Log(msg string) error {
	_, err := io.WriteString(t, msg)
	return err
}

// Close closes the underlying file. Writes after Close fail.
func (t *Topic) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.w = nil
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}

// NewTopicLogger returns a subsystem logger that also writes its JSON
// records to topic.
func NewTopicLogger(sub Subsystem, cfg Config, otelHandler slog.Handler, topic *Topic) *slog.Logger {
	if topic == nil || topic.Path() == StdoutPath {
		return NewSubsystemLogger(sub, cfg, otelHandler)
	}
	return NewWriterLogger(io.MultiWriter(os.Stdout, topic), sub, cfg, otelHandler)
}
