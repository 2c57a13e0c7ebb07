// Package logging wraps logrus with an in-memory ring buffer of recent
// entries, grounded on utils/logger.h's Logger singleton (Instance(),
// level-gated Info/Warn/Error/Debug/Trace, GetRecentEntries/ClearBuffer)
// with spdlog swapped for github.com/sirupsen/logrus, the logging library
// the pe package (this module's teacher) already depends on.
package logging

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Entry is one recent log line retained in the ring buffer.
type Entry struct {
	Level     logrus.Level
	Message   string
	Timestamp time.Time
}

const maxBufferSize = 1000

// ringHook is a logrus.Hook that mirrors every fired entry into a bounded
// ring buffer, mirroring Logger's MAX_BUFFER_SIZE deque.
type ringHook struct {
	mu      sync.Mutex
	entries []Entry
}

func (h *ringHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *ringHook) Fire(e *logrus.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, Entry{Level: e.Level, Message: e.Message, Timestamp: e.Time})
	if len(h.entries) > maxBufferSize {
		h.entries = h.entries[len(h.entries)-maxBufferSize:]
	}
	return nil
}

func (h *ringHook) recent(count int) []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	if count <= 0 || count > len(h.entries) {
		count = len(h.entries)
	}
	out := make([]Entry, count)
	copy(out, h.entries[len(h.entries)-count:])
	return out
}

func (h *ringHook) clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
}

// Logger is a logrus.Logger paired with a ring buffer of recent entries,
// matching utils::Logger's singleton surface.
type Logger struct {
	*logrus.Logger
	hook *ringHook
}

var (
	instance     *Logger
	instanceOnce sync.Once
)

// Instance returns the process-wide Logger singleton, building it on first
// use with sane defaults (info level, stderr output).
func Instance() *Logger {
	instanceOnce.Do(func() {
		instance = New()
	})
	return instance
}

// New builds an independent Logger, for tests that want isolation from the
// process-wide singleton.
func New() *Logger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetLevel(logrus.InfoLevel)
	h := &ringHook{}
	base.AddHook(h)
	return &Logger{Logger: base, hook: h}
}

// SetLogFile redirects output to path in addition to the logger's existing
// stderr stream, matching spec.md §6.3's "log file path" config field.
func (l *Logger) SetLogFile(path string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	l.SetOutput(io.MultiWriter(os.Stderr, f))
	return nil
}

// SetLevelName sets the minimum level a log call actually emits, by name
// ("debug", "info", "warn", "error", "trace").
func (l *Logger) SetLevelName(name string) error {
	lvl, err := logrus.ParseLevel(name)
	if err != nil {
		return err
	}
	l.Logger.SetLevel(lvl)
	return nil
}

// RecentEntries returns up to count most recent buffered entries, oldest
// first, mirroring GetRecentEntries(count=100)'s default.
func (l *Logger) RecentEntries(count int) []Entry {
	if count <= 0 {
		count = 100
	}
	return l.hook.recent(count)
}

// ClearBuffer empties the ring buffer without affecting the underlying
// sink.
func (l *Logger) ClearBuffer() {
	l.hook.clear()
}
