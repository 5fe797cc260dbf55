// Package logger implements the Sink interface of spec.md §6: a hand-rolled,
// file-backed, JSON-lines structured log, adapted from the teacher's
// AuditLogger (os.OpenFile + sync.Mutex + size-based rotation) from
// shell-command audit events to scan diagnostic events.
package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// defaultMaxLogBytes is the file size at which the log is rotated (10 MB).
const defaultMaxLogBytes = 10 * 1024 * 1024

// Sink is the logging interface the core engine invokes (spec.md §6):
// debug/info/warning/error/error-with-exception, nothing else.
type Sink interface {
	Debug(msg string)
	Info(msg string)
	Warning(msg string)
	Error(msg string)
	ErrorWithException(msg string, err error)
}

// Entry is one JSON-line record.
type Entry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Error     string `json:"error,omitempty"`
}

// FileSink is a JSON-lines, size-rotated, mutex-guarded file logger.
type FileSink struct {
	path string
	file *os.File
	mu   sync.Mutex
}

// NewFileSink opens (creating if needed) a JSON-lines log file at path.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}
	return &FileSink{path: path, file: f}, nil
}

func (s *FileSink) Debug(msg string)                          { s.write("debug", msg, nil) }
func (s *FileSink) Info(msg string)                           { s.write("info", msg, nil) }
func (s *FileSink) Warning(msg string)                        { s.write("warning", msg, nil) }
func (s *FileSink) Error(msg string)                          { s.write("error", msg, nil) }
func (s *FileSink) ErrorWithException(msg string, err error)  { s.write("error", msg, err) }

// rotateIfNeeded renames the current file to <path>.1 once it crosses
// defaultMaxLogBytes. Must be called with s.mu held.
func (s *FileSink) rotateIfNeeded() error {
	info, err := s.file.Stat()
	if err != nil {
		return fmt.Errorf("stat log file: %w", err)
	}
	if info.Size() < defaultMaxLogBytes {
		return nil
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close log before rotation: %w", err)
	}
	rotated := s.path + ".1"
	_ = os.Remove(rotated)
	if err := os.Rename(s.path, rotated); err != nil {
		return fmt.Errorf("rotate log: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open fresh log after rotation: %w", err)
	}
	s.file = f
	return nil
}

func (s *FileSink) write(level, msg string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rotErr := s.rotateIfNeeded(); rotErr != nil {
		fmt.Fprintf(os.Stderr, "[clrsentry] warning: log rotation failed: %v\n", rotErr)
	}

	entry := Entry{Timestamp: time.Now().UTC().Format(time.RFC3339Nano), Level: level, Message: msg}
	if err != nil {
		entry.Error = err.Error()
	}
	data, marshalErr := json.Marshal(entry)
	if marshalErr != nil {
		fmt.Fprintf(os.Stderr, "[clrsentry] warning: failed to marshal log entry: %v\n", marshalErr)
		return
	}
	data = append(data, '\n')
	if _, writeErr := s.file.Write(data); writeErr != nil {
		fmt.Fprintf(os.Stderr, "[clrsentry] warning: failed to write log entry: %v\n", writeErr)
	}
}

// Close releases the underlying file handle.
func (s *FileSink) Close() error {
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// NoopSink discards every log call, for silent embedding (spec.md §6).
type NoopSink struct{}

func (NoopSink) Debug(string)                     {}
func (NoopSink) Info(string)                      {}
func (NoopSink) Warning(string)                   {}
func (NoopSink) Error(string)                     {}
func (NoopSink) ErrorWithException(string, error) {}
