// Package logger provides structured JSON logging with request and task
// correlation. No subprocess stdout/stderr content or raw user input is
// logged at info level — only attribution fields.
package logger

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"
)

type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	TaskIDKey    contextKey = "task_id"
)

// LogEntry is the structured log payload (JSON) for one HTTP request.
type LogEntry struct {
	Time       string  `json:"time"`
	Level      string  `json:"level"`
	RequestID  string  `json:"request_id,omitempty"`
	Method     string  `json:"method,omitempty"`
	Path       string  `json:"path,omitempty"`
	Status     int     `json:"status,omitempty"`
	DurationMs float64 `json:"duration_ms,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// RequestLog writes a single JSON line for an HTTP request (after response).
func RequestLog(out *os.File, reqID, method, path string, status int, duration time.Duration, errMsg string) {
	level := "info"
	if status >= 500 {
		level = "error"
	} else if status >= 400 {
		level = "warn"
	}
	entry := LogEntry{
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Level:      level,
		RequestID:  reqID,
		Method:     method,
		Path:       path,
		Status:     status,
		DurationMs: float64(duration.Milliseconds()),
		Error:      errMsg,
	}
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(entry)
}

// TaskLogEntry is the structured log payload for one task-attributed event
// (coordinator transitions, adapter invocations).
type TaskLogEntry struct {
	Time       string  `json:"time"`
	Level      string  `json:"level"`
	TaskID     uint64  `json:"task_id,omitempty"`
	ManagerID  string  `json:"manager_id,omitempty"`
	Operation  string  `json:"operation,omitempty"`
	DurationMs float64 `json:"duration_ms,omitempty"`
	Message    string  `json:"message,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// TaskLog writes a single JSON line for a task-attributed event.
func TaskLog(out *os.File, taskID uint64, managerID, operation, message string, duration time.Duration, errMsg string) {
	level := "info"
	if errMsg != "" {
		level = "error"
	}
	entry := TaskLogEntry{
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Level:      level,
		TaskID:     taskID,
		ManagerID:  managerID,
		Operation:  operation,
		DurationMs: float64(duration.Milliseconds()),
		Message:    message,
		Error:      errMsg,
	}
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(entry)
}

// FromContext returns the request ID carried in ctx, or empty string.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithTaskID returns a context carrying taskID for downstream TaskLog calls.
func WithTaskID(ctx context.Context, taskID uint64) context.Context {
	return context.WithValue(ctx, TaskIDKey, taskID)
}

// TaskIDFromContext returns the task id carried in ctx, or 0.
func TaskIDFromContext(ctx context.Context) uint64 {
	if id, ok := ctx.Value(TaskIDKey).(uint64); ok {
		return id
	}
	return 0
}

// StdLogger returns a slog.Logger for non-request logs (startup, shutdown).
// Always JSON; verbose lowers the level from info to debug.
func StdLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
