//
//
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/road-telemetry/roadwatch/internal/auth"
	"github.com/road-telemetry/roadwatch/internal/record"
)

// FileName is the audit log inside the configured directory.
const FileName = "audit.jsonl"

// Actions.
const (
	ActionCreate = "record.create"
	ActionUpdate = "record.update"
	ActionDelete = "record.delete"
)

// Entry represents a single audit log entry.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	Subject   string    `json:"subject"`
	Action    string    `json:"action"`
	AgentID   int64     `json:"agentId,omitempty"`
	RecordID  int64     `json:"recordId,omitempty"`
	Outcome   string    `json:"outcome"`
	Code      string    `json:"code"`
	LatencyMs float64   `json:"latencyMs"`
}

// Options configure rotation. Zero values use lumberjack's defaults.
type Options struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	Logger     *slog.Logger
}

// Logger appends entries to a rotating file. A nil *Logger discards
// everything.
type Logger struct {
	mu     sync.Mutex
	path   string
	out    *lumberjack.Logger
	logger *slog.Logger
}

// NewLogger creates dir if needed and opens the audit file in it.
func NewLogger(dir string, opts Options) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	path := filepath.Join(dir, FileName)
	return &Logger{
		path: path,
		out: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		},
		logger: logger,
	}, nil
}

// Path returns the active log file.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Record logs the outcome of a mutation on rec. The subject comes from
// the auth claims in ctx.
func (l *Logger) Record(ctx context.Context, action string, rec record.Record, err error, latency time.Duration) {
	if l == nil {
		return
	}

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}

	l.write(Entry{
		Timestamp: time.Now().UTC(),
		Subject:   auth.Subject(ctx),
		Action:    action,
		AgentID:   rec.AgentID,
		RecordID:  rec.ID,
		Outcome:   outcome,
		Code:      record.Code(err),
		LatencyMs: float64(latency.Microseconds()) / 1000,
	})
}

func (l *Logger) write(entry Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Error("failed to marshal audit entry", "error", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.out.Write(append(data, '\n')); err != nil {
		l.logger.Error("failed to write audit entry", "error", err, "path", l.path)
	}
}

// Close closes the current file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Close()
}
