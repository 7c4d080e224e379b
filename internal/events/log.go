// Package events implements the append-only run event log: one JSON object
// per line, UTC timestamps, never mutated. Every observable pipeline step
// emits exactly one record here; external UIs tail the file or subscribe
// via the bus.
package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/matchpilot/matchpilot/internal/bus"
)

// Record is one event-log line. Fields carries the event-specific payload.
type Record struct {
	TS     time.Time
	RunID  string
	Event  string
	Fields map[string]interface{}
}

// Log appends records to a JSONL file and fans them out on the bus.
// Writes are serialized; a failed write is retried once, then reported on
// the Errors channel and dropped. A write failure never stops the run.
type Log struct {
	mu   sync.Mutex
	f    *os.File
	path string
	pub  bus.EventPublisher
	errs chan Record
	now  func() time.Time
}

// Open creates or opens the event log at path in append mode.
// pub may be nil when no live consumers exist (plain CLI runs still pass
// the bus so notifiers and the gateway observe events).
func Open(path string, pub bus.EventPublisher) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("event log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return &Log{
		f:    f,
		path: path,
		pub:  pub,
		errs: make(chan Record, 16),
		now:  time.Now,
	}, nil
}

// Emit appends one record. Never returns an error: disk failures are
// retried once and then surfaced on Errors.
func (l *Log) Emit(runID, event string, fields map[string]interface{}) {
	rec := map[string]interface{}{
		"ts":     l.now().UTC().Format(time.RFC3339),
		"run_id": runID,
		"event":  event,
	}
	for k, v := range fields {
		rec[k] = v
	}

	data, err := json.Marshal(rec)
	if err != nil {
		slog.Warn("event log: marshal failed", "event", event, "error", err)
		return
	}
	data = append(data, '\n')

	l.mu.Lock()
	_, werr := l.f.Write(data)
	if werr != nil {
		_, werr = l.f.Write(data)
	}
	l.mu.Unlock()

	if werr != nil {
		slog.Warn("event log: write failed", "event", event, "error", werr)
		select {
		case l.errs <- Record{TS: l.now().UTC(), RunID: runID, Event: "ERROR", Fields: map[string]interface{}{"write_error": werr.Error(), "dropped": event}}:
		default:
		}
	}

	if l.pub != nil {
		payload := map[string]interface{}{"run_id": runID}
		for k, v := range fields {
			payload[k] = v
		}
		l.pub.Broadcast(bus.Event{Name: event, Payload: payload})
	}
}

// Errors exposes write failures for callers that want to display them.
func (l *Log) Errors() <-chan Record { return l.errs }

// Path returns the log file location.
func (l *Log) Path() string { return l.path }

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// RunLog binds a Log to one run ID so pipeline code emits without carrying
// the ID around.
type RunLog struct {
	log   *Log
	runID string
}

func NewRunLog(l *Log, runID string) *RunLog {
	return &RunLog{log: l, runID: runID}
}

func (r *RunLog) Emit(event string, fields map[string]interface{}) {
	r.log.Emit(r.runID, event, fields)
}

func (r *RunLog) RunID() string { return r.runID }

// Read parses an event log file. Lines that fail to parse (including a
// partial last line from a live writer) are skipped.
func Read(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	var out []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var raw map[string]interface{}
		if err := json.Unmarshal(line, &raw); err != nil {
			continue
		}
		rec := Record{Fields: raw}
		if s, ok := raw["ts"].(string); ok {
			if ts, err := time.Parse(time.RFC3339, s); err == nil {
				rec.TS = ts
			}
		}
		rec.RunID, _ = raw["run_id"].(string)
		rec.Event, _ = raw["event"].(string)
		delete(rec.Fields, "ts")
		delete(rec.Fields, "run_id")
		delete(rec.Fields, "event")
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("scan event log: %w", err)
	}
	return out, nil
}

// LastRun returns the records belonging to the most recent run in the file.
func LastRun(path string) ([]Record, error) {
	all, err := Read(path)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}
	last := all[len(all)-1].RunID
	var out []Record
	for _, r := range all {
		if r.RunID == last {
			out = append(out, r)
		}
	}
	return out, nil
}
