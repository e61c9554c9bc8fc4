// Package storage persists bus events alongside recorded runs.
package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/dohr-michael/capq/internal/events"
)

const globalLog = "_global.jsonl"

// EventLogger persists bus events to JSONL files, one file per run.
type EventLogger struct {
	dir         string
	verbose     bool
	mu          sync.Mutex
	unsubscribe func()
}

// NewEventLogger creates an EventLogger that subscribes to all bus events
// and writes them as JSONL to dir. Unless verbose, task.queued and
// task.started are skipped.
func NewEventLogger(dir string, bus *events.Bus, verbose bool) *EventLogger {
	el := &EventLogger{
		dir:     dir,
		verbose: verbose,
	}
	el.unsubscribe = bus.Subscribe(el.handleEvent)
	return el
}

// Close unsubscribes the logger from the event bus.
func (el *EventLogger) Close() {
	if el.unsubscribe != nil {
		el.unsubscribe()
	}
}

func (el *EventLogger) handleEvent(e events.Event) {
	if !el.verbose && (e.Type == events.EventTaskQueued || e.Type == events.EventTaskStarted) {
		return
	}
	if err := el.writeEvent(e); err != nil {
		slog.Warn("persist event", "event_id", e.ID, "type", e.Type, "error", err)
	}
}

func (el *EventLogger) writeEvent(e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	el.mu.Lock()
	defer el.mu.Unlock()

	if err := os.MkdirAll(el.dir, 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(LogPath(el.dir, e.RunID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(data)
	return err
}

// LogPath returns the event log of runID in dir. Events without a run go to
// a shared file.
func LogPath(dir, runID string) string {
	if runID == "" {
		return filepath.Join(dir, globalLog)
	}
	return filepath.Join(dir, runID+".jsonl")
}

// ReadEvents loads the persisted events of runID in write order. A run
// without a log yields no events.
func ReadEvents(dir, runID string) ([]events.Event, error) {
	f, err := os.Open(LogPath(dir, runID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	var out []events.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var e events.Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			slog.Warn("skip malformed event", "run_id", runID, "error", err)
			continue
		}
		out = append(out, e)
	}
	return out, scanner.Err()
}
