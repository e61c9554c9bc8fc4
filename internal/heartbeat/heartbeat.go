// Package heartbeat provides liveness detection for long-running capq
// processes (runs with --serve and remote workers).
package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Status represents the liveness state of a process.
type Status string

const (
	StatusAlive Status = "alive"
	StatusStale Status = "stale"
	StatusDead  Status = "dead"
)

const fileSuffix = ".heartbeat.json"

// DefaultInterval is used when NewWriter is given a non-positive interval.
const DefaultInterval = 30 * time.Second

// Info identifies the process writing the heartbeat.
type Info struct {
	Role    string `json:"role"`              // "run", "worker"
	Address string `json:"address,omitempty"` // gateway listen address, if any
	Backend string `json:"backend,omitempty"`
}

// Heartbeat is the data written to the heartbeat file.
type Heartbeat struct {
	Info
	PID       int             `json:"pid"`
	StartedAt time.Time       `json:"started_at"`
	Timestamp time.Time       `json:"timestamp"`
	Uptime    string          `json:"uptime"`
	Stats     json.RawMessage `json:"stats,omitempty"`
}

// Writer periodically writes a heartbeat file to disk.
type Writer struct {
	path     string
	info     Info
	interval time.Duration
	stats    func() any
	started  time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Path returns the heartbeat file of role inside dir.
func Path(dir, role string) string {
	return filepath.Join(dir, role+fileSuffix)
}

// NewWriter creates a heartbeat writer that writes to path every interval.
func NewWriter(path string, info Info, interval time.Duration) *Writer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Writer{
		path:     path,
		info:     info,
		interval: interval,
	}
}

// WithStats embeds the JSON encoding of fn() in every heartbeat.
// It must be called before Start.
func (w *Writer) WithStats(fn func() any) *Writer {
	w.stats = fn
	return w
}

// Start begins writing heartbeat files in a background goroutine.
func (w *Writer) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return // already running
	}

	w.started = time.Now()
	w.done = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.write()

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				w.write()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops writing and removes the heartbeat file.
func (w *Writer) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel == nil {
		return
	}

	w.cancel()
	<-w.done
	w.cancel = nil

	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("remove heartbeat", "path", w.path, "error", err)
	}
}

func (w *Writer) write() {
	hb := Heartbeat{
		Info:      w.info,
		PID:       os.Getpid(),
		StartedAt: w.started,
		Timestamp: time.Now(),
		Uptime:    time.Since(w.started).Truncate(time.Second).String(),
	}
	if w.stats != nil {
		if raw, err := json.Marshal(w.stats()); err == nil {
			hb.Stats = raw
		}
	}

	data, err := json.MarshalIndent(hb, "", "  ")
	if err != nil {
		slog.Warn("marshal heartbeat", "error", err)
		return
	}

	// Atomic write: tmp + rename
	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		slog.Warn("write heartbeat", "path", w.path, "error", err)
		return
	}
	if err := os.Rename(tmp, w.path); err != nil {
		slog.Warn("write heartbeat", "path", w.path, "error", err)
	}
}

// Check reads a heartbeat file and returns the liveness status.
// maxAge determines how old a heartbeat can be before it's considered stale.
func Check(path string, maxAge time.Duration) (Status, *Heartbeat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return StatusDead, nil, nil
		}
		return StatusDead, nil, fmt.Errorf("read heartbeat: %w", err)
	}

	var hb Heartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		return StatusDead, nil, fmt.Errorf("unmarshal heartbeat: %w", err)
	}

	age := time.Since(hb.Timestamp)
	if age > maxAge {
		return StatusStale, &hb, nil
	}

	return StatusAlive, &hb, nil
}

// Entry is one heartbeat file found by Scan.
type Entry struct {
	Path      string
	Status    Status
	Heartbeat *Heartbeat
	Err       error
}

// Scan checks every heartbeat file in dir, sorted by path.
func Scan(dir string, maxAge time.Duration) ([]Entry, error) {
	matches, err := doublestar.Glob(os.DirFS(dir), "*"+fileSuffix)
	if err != nil {
		return nil, fmt.Errorf("scan heartbeats: %w", err)
	}
	slices.Sort(matches)

	entries := make([]Entry, 0, len(matches))
	for _, m := range matches {
		if strings.HasSuffix(m, ".tmp") {
			continue
		}
		path := filepath.Join(dir, m)
		status, hb, err := Check(path, maxAge)
		entries = append(entries, Entry{Path: path, Status: status, Heartbeat: hb, Err: err})
	}
	return entries, nil
}
