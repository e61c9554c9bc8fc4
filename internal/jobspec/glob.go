package jobspec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/dohr-michael/capq/internal/resources"
	"github.com/dohr-michael/capq/internal/tasks"
)

// taskFile is a file holding only a tasks section.
type taskFile struct {
	Tasks []TaskSpec `yaml:"tasks"`
}

// GlobProducer emits one batch per file matching pattern, in sorted order.
// Files carry only a tasks section, resolved against caps. Files without
// tasks are skipped.
type GlobProducer struct {
	pattern string
	caps    map[string]resources.Capability

	mu    sync.Mutex
	files []string
	done  int
	init  bool
}

// NewGlobProducer matches lazily, on the first call to Next.
func NewGlobProducer(pattern string, caps map[string]resources.Capability) *GlobProducer {
	return &GlobProducer{pattern: pattern, caps: caps}
}

// Next reads the next matching file.
func (g *GlobProducer) Next(ctx context.Context) ([]*tasks.Task, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.init {
		matches, err := doublestar.FilepathGlob(g.pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", g.pattern, err)
		}
		slices.Sort(matches)
		g.files, g.init = matches, true
		if len(matches) == 0 {
			slog.Warn("no task files matched", "pattern", g.pattern)
		}
	}

	for g.done < len(g.files) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := g.files[g.done]
		g.done++

		batch, err := g.load(path)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			continue
		}
		slog.Debug("task file loaded", "path", path, "tasks", len(batch))
		return batch, nil
	}
	return nil, tasks.ErrExhausted
}

func (g *GlobProducer) load(path string) ([]*tasks.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task file: %w", err)
	}
	var tf taskFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&tf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s: parse: %w", path, err)
	}
	batch, err := expandTasks(g.caps, tf.Tasks)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return batch, nil
}
