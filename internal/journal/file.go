package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dohr-michael/capq/internal/storage/dirstore"
	"github.com/dohr-michael/capq/internal/tasks"
)

const resultsFile = "results.jsonl"

// FileStore keeps each run in its own directory: meta.json for the run and
// results.jsonl for its entries.
type FileStore struct {
	ds *dirstore.DirStore
}

// NewFileStore creates a FileStore rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{ds: dirstore.NewDirStore(dir, "run")}
}

func (s *FileStore) BeginRun(_ context.Context, run Run) error {
	s.ds.Lock()
	defer s.ds.Unlock()

	if s.ds.Exists(run.ID) {
		return fmt.Errorf("begin run %s: already exists", run.ID)
	}
	if err := s.ds.EnsureDir(run.ID); err != nil {
		return err
	}
	return s.ds.WriteMeta(run.ID, run)
}

func (s *FileStore) Record(_ context.Context, runID string, r tasks.Result) error {
	s.ds.Lock()
	defer s.ds.Unlock()

	if !s.ds.Exists(runID) {
		return fmt.Errorf("record %s: %w", runID, ErrRunNotFound)
	}
	return s.ds.AppendJSONL(runID, resultsFile, NewEntry(r))
}

func (s *FileStore) FinishRun(_ context.Context, runID string, sum Summary) error {
	s.ds.Lock()
	defer s.ds.Unlock()

	var run Run
	if err := s.ds.ReadMeta(runID, &run); err != nil {
		return wrapNotFound(runID, err)
	}
	now := time.Now()
	run.FinishedAt = &now
	run.Summary = sum
	return s.ds.WriteMeta(runID, run)
}

func (s *FileStore) Runs(context.Context) ([]Run, error) {
	s.ds.RLock()
	defer s.ds.RUnlock()

	ids, err := s.ds.ListDirs()
	if err != nil {
		return nil, err
	}
	runs := make([]Run, 0, len(ids))
	for _, id := range ids {
		var run Run
		if err := s.ds.ReadMeta(id, &run); err != nil {
			if errors.Is(err, dirstore.ErrNotFound) {
				continue
			}
			return nil, err
		}
		runs = append(runs, run)
	}
	sortNewestFirst(runs)
	return runs, nil
}

func (s *FileStore) Entries(_ context.Context, runID string) ([]Entry, error) {
	s.ds.RLock()
	defer s.ds.RUnlock()

	if !s.ds.Exists(runID) {
		return nil, fmt.Errorf("entries %s: %w", runID, ErrRunNotFound)
	}
	return dirstore.LoadJSONL[Entry](s.ds, runID, resultsFile)
}

func (s *FileStore) Close() error { return nil }

func wrapNotFound(runID string, err error) error {
	if errors.Is(err, dirstore.ErrNotFound) {
		return fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	return err
}
