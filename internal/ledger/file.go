package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// runFile is the on-disk layout: one JSON file per run.
type runFile struct {
	Run    Run        `json:"run"`
	Stages []StageRow `json:"stages,omitempty"`
}

// FileStore keeps the ledger as <dir>/<runID>.json files. Stage listings are
// served from an LRU cache that RecordStage invalidates.
type FileStore struct {
	dir string

	mu    sync.Mutex
	cache *lru.Cache[string, []StageRow]
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("ledger: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ledger: create %s: %w", dir, err)
	}
	cache, err := lru.New[string, []StageRow](128)
	if err != nil {
		return nil, err
	}
	return &FileStore{dir: dir, cache: cache}, nil
}

func (s *FileStore) path(runID string) string {
	// run IDs are uuids, but never trust them as path components
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, runID)
	return filepath.Join(s.dir, safe+".json")
}

func (s *FileStore) loadLocked(runID string) (runFile, error) {
	raw, err := os.ReadFile(s.path(runID))
	if os.IsNotExist(err) {
		return runFile{}, ErrNotFound
	}
	if err != nil {
		return runFile{}, err
	}
	var rf runFile
	if err := json.Unmarshal(raw, &rf); err != nil {
		return runFile{}, fmt.Errorf("ledger: decode %s: %w", runID, err)
	}
	return rf, nil
}

func (s *FileStore) saveLocked(runID string, rf runFile) error {
	raw, err := json.MarshalIndent(rf, "", "  ")
	if err != nil {
		return err
	}
	p := s.path(runID)
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

func (s *FileStore) RecordRun(_ context.Context, r Run) error {
	if r.RunID == "" {
		return fmt.Errorf("ledger: run without id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rf, err := s.loadLocked(r.RunID)
	if err != nil && err != ErrNotFound {
		return err
	}
	// a final status update must not erase the recorded start time
	if r.StartedAt.IsZero() {
		r.StartedAt = rf.Run.StartedAt
	}
	rf.Run = r
	return s.saveLocked(r.RunID, rf)
}

func (s *FileStore) RecordStage(_ context.Context, row StageRow) error {
	if row.RunID == "" {
		return fmt.Errorf("ledger: stage row without run id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rf, err := s.loadLocked(row.RunID)
	if err != nil && err != ErrNotFound {
		return err
	}
	if rf.Run.RunID == "" {
		rf.Run = Run{RunID: row.RunID, Status: StatusRunning}
	}
	replaced := false
	for i := range rf.Stages {
		if rf.Stages[i].Stage == row.Stage {
			rf.Stages[i] = row
			replaced = true
			break
		}
	}
	if !replaced {
		rf.Stages = append(rf.Stages, row)
		sort.Slice(rf.Stages, func(i, j int) bool { return rf.Stages[i].Stage < rf.Stages[j].Stage })
	}
	s.cache.Remove(row.RunID)
	return s.saveLocked(row.RunID, rf)
}

func (s *FileStore) Runs(_ context.Context) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []Run
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		var rf runFile
		if err := json.Unmarshal(raw, &rf); err != nil {
			continue // a torn write must not take the listing down
		}
		out = append(out, rf.Run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (s *FileStore) Stages(_ context.Context, runID string) ([]StageRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rows, ok := s.cache.Get(runID); ok {
		return append([]StageRow(nil), rows...), nil
	}
	rf, err := s.loadLocked(runID)
	if err != nil {
		return nil, err
	}
	s.cache.Add(runID, rf.Stages)
	return append([]StageRow(nil), rf.Stages...), nil
}

func (s *FileStore) Close() error { return nil }

var _ Store = (*FileStore)(nil)
