package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/arka-squad/arka-labs-sub000/pkg/models"
	"github.com/google/uuid"
)

// FileStore keeps logs and results under a root directory.
type FileStore struct {
	root string
	mu   sync.Mutex
}

func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

func (s *FileStore) path(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

func (s *FileStore) Append(_ context.Context, jobID uuid.UUID, ev models.LogEvent) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding log event: %w", err)
	}
	line = append(line, '\n')

	p := s.path(logPath(jobID))
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("creating log dir: %w", err)
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("appending log: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing log: %w", err)
	}
	return f.Close()
}

func (s *FileStore) ReadLog(_ context.Context, jobID uuid.UUID) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path(logPath(jobID)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// WriteResult writes through a temp file and rename so readers never see a partial document.
func (s *FileStore) WriteResult(_ context.Context, res *models.JobResult) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	p := s.path(resultPath(res.JobID))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("creating result dir: %w", err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing result: %w", err)
	}
	return os.Rename(tmp, p)
}

func (s *FileStore) ReadResult(_ context.Context, jobID uuid.UUID) (*models.JobResult, error) {
	data, err := os.ReadFile(s.path(resultPath(jobID)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var res models.JobResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decoding result: %w", err)
	}
	return &res, nil
}
