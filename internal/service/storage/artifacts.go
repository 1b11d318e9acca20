package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mosquitoserver/internal/apperr"
	"mosquitoserver/internal/config"
	"mosquitoserver/internal/logger"
)

// Job holds the files that belong to one detection request.
type Job struct {
	ID        string
	Dir       string
	Artifact  string // annotated output offered for download
	CreatedAt time.Time
}

// ArtifactStore keeps one directory per job under the work directory and
// removes jobs once they are older than the configured TTL.
type ArtifactStore struct {
	root   string
	ttl    time.Duration
	jobs   map[string]*Job
	mu     sync.Mutex
	logger *logger.Logger
	now    func() time.Time
}

// NewArtifactStore creates the store rooted at config.WorkDirectory.
func NewArtifactStore(config *config.Config, logger *logger.Logger) *ArtifactStore {
	return &ArtifactStore{
		root:   config.WorkDirectory,
		ttl:    config.ArtifactTTL,
		jobs:   make(map[string]*Job),
		logger: logger,
		now:    time.Now,
	}
}

// Run sweeps expired jobs every interval until ctx is cancelled.
func (s *ArtifactStore) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Create makes an empty directory for a new job.
func (s *ArtifactStore) Create(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; exists {
		return nil, fmt.Errorf("job %s already exists", id)
	}

	dir := filepath.Join(s.root, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create job directory: %w", err)
	}

	job := &Job{ID: id, Dir: dir, CreatedAt: s.now()}
	s.jobs[id] = job
	return job, nil
}

// Save copies r into the job directory under name and returns the file path.
func (s *ArtifactStore) Save(id, name string, r io.Reader) (string, error) {
	job, err := s.get(id)
	if err != nil {
		return "", err
	}

	path := filepath.Join(job.Dir, filepath.Base(name))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", path, err)
	}
	return path, nil
}

// Register records the downloadable artifact of a job.
func (s *ArtifactStore) Register(id, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: job %s", apperr.ErrNotFound, id)
	}
	job.Artifact = path
	return nil
}

// Lookup returns the artifact path for a job.
func (s *ArtifactStore) Lookup(id string) (string, error) {
	job, err := s.get(id)
	if err != nil {
		return "", err
	}
	if job.Artifact == "" {
		return "", fmt.Errorf("%w: job %s has no artifact yet", apperr.ErrNotFound, id)
	}
	if _, err := os.Stat(job.Artifact); err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrNotFound, err)
	}
	return job.Artifact, nil
}

// Remove deletes a job and its files. A directory left by an earlier process
// is removed too, even though this process never registered it.
func (s *ArtifactStore) Remove(id string) error {
	s.mu.Lock()
	job, ok := s.jobs[id]
	delete(s.jobs, id)
	s.mu.Unlock()

	if ok {
		return os.RemoveAll(job.Dir)
	}

	dir, err := s.orphanDir(id)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// orphanDir resolves id to an existing directory directly under root.
func (s *ArtifactStore) orphanDir(id string) (string, error) {
	if id == "" || id == "." || id == ".." || filepath.Base(id) != id {
		return "", fmt.Errorf("%w: job %s", apperr.ErrNotFound, id)
	}
	dir := filepath.Join(s.root, id)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: job %s", apperr.ErrNotFound, id)
	}
	return dir, nil
}

// Sweep removes every job older than the TTL and returns how many were removed.
// Directories under root that no live job owns are aged by their mtime, so
// jobs from a previous run are collected as well.
func (s *ArtifactStore) Sweep() int {
	s.mu.Lock()
	var expired []string
	cutoff := s.now().Add(-s.ttl)
	owned := make(map[string]bool, len(s.jobs))
	for id, job := range s.jobs {
		owned[filepath.Clean(job.Dir)] = true
		if job.CreatedAt.Before(cutoff) {
			expired = append(expired, job.Dir)
			delete(s.jobs, id)
		}
	}
	s.mu.Unlock()

	entries, err := os.ReadDir(s.root)
	if err != nil && !os.IsNotExist(err) {
		s.logger.Error("Error scanning work directory %s: %v", s.root, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(s.root, entry.Name())
		if owned[filepath.Clean(dir)] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			expired = append(expired, dir)
		}
	}

	removed := 0
	for _, dir := range expired {
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Error("Error removing expired job directory %s: %v", dir, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("Removed %d expired job directories", removed)
	}
	return removed
}

// Len reports the number of live jobs.
func (s *ArtifactStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func (s *ArtifactStore) get(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", apperr.ErrNotFound, id)
	}
	copied := *job
	return &copied, nil
}
