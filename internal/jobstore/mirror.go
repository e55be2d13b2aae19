package jobstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Mirror keeps a JSON copy of every job at {dir}/{job_id}.json.
type Mirror struct {
	dir string
}

func NewMirror(dir string) (*Mirror, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mirror dir: %w", err)
	}
	return &Mirror{dir: dir}, nil
}

func (m *Mirror) Dir() string { return m.dir }

func (m *Mirror) path(id string) string {
	return filepath.Join(m.dir, id+".json")
}

// Write replaces the mirrored copy atomically (temp file + rename).
func (m *Mirror) Write(job *Job) error {
	if job == nil || job.ID == "" || strings.ContainsAny(job.ID, `/\`) {
		return errors.New("mirror: invalid job id")
	}
	raw, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("mirror %s: %w", job.ID, err)
	}

	tmp, err := os.CreateTemp(m.dir, "."+job.ID+"-*.tmp")
	if err != nil {
		return fmt.Errorf("mirror %s: %w", job.ID, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("mirror %s: write: %w", job.ID, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("mirror %s: sync: %w", job.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("mirror %s: close: %w", job.ID, err)
	}
	if err := os.Rename(tmpName, m.path(job.ID)); err != nil {
		return fmt.Errorf("mirror %s: rename: %w", job.ID, err)
	}
	return nil
}

// Load returns nil, nil when no copy exists.
func (m *Mirror) Load(id string) (*Job, error) {
	raw, err := os.ReadFile(m.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeJob(raw)
}

// All decodes every mirrored record, sorted by job id.
// Files that fail to decode are reported in bad and otherwise ignored.
func (m *Mirror) All() (jobs []*Job, bad []string, err error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(m.dir, name))
		if err != nil {
			bad = append(bad, name)
			continue
		}
		job, err := decodeJob(raw)
		if err != nil || job.ID == "" {
			bad = append(bad, name)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, bad, nil
}
