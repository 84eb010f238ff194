package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

const manifestVersion = 1

// manifest describes a persisted index directory. It is checked on load
// so a corrupt or incompatible directory triggers a rebuild instead of
// serving garbage.
type manifest struct {
	Version    int       `json:"version"`
	EmbedModel string    `json:"embed_model"`
	Dim        int       `json:"dim"`
	Count      int       `json:"count"`
	CreatedAt  time.Time `json:"created_at"`
}

// DiskStore persists index entries as JSON files in a directory:
// manifest.json plus entries.json. Replace writes to temp files and
// renames, so a reader never observes a half-written index.
type DiskStore struct {
	Dir        string
	EmbedModel string
	Dim        int
}

// NewDiskStore creates a DiskStore rooted at dir.
func NewDiskStore(dir, embedModel string, dim int) *DiskStore {
	return &DiskStore{Dir: dir, EmbedModel: embedModel, Dim: dim}
}

func (s *DiskStore) manifestPath() string { return filepath.Join(s.Dir, "manifest.json") }
func (s *DiskStore) entriesPath() string  { return filepath.Join(s.Dir, "entries.json") }

// Load reads and validates the persisted index.
func (s *DiskStore) Load(ctx context.Context) ([]Entry, error) {
	mb, err := os.ReadFile(s.manifestPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoIndex
		}
		return nil, &LoadError{Err: fmt.Errorf("reading manifest: %w", err)}
	}

	var m manifest
	if err := json.Unmarshal(mb, &m); err != nil {
		return nil, &LoadError{Err: fmt.Errorf("parsing manifest: %w", err)}
	}
	if m.Version != manifestVersion {
		return nil, &LoadError{Err: fmt.Errorf("unsupported index version %d", m.Version)}
	}
	if s.EmbedModel != "" && m.EmbedModel != s.EmbedModel {
		return nil, &LoadError{Err: fmt.Errorf("index built with model %q, want %q", m.EmbedModel, s.EmbedModel)}
	}

	eb, err := os.ReadFile(s.entriesPath())
	if err != nil {
		return nil, &LoadError{Err: fmt.Errorf("reading entries: %w", err)}
	}
	var entries []Entry
	if err := json.Unmarshal(eb, &entries); err != nil {
		return nil, &LoadError{Err: fmt.Errorf("parsing entries: %w", err)}
	}
	if len(entries) != m.Count {
		return nil, &LoadError{Err: fmt.Errorf("manifest count %d != entry count %d", m.Count, len(entries))}
	}
	for i, e := range entries {
		if len(e.Embedding) != m.Dim {
			return nil, &LoadError{Err: fmt.Errorf("entry %d has dim %d, manifest says %d", i, len(e.Embedding), m.Dim)}
		}
	}
	return entries, nil
}

// Replace atomically swaps the persisted entry set. The manifest is
// written last so a crash mid-write leaves a load-invalid (rebuildable)
// directory, never a silently partial one.
func (s *DiskStore) Replace(ctx context.Context, entries []Entry) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("creating index dir: %w", err)
	}

	dim := s.Dim
	if dim == 0 && len(entries) > 0 {
		dim = len(entries[0].Embedding)
	}
	m := manifest{
		Version:    manifestVersion,
		EmbedModel: s.EmbedModel,
		Dim:        dim,
		Count:      len(entries),
		CreatedAt:  time.Now().UTC(),
	}

	if err := writeJSON(s.entriesPath(), entries); err != nil {
		return fmt.Errorf("writing entries: %w", err)
	}
	if err := writeJSON(s.manifestPath(), m); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
