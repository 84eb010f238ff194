package index

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func testEntries() []Entry {
	return []Entry{
		{ID: "a", Embedding: []float32{1, 0, 0}, Text: "alpha", Source: "a.txt", StartOffset: 0},
		{ID: "b", Embedding: []float32{0, 1, 0}, Text: "beta", Source: "a.txt", StartOffset: 800},
	}
}

func TestDiskStore_RoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index_db")
	st := NewDiskStore(dir, "test-embed", 3)

	if err := st.Replace(context.Background(), testEntries()); err != nil {
		t.Fatalf("Replace() error: %v", err)
	}
	got, err := st.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !reflect.DeepEqual(got, testEntries()) {
		t.Errorf("Load() = %+v, want %+v", got, testEntries())
	}
}

func TestDiskStore_AbsentIsNoIndex(t *testing.T) {
	st := NewDiskStore(filepath.Join(t.TempDir(), "never_created"), "m", 3)
	_, err := st.Load(context.Background())
	if !errors.Is(err, ErrNoIndex) {
		t.Errorf("Load() error = %v, want ErrNoIndex", err)
	}
}

func TestDiskStore_CorruptIsLoadError(t *testing.T) {
	writeManifest := func(t *testing.T, dir string, m manifest) {
		t.Helper()
		b, _ := json.Marshal(m)
		if err := os.WriteFile(filepath.Join(dir, "manifest.json"), b, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name    string
		corrupt func(t *testing.T, dir string)
	}{
		{
			name: "manifest is not json",
			corrupt: func(t *testing.T, dir string) {
				if err := os.WriteFile(filepath.Join(dir, "manifest.json"), []byte("{not json"), 0o644); err != nil {
					t.Fatal(err)
				}
			},
		},
		{
			name: "unsupported version",
			corrupt: func(t *testing.T, dir string) {
				writeManifest(t, dir, manifest{Version: 99, EmbedModel: "m", Dim: 3, Count: 2})
			},
		},
		{
			name: "embedding model changed",
			corrupt: func(t *testing.T, dir string) {
				writeManifest(t, dir, manifest{Version: manifestVersion, EmbedModel: "other-model", Dim: 3, Count: 2})
			},
		},
		{
			name: "entries file missing",
			corrupt: func(t *testing.T, dir string) {
				if err := os.Remove(filepath.Join(dir, "entries.json")); err != nil {
					t.Fatal(err)
				}
			},
		},
		{
			name: "entry count mismatch",
			corrupt: func(t *testing.T, dir string) {
				writeManifest(t, dir, manifest{Version: manifestVersion, EmbedModel: "m", Dim: 3, Count: 7})
			},
		},
		{
			name: "dimension mismatch",
			corrupt: func(t *testing.T, dir string) {
				writeManifest(t, dir, manifest{Version: manifestVersion, EmbedModel: "m", Dim: 5, Count: 2})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "index_db")
			st := NewDiskStore(dir, "m", 3)
			if err := st.Replace(context.Background(), testEntries()); err != nil {
				t.Fatalf("Replace() error: %v", err)
			}
			tt.corrupt(t, dir)

			_, err := st.Load(context.Background())
			var le *LoadError
			if !errors.As(err, &le) {
				t.Errorf("Load() error = %v, want *LoadError", err)
			}
		})
	}
}

func TestDiskStore_ReplaceOverwrites(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index_db")
	st := NewDiskStore(dir, "m", 3)

	if err := st.Replace(context.Background(), testEntries()); err != nil {
		t.Fatalf("first Replace() error: %v", err)
	}
	second := []Entry{{ID: "c", Embedding: []float32{0, 0, 1}, Text: "gamma", Source: "b.txt"}}
	if err := st.Replace(context.Background(), second); err != nil {
		t.Fatalf("second Replace() error: %v", err)
	}

	got, err := st.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "c" {
		t.Errorf("Load() after replace = %+v, want only entry c", got)
	}
}
