package corpus

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/encoding/charmap"

	"github.com/vkarpenko/salesbot/pkg/models"
)

// FileSystemWalker defines the interface for walking directories
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// FileReader defines the interface for reading files
type FileReader interface {
	ReadFile(filename string) ([]byte, error)
}

// DefaultFileSystemWalker implements FileSystemWalker using godirwalk
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// DefaultFileReader implements FileReader using os
type DefaultFileReader struct{}

func (d *DefaultFileReader) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

// Loader reads a directory of plain-text/markdown files, one Document
// per file. Files that cannot be decoded under any known encoding are
// skipped with a warning rather than failing the whole load.
type Loader struct {
	Dir        string
	Walker     FileSystemWalker
	FileReader FileReader
}

// NewLoader creates a Loader over the given corpus directory.
func NewLoader(dir string) *Loader {
	return &Loader{
		Dir:        dir,
		Walker:     &DefaultFileSystemWalker{},
		FileReader: &DefaultFileReader{},
	}
}

// Load walks the corpus directory and returns all readable documents in
// walk order.
func (l *Loader) Load() ([]models.Document, error) {
	var docs []models.Document
	err := l.Walker.Walk(l.Dir, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de != nil && de.IsDir() {
				return nil
			}
			switch strings.ToLower(filepath.Ext(path)) {
			case ".txt", ".md":
			default:
				return nil
			}
			b, err := l.FileReader.ReadFile(path)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("failed to read corpus file")
				return nil
			}
			if len(b) == 0 {
				log.Debug().Str("path", path).Msg("skipping empty corpus file")
				return nil
			}
			text, enc, err := decodeText(b)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("skipping undecodable corpus file")
				return nil
			}
			if enc != "utf-8" {
				log.Info().Str("path", path).Str("encoding", enc).Msg("decoded corpus file with fallback encoding")
			}
			name := filepath.Base(path)
			docs = append(docs, models.Document{
				Source:  name,
				Content: text,
				Meta: map[string]string{
					"source": name,
					"size":   fmt.Sprintf("%d", len(text)),
				},
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("walking corpus dir %s: %w", l.Dir, err)
	}
	return docs, nil
}

// decodeText tries UTF-8 first, then cp1251, then latin-1. The Cyrillic
// fallback matters because legacy corpus exports are often cp1251.
func decodeText(b []byte) (string, string, error) {
	if utf8.Valid(b) {
		return string(b), "utf-8", nil
	}
	if s, err := charmap.Windows1251.NewDecoder().Bytes(b); err == nil {
		return string(s), "cp1251", nil
	}
	if s, err := charmap.ISO8859_1.NewDecoder().Bytes(b); err == nil {
		return string(s), "latin-1", nil
	}
	return "", "", fmt.Errorf("no known encoding matches")
}
