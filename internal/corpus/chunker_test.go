package corpus

import (
	"reflect"
	"strings"
	"testing"

	"github.com/vkarpenko/salesbot/pkg/models"
)

func TestSplitter_Reconstruction(t *testing.T) {
	// Concatenating chunks minus their overlaps must reproduce the
	// original text for any overlap < chunk size.
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 120)

	tests := []struct {
		name      string
		chunkSize int
		overlap   int
	}{
		{"default", 1000, 200},
		{"small chunks", 100, 20},
		{"no overlap", 250, 0},
		{"heavy overlap", 300, 250},
		{"chunk larger than doc", 100000, 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSplitter(tt.chunkSize, tt.overlap)
			chunks := s.Split([]models.Document{{Source: "a.txt", Content: text}})
			if len(chunks) == 0 {
				t.Fatal("expected at least one chunk")
			}

			var sb strings.Builder
			for i, ch := range chunks {
				r := []rune(ch.Text)
				if len(r) > tt.chunkSize {
					t.Errorf("chunk %d has %d runes, max %d", i, len(r), tt.chunkSize)
				}
				if i == 0 {
					sb.WriteString(ch.Text)
				} else {
					sb.WriteString(string(r[tt.overlap:]))
				}
			}
			if sb.String() != text {
				t.Errorf("reconstruction mismatch: got %d runes, want %d", len(sb.String()), len(text))
			}
		})
	}
}

func TestSplitter_OverlapInvariant(t *testing.T) {
	text := strings.Repeat("abcdefghij", 50)
	s := NewSplitter(100, 30)
	chunks := s.Split([]models.Document{{Source: "a.txt", Content: text}})

	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1].Text)
		cur := []rune(chunks[i].Text)
		tail := string(prev[len(prev)-30:])
		head := string(cur[:30])
		if tail != head {
			t.Errorf("chunk %d does not overlap its predecessor by 30 runes", i)
		}
	}
}

func TestSplitter_StartOffsets(t *testing.T) {
	text := strings.Repeat("x", 250)
	s := NewSplitter(100, 20)
	chunks := s.Split([]models.Document{{Source: "a.txt", Content: text}})

	runes := []rune(text)
	for i, ch := range chunks {
		want := string(runes[ch.StartOffset : ch.StartOffset+len([]rune(ch.Text))])
		if ch.Text != want {
			t.Errorf("chunk %d start offset %d does not match document text", i, ch.StartOffset)
		}
	}
}

func TestSplitter_EmptyDocument(t *testing.T) {
	s := NewSplitter(1000, 200)
	chunks := s.Split([]models.Document{{Source: "empty.txt", Content: ""}})
	if len(chunks) != 0 {
		t.Errorf("expected zero chunks for an empty document, got %d", len(chunks))
	}
}

func TestSplitter_Deterministic(t *testing.T) {
	docs := []models.Document{
		{Source: "a.txt", Content: strings.Repeat("alpha beta gamma ", 200)},
		{Source: "b.md", Content: strings.Repeat("один два три ", 150)},
	}
	s := NewSplitter(400, 100)
	first := s.Split(docs)
	second := s.Split(docs)
	if !reflect.DeepEqual(first, second) {
		t.Error("splitting the same input twice produced different chunk sequences")
	}
}

func TestSplitter_MultiByteRunes(t *testing.T) {
	// Offsets are in runes, so Cyrillic text must not split mid-character.
	text := strings.Repeat("привет мир ", 100)
	s := NewSplitter(64, 16)
	chunks := s.Split([]models.Document{{Source: "ru.txt", Content: text}})
	for i, ch := range chunks {
		if !strings.HasPrefix(text[len(string([]rune(text)[:ch.StartOffset])):], ch.Text) {
			t.Errorf("chunk %d text does not align with its rune offset", i)
		}
	}
}

func TestNewSplitter_Clamps(t *testing.T) {
	s := NewSplitter(100, 100)
	if s.Overlap >= s.ChunkSize {
		t.Errorf("overlap %d not clamped below chunk size %d", s.Overlap, s.ChunkSize)
	}
	s = NewSplitter(0, -5)
	if s.ChunkSize <= 0 || s.Overlap < 0 {
		t.Errorf("invalid parameters not clamped: size=%d overlap=%d", s.ChunkSize, s.Overlap)
	}
}
