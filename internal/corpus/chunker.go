package corpus

import (
	"github.com/vkarpenko/salesbot/pkg/models"
)

// Splitter cuts document text into fixed-size overlapping chunks.
// Offsets and sizes are in runes so multi-byte corpora chunk the same
// way regardless of encoding.
type Splitter struct {
	ChunkSize int
	Overlap   int
}

// NewSplitter clamps the parameters to sane values: overlap must stay
// strictly below chunk size or the cursor would never advance.
func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize - 1
	}
	return &Splitter{ChunkSize: chunkSize, Overlap: overlap}
}

// Split chunks every document in order. Empty documents contribute
// nothing. The output is fully determined by the input and parameters.
func (s *Splitter) Split(docs []models.Document) []models.Chunk {
	var chunks []models.Chunk
	for _, d := range docs {
		chunks = append(chunks, s.splitOne(d)...)
	}
	return chunks
}

// splitOne emits chunks of at most ChunkSize runes; each chunk after the
// first repeats the last Overlap runes of its predecessor.
func (s *Splitter) splitOne(doc models.Document) []models.Chunk {
	runes := []rune(doc.Content)
	if len(runes) == 0 {
		return nil
	}
	step := s.ChunkSize - s.Overlap
	var out []models.Chunk
	for start := 0; start < len(runes); start += step {
		end := start + s.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, models.Chunk{
			Text:        string(runes[start:end]),
			Source:      doc.Source,
			StartOffset: start,
		})
		if end == len(runes) {
			break
		}
	}
	return out
}
