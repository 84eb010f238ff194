// Package index builds, persists and queries the semantic index over
// corpus chunk embeddings.
package index

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/vkarpenko/salesbot/pkg/models"
)

// Embedder computes a fixed-dimension vector for a text. Embeddings are
// deterministic for a pinned model, which is what makes a persisted
// index reusable across restarts.
type Embedder interface {
	Embed(text string) ([]float32, error)
	Dim() int
}

// Entry is one indexed chunk. Entries are created at build time and
// read-only afterwards; a rebuild replaces the whole set atomically.
type Entry struct {
	ID          string    `json:"id"`
	Embedding   []float32 `json:"embedding"`
	Text        string    `json:"text"`
	Source      string    `json:"source"`
	StartOffset int       `json:"start_offset"`
}

// Store persists index entries. Load must distinguish a missing index
// (ErrNoIndex) from a present-but-invalid one (*LoadError): the first
// triggers a fresh build, the second a rebuild decision by the caller.
type Store interface {
	Load(ctx context.Context) ([]Entry, error)
	Replace(ctx context.Context, entries []Entry) error
}

// BuildError means the index could not be built at all. Individual chunk
// embedding failures are skipped, not fatal; only an empty result is.
type BuildError struct {
	Err error
}

func (e *BuildError) Error() string { return "index build: " + e.Err.Error() }
func (e *BuildError) Unwrap() error { return e.Err }

// LoadError means persisted storage exists but is structurally invalid.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string { return "index load: " + e.Err.Error() }
func (e *LoadError) Unwrap() error { return e.Err }

// ErrNoIndex reports that no persisted index exists at the configured
// location.
var ErrNoIndex = errors.New("no persisted index")

// Index is the in-process view of the semantic index. Entries are
// immutable once Build or Load returns; retrieval is a side-effect-free
// read, so concurrent queries need no locking.
type Index struct {
	embedder Embedder
	store    Store
	entries  []Entry
}

// New creates an Index over the given embedder and persistence backend.
func New(embedder Embedder, store Store) *Index {
	return &Index{embedder: embedder, store: store}
}

// Len returns the number of indexed entries.
func (ix *Index) Len() int { return len(ix.entries) }

// Load reopens a previously persisted index.
func (ix *Index) Load(ctx context.Context) error {
	entries, err := ix.store.Load(ctx)
	if err != nil {
		return err
	}
	ix.entries = entries
	return nil
}

// Build embeds every chunk and replaces the persisted entry set. Chunks
// whose embedding fails are skipped and logged; the build only fails if
// nothing at all could be embedded.
func (ix *Index) Build(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return &BuildError{Err: errors.New("no chunks to index")}
	}
	entries := make([]Entry, 0, len(chunks))
	var lastErr error
	for _, ch := range chunks {
		vec, err := ix.embedder.Embed(ch.Text)
		if err != nil {
			log.Warn().Err(err).Str("source", ch.Source).Int("offset", ch.StartOffset).
				Msg("chunk embedding failed, skipping")
			lastErr = err
			continue
		}
		entries = append(entries, Entry{
			ID:          entryID(ch),
			Embedding:   vec,
			Text:        ch.Text,
			Source:      ch.Source,
			StartOffset: ch.StartOffset,
		})
	}
	if len(entries) == 0 {
		if lastErr == nil {
			lastErr = errors.New("empty corpus")
		}
		return &BuildError{Err: fmt.Errorf("all chunk embeddings failed: %w", lastErr)}
	}
	if err := ix.store.Replace(ctx, entries); err != nil {
		return &BuildError{Err: fmt.Errorf("persisting entries: %w", err)}
	}
	ix.entries = entries
	log.Info().Int("entries", len(entries)).Int("chunks", len(chunks)).Msg("index built")
	return nil
}

// Ensure loads the persisted index and, when it is absent or invalid,
// rebuilds it from the chunk source. An invalid on-disk state is a
// rebuild, not a hard failure.
func (ix *Index) Ensure(ctx context.Context, source func(context.Context) ([]models.Chunk, error)) error {
	err := ix.Load(ctx)
	if err == nil {
		log.Info().Int("entries", ix.Len()).Msg("loaded persisted index")
		return nil
	}

	var le *LoadError
	switch {
	case errors.Is(err, ErrNoIndex):
		log.Info().Msg("no persisted index found, building fresh")
	case errors.As(err, &le):
		log.Warn().Err(err).Msg("persisted index invalid, rebuilding")
	default:
		return err
	}

	chunks, err := source(ctx)
	if err != nil {
		return &BuildError{Err: fmt.Errorf("loading corpus: %w", err)}
	}
	return ix.Build(ctx, chunks)
}

// Retrieve embeds the query and returns the best k chunks. When fetchK
// exceeds k the top fetchK candidates are re-ranked with maximal
// marginal relevance so near-duplicate passages do not crowd out the
// result set; with fetchK <= k it is a plain similarity top-k.
func (ix *Index) Retrieve(ctx context.Context, query string, k, fetchK int) ([]models.SearchResult, error) {
	if len(ix.entries) == 0 {
		return nil, nil
	}
	if k <= 0 {
		k = 3
	}
	if fetchK < k {
		fetchK = k
	}
	qvec, err := ix.embedder.Embed(query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	cand := make([]scored, len(ix.entries))
	for i := range ix.entries {
		cand[i] = scored{idx: i, score: cosine(qvec, ix.entries[i].Embedding)}
	}
	sort.SliceStable(cand, func(i, j int) bool { return cand[i].score > cand[j].score })
	if fetchK > len(cand) {
		fetchK = len(cand)
	}
	cand = cand[:fetchK]
	if k > len(cand) {
		k = len(cand)
	}

	picked := cand[:k]
	if fetchK > k {
		picked = ix.mmr(cand, k)
	}

	out := make([]models.SearchResult, 0, len(picked))
	for _, c := range picked {
		e := ix.entries[c.idx]
		out = append(out, models.SearchResult{
			Chunk: models.Chunk{Text: e.Text, Source: e.Source, StartOffset: e.StartOffset},
			Score: c.score,
		})
	}
	return out, nil
}

type scored struct {
	idx   int
	score float64
}

// mmrLambda balances query relevance against redundancy among already
// selected chunks.
const mmrLambda = 0.5

func (ix *Index) mmr(cand []scored, k int) []scored {
	selected := cand[:0:0]
	remaining := append(cand[:0:0], cand...)
	for len(selected) < k && len(remaining) > 0 {
		best := 0
		bestScore := math.Inf(-1)
		for i, c := range remaining {
			redundancy := 0.0
			for _, s := range selected {
				sim := cosine(ix.entries[c.idx].Embedding, ix.entries[s.idx].Embedding)
				if sim > redundancy {
					redundancy = sim
				}
			}
			score := mmrLambda*c.score - (1-mmrLambda)*redundancy
			if score > bestScore {
				bestScore = score
				best = i
			}
		}
		selected = append(selected, remaining[best])
		remaining = append(remaining[:best], remaining[best+1:]...)
	}
	return selected
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func entryID(ch models.Chunk) string {
	h := sha1.Sum([]byte(ch.Source + "#" + fmt.Sprintf("%d", ch.StartOffset)))
	return hex.EncodeToString(h[:])
}
