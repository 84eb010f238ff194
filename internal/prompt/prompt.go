// Package prompt loads the persona prompt and assembles generation
// inputs under a fixed role-tag template.
package prompt

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/vkarpenko/salesbot/pkg/models"
)

// DefaultPersona is used when the persona file is missing or unreadable.
// A broken persona file must never fail initialization.
const DefaultPersona = "You are a sales department assistant. Answer customer questions about our products and services using the provided context."

// Template is the fixed generation input shape. The context section is
// always present, even when empty, so the model sees a stable layout.
const template = `<|im_start|>system
%s
<|im_end|>
<|im_start|>user
Context:
%s

Question: %s
<|im_end|>
<|im_start|>assistant
`

// Loader memoizes persona text per path so repeated lookups do not hit
// the filesystem.
type Loader struct {
	mu    sync.Mutex
	cache map[string]string
}

// NewLoader creates an empty persona cache.
func NewLoader() *Loader {
	return &Loader{cache: make(map[string]string)}
}

// Persona returns the persona text for path, falling back to
// DefaultPersona on any read error. The result is cached.
func (l *Loader) Persona(path string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.cache[path]; ok {
		return p
	}
	p := DefaultPersona
	b, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("persona file unreadable, using default persona")
	} else if s := strings.TrimSpace(string(b)); s != "" {
		p = s
	}
	l.cache[path] = p
	return p
}

// Build assembles the generation input from the persona, the retrieved
// chunks (kept in retrieval order, joined by blank lines) and the
// question. Chunks are never mutated or re-sorted here.
func Build(persona string, contextChunks []models.Chunk, question string) string {
	parts := make([]string, 0, len(contextChunks))
	for _, ch := range contextChunks {
		parts = append(parts, ch.Text)
	}
	return fmt.Sprintf(template, persona, strings.Join(parts, "\n\n"), question)
}
