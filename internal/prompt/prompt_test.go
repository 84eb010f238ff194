package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vkarpenko/salesbot/pkg/models"
)

func TestBuild(t *testing.T) {
	chunks := []models.Chunk{
		{Text: "Delivery takes 3 days within the city.", Source: "delivery.txt"},
		{Text: "Prices start at ten dollars.", Source: "pricing.txt"},
	}
	got := Build("You are a sales assistant.", chunks, "How long does delivery take?")

	wantOrder := []string{
		"<|im_start|>system",
		"You are a sales assistant.",
		"<|im_end|>",
		"<|im_start|>user",
		"Context:",
		"Delivery takes 3 days within the city.",
		"Prices start at ten dollars.",
		"Question: How long does delivery take?",
		"<|im_start|>assistant",
	}
	pos := -1
	for _, part := range wantOrder {
		i := strings.Index(got, part)
		if i < 0 {
			t.Fatalf("prompt missing %q:\n%s", part, got)
		}
		if i < pos {
			t.Fatalf("prompt section %q out of order:\n%s", part, got)
		}
		pos = i
	}

	// Chunks joined by a blank line, retrieval order preserved.
	if !strings.Contains(got, "Delivery takes 3 days within the city.\n\nPrices start at ten dollars.") {
		t.Error("chunks not joined by a blank line in retrieval order")
	}
}

func TestBuild_EmptyContext(t *testing.T) {
	got := Build("persona", nil, "question?")
	// The context section stays present (template shape is stable), just empty.
	if !strings.Contains(got, "Context:\n\n") {
		t.Errorf("empty context section missing from prompt:\n%s", got)
	}
	if !strings.Contains(got, "Question: question?") {
		t.Error("question missing from prompt")
	}
}

func TestBuild_DoesNotMutateChunks(t *testing.T) {
	chunks := []models.Chunk{{Text: "b"}, {Text: "a"}}
	Build("p", chunks, "q")
	if chunks[0].Text != "b" || chunks[1].Text != "a" {
		t.Error("Build mutated or reordered the chunk slice")
	}
}

func TestLoader_Persona(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "system_prompt.txt")
	if err := os.WriteFile(path, []byte("  You are a test persona.\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewLoader()
	if got := l.Persona(path); got != "You are a test persona." {
		t.Errorf("Persona() = %q", got)
	}

	// Memoized: a later file change must not be observed.
	if err := os.WriteFile(path, []byte("changed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := l.Persona(path); got != "You are a test persona." {
		t.Errorf("Persona() not memoized, got %q", got)
	}
}

func TestLoader_PersonaDefault(t *testing.T) {
	l := NewLoader()

	if got := l.Persona(filepath.Join(t.TempDir(), "missing.txt")); got != DefaultPersona {
		t.Errorf("missing persona file: got %q, want default", got)
	}

	// Blank files also fall back to the default.
	blank := filepath.Join(t.TempDir(), "blank.txt")
	if err := os.WriteFile(blank, []byte("   \n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := l.Persona(blank); got != DefaultPersona {
		t.Errorf("blank persona file: got %q, want default", got)
	}
}
