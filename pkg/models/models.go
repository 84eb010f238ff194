package models

import "time"

// Document is a single corpus file, loaded whole. Immutable once read.
type Document struct {
	Source  string            `json:"source"`
	Content string            `json:"content"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// Chunk is a bounded segment of a document's text, the unit of indexing
// and retrieval. StartOffset is the rune offset into the parent document.
type Chunk struct {
	Text        string `json:"text"`
	Source      string `json:"source"`
	StartOffset int    `json:"start_offset"`
}

// SearchResult pairs a retrieved chunk with its similarity score.
type SearchResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// Query is an inbound question. It exists only for the duration of
// request handling and is never persisted by the pipeline itself.
type Query struct {
	UserID     int64     `json:"user_id"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
}

// Answer is the sanitized model output returned to the caller.
// Truncated is set when the raw output exceeded the configured cap.
type Answer struct {
	Text      string `json:"text"`
	Truncated bool   `json:"truncated"`
}
