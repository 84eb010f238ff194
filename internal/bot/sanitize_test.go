package bot

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		persona string
		want    string
	}{
		{
			name: "full prompt echo keeps only the assistant turn",
			raw: "<|im_start|>system\npersona text<|im_end|>\n" +
				"<|im_start|>user\nContext: stuff\nQuestion: q?<|im_end|>\n" +
				"<|im_start|>assistant\nDelivery takes 3 days.",
			want: "Delivery takes 3 days.",
		},
		{
			name: "stray role tags stripped",
			raw:  "Delivery takes 3 days.<|im_end|>\n<|im_start|>user",
			want: "Delivery takes 3 days.",
		},
		{
			name:    "echoed persona removed",
			raw:     "You are a helpful sales assistant. Delivery takes 3 days.",
			persona: "You are a helpful sales assistant.",
			want:    "Delivery takes 3 days.",
		},
		{
			name: "whitespace runs collapsed",
			raw:  "Delivery   takes\t\t3 days.\n\n\n\nAsk anytime.",
			want: "Delivery takes 3 days.\n\nAsk anytime.",
		},
		{
			name: "surrounding whitespace trimmed",
			raw:  "  \n Delivery takes 3 days. \n ",
			want: "Delivery takes 3 days.",
		},
		{
			name: "clean answer passes through",
			raw:  "Delivery takes 3 days.",
			want: "Delivery takes 3 days.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitize(tt.raw, tt.persona, 4000)
			if got.Text != tt.want {
				t.Errorf("sanitize() = %q, want %q", got.Text, tt.want)
			}
			if got.Truncated {
				t.Error("Truncated = true for short answer")
			}
		})
	}
}

func TestSanitize_Truncation(t *testing.T) {
	long := strings.Repeat("слово ", 1000) // multi-byte runes
	got := sanitize(long, "", 100)
	if !got.Truncated {
		t.Error("Truncated = false for over-long answer")
	}
	if n := utf8.RuneCountInString(got.Text); n > 100 {
		t.Errorf("answer length = %d runes, want <= 100", n)
	}

	exact := strings.Repeat("a", 100)
	got = sanitize(exact, "", 100)
	if got.Truncated {
		t.Error("Truncated = true for answer exactly at the cap")
	}
}

func TestSanitize_EmptyAfterStripping(t *testing.T) {
	got := sanitize("<|im_start|>assistant\n<|im_end|>", "", 4000)
	if got.Text != "" {
		t.Errorf("sanitize() = %q, want empty", got.Text)
	}
}
