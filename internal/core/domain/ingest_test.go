package domain

import "testing"

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text     string
		expected int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"héllo wörld", 3}, // 11 runes
	}

	for _, tt := range tests {
		if got := EstimateTokens(tt.text); got != tt.expected {
			t.Errorf("EstimateTokens(%q): expected %d, got %d", tt.text, tt.expected, got)
		}
	}
}

func TestDefaultChunkOptions(t *testing.T) {
	opts := DefaultChunkOptions()
	if opts.MaxChunkSize != 1000 || opts.Overlap != 200 || opts.MinChunkSize != 100 {
		t.Errorf("unexpected defaults: %+v", opts)
	}
	if !opts.PreserveParagraphs || !opts.PreserveSentences {
		t.Error("expected paragraph and sentence preservation by default")
	}
}

func TestDefaultProcessOptions(t *testing.T) {
	opts := DefaultProcessOptions()
	if !opts.GenerateEmbeddings {
		t.Error("expected embeddings by default")
	}
	if opts.Chunk != DefaultChunkOptions() {
		t.Error("expected default chunk options")
	}
	if !opts.Extract.PreserveFormatting || opts.Extract.MaxLength != 0 {
		t.Errorf("expected formatting kept and no length cap, got %+v", opts.Extract)
	}
}
