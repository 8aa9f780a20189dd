package domain

import "testing"

func TestSearchModeConstants(t *testing.T) {
	if SearchModeHybrid != "hybrid" {
		t.Errorf("expected SearchModeHybrid = 'hybrid', got %s", SearchModeHybrid)
	}
	if SearchModeSemanticOnly != "semantic" {
		t.Errorf("expected SearchModeSemanticOnly = 'semantic', got %s", SearchModeSemanticOnly)
	}
}

func TestDefaultSearchOptions(t *testing.T) {
	opts := DefaultSearchOptions()

	if opts.Limit != 10 {
		t.Errorf("expected default limit 10, got %d", opts.Limit)
	}
	if opts.Threshold != 0.7 {
		t.Errorf("expected default threshold 0.7, got %f", opts.Threshold)
	}
	if len(opts.FilterDocIDs) != 0 || len(opts.ExcludeDocIDs) != 0 {
		t.Error("expected no document filters by default")
	}
}

func TestDefaultHybridOptions(t *testing.T) {
	opts := DefaultHybridOptions()

	if opts.KeywordWeight != 0.3 {
		t.Errorf("expected keyword weight 0.3, got %f", opts.KeywordWeight)
	}
	if opts.SemanticWeight != 0.7 {
		t.Errorf("expected semantic weight 0.7, got %f", opts.SemanticWeight)
	}
	if opts.KeywordBoost != 1.0 {
		t.Errorf("expected keyword boost 1.0, got %f", opts.KeywordBoost)
	}
	if opts.NormalizeLexical {
		t.Error("expected raw lexical scores by default")
	}
	if opts.Limit != DefaultSearchLimit {
		t.Errorf("expected embedded search defaults, got limit %d", opts.Limit)
	}
}
