package chunker

import "testing"

func sentences(text string) []string {
	runes := []rune(text)
	var out []string
	for _, s := range splitSentences(runes, 0, len(runes)) {
		out = append(out, string(runes[s.start:s.end]))
	}
	return out
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "simple",
			text: "One. Two! Three?",
			want: []string{"One.", "Two!", "Three?"},
		},
		{
			name: "abbreviations",
			text: "Dr. Smith met the U.S. team, e.g. engineers. They agreed.",
			want: []string{"Dr. Smith met the U.S. team, e.g. engineers.", "They agreed."},
		},
		{
			name: "closing quote",
			text: `He said "stop." Then left.`,
			want: []string{`He said "stop."`, "Then left."},
		},
		{
			name: "decimal number",
			text: "Pi is 3.14 roughly. Yes.",
			want: []string{"Pi is 3.14 roughly.", "Yes."},
		},
		{
			name: "no terminator",
			text: "just a fragment",
			want: []string{"just a fragment"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sentences(tt.text)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d sentences %q, want %d", len(got), got, len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("sentence %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSplitParagraphs(t *testing.T) {
	runes := []rune("first\nstill first\n\n  \nsecond\n\nthird  ")
	spans := splitParagraphs(runes)
	if len(spans) != 3 {
		t.Fatalf("expected 3 paragraphs, got %d", len(spans))
	}
	want := []string{"first\nstill first", "second", "third"}
	for i, s := range spans {
		if got := string(runes[s.start:s.end]); got != want[i] {
			t.Errorf("paragraph %d = %q, want %q", i, got, want[i])
		}
		if s.paragraph != i {
			t.Errorf("paragraph %d has index %d", i, s.paragraph)
		}
	}
}
