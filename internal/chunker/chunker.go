// Package chunker splits extracted document text into overlapping,
// retrieval-sized pieces.
package chunker

import (
	"strings"
	"unicode"

	"github.com/lordmuffin/ThinkPod/internal/core/domain"
)

// Piece is one chunk of text. Offsets are rune positions in the
// line-ending-normalized input.
type Piece struct {
	Index       int
	Content     string
	TokenCount  int
	StartOffset int
	EndOffset   int
	Metadata    domain.ChunkMetadata
}

// span is a half-open rune range of the input
type span struct {
	start, end int
	paragraph  int
}

// fixedSeparators are tried in order when a window has to be cut
var fixedSeparators = []string{"\n\n", "\n", ". ", "! ", "? ", "; ", ": ", ", ", " "}

// Validate checks chunking options.
func Validate(opts domain.ChunkOptions) error {
	if opts.MaxChunkSize <= 0 {
		return domain.NewValidationError("max_chunk_size", "must be positive")
	}
	if opts.Overlap < 0 {
		return domain.NewValidationError("overlap", "must not be negative")
	}
	if opts.Overlap >= opts.MaxChunkSize {
		return domain.NewValidationError("overlap", "must be smaller than max_chunk_size")
	}
	if opts.MinChunkSize < 0 {
		return domain.NewValidationError("min_chunk_size", "must not be negative")
	}
	return nil
}

// Chunk splits text into ordered pieces with contiguous indices.
//
// Paragraph packing is used when paragraphs are preserved and the text has
// blank-line breaks, sentence packing when sentences are preserved and the
// text has more than one sentence, and a fixed window otherwise. A single
// paragraph or sentence longer than MaxChunkSize becomes one oversized piece.
// Blank text yields no pieces.
func Chunk(text string, opts domain.ChunkOptions) ([]Piece, error) {
	if err := Validate(opts); err != nil {
		return nil, err
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	runes := []rune(text)
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	c := &chunker{runes: runes, opts: opts}

	if opts.PreserveParagraphs {
		if paragraphs := splitParagraphs(runes); len(paragraphs) > 1 {
			c.pack(paragraphs, domain.ChunkStrategyParagraph)
			return c.finish(), nil
		}
	}
	if opts.PreserveSentences {
		if sentences := splitSentences(runes, 0, len(runes)); len(sentences) > 1 {
			c.pack(sentences, domain.ChunkStrategySentence)
			return c.finish(), nil
		}
	}
	c.window()
	return c.finish(), nil
}

type chunker struct {
	runes  []rune
	opts   domain.ChunkOptions
	pieces []Piece
}

// pack greedily fills pieces with whole units. Each new piece after the
// first is seeded with the trailing overlap of the previous one when the
// seed and the next unit fit together.
func (c *chunker) pack(units []span, strategy domain.ChunkStrategy) {
	limit := c.opts.MaxChunkSize
	start, end, paragraph := -1, 0, 0

	for _, u := range units {
		if start < 0 {
			start, end, paragraph = u.start, u.end, u.paragraph
			continue
		}
		if u.end-start <= limit {
			end = u.end
			continue
		}

		c.emit(start, end, strategy, paragraph)

		seed := c.overlapStart(start, end)
		if seed < end && u.end-seed <= limit {
			start = seed
		} else {
			start = u.start
		}
		end, paragraph = u.end, u.paragraph
	}
	if start >= 0 {
		c.emit(start, end, strategy, paragraph)
	}
}

// window walks the text in MaxChunkSize steps, cutting each window at the
// best separator in its back half.
func (c *chunker) window() {
	n := len(c.runes)
	start := skipSpace(c.runes, 0)

	for start < n {
		end := start + c.opts.MaxChunkSize
		if end >= n {
			end = n
		} else {
			end = c.breakPoint(start, end)
		}

		c.emit(start, end, domain.ChunkStrategyFixed, -1)
		if end >= n {
			break
		}

		next := c.overlapStart(start, end)
		if next <= start {
			next = end
		}
		start = skipSpace(c.runes, next)
	}
}

// breakPoint returns the position just after the last separator found in
// the back half of [start, limit), or limit when there is none.
func (c *chunker) breakPoint(start, limit int) int {
	half := start + (limit-start)/2

	for _, sep := range fixedSeparators {
		s := []rune(sep)
		for i := limit - len(s); i > half; i-- {
			if hasRunesAt(c.runes, i, s) {
				return i + len(s)
			}
		}
	}
	return limit
}

// overlapStart returns where the overlap seed taken from [start, end)
// begins. The seed is moved forward to the first sentence boundary inside
// it, or failing that to the next word boundary. It returns end when no
// usable seed exists.
func (c *chunker) overlapStart(start, end int) int {
	if c.opts.Overlap == 0 {
		return end
	}
	s := end - c.opts.Overlap
	if s < start {
		s = start
	}

	for i := s + 1; i < end; i++ {
		if isSentenceEnd(c.runes[i-1]) && unicode.IsSpace(c.runes[i]) && !isAbbreviation(c.runes, start, i-1) {
			if p := skipSpace(c.runes, i); p < end {
				return p
			}
			return end
		}
	}

	if s > start && !unicode.IsSpace(c.runes[s-1]) {
		for s < end && !unicode.IsSpace(c.runes[s]) {
			s++
		}
	}
	s = skipSpace(c.runes, s)
	if s >= end {
		return end
	}
	return s
}

func (c *chunker) emit(start, end int, strategy domain.ChunkStrategy, paragraph int) {
	for start < end && unicode.IsSpace(c.runes[start]) {
		start++
	}
	for end > start && unicode.IsSpace(c.runes[end-1]) {
		end--
	}
	if start >= end {
		return
	}

	content := string(c.runes[start:end])
	meta := domain.ChunkMetadata{
		CharCount: end - start,
		WordCount: len(strings.Fields(content)),
		Strategy:  strategy,
	}
	if strategy == domain.ChunkStrategyParagraph {
		p := paragraph
		meta.ParagraphIndex = &p
	}

	c.pieces = append(c.pieces, Piece{
		Index:       len(c.pieces),
		Content:     content,
		TokenCount:  domain.EstimateTokens(content),
		StartOffset: start,
		EndOffset:   end,
		Metadata:    meta,
	})
}

// finish drops a trailing fragment below MinChunkSize unless it is the
// only piece.
func (c *chunker) finish() []Piece {
	if n := len(c.pieces); n > 1 && c.pieces[n-1].Metadata.CharCount < c.opts.MinChunkSize {
		c.pieces = c.pieces[:n-1]
	}
	return c.pieces
}

// splitParagraphs returns the non-blank runs separated by blank lines.
func splitParagraphs(runes []rune) []span {
	var spans []span
	add := func(start, end int) {
		start, end = trimSpan(runes, start, end)
		if start < end {
			spans = append(spans, span{start: start, end: end, paragraph: len(spans)})
		}
	}

	n := len(runes)
	start := 0
	for i := 0; i < n; i++ {
		if runes[i] != '\n' {
			continue
		}
		j := i + 1
		for j < n && (runes[j] == ' ' || runes[j] == '\t') {
			j++
		}
		if j < n && runes[j] == '\n' {
			add(start, i)
			for j < n && unicode.IsSpace(runes[j]) {
				j++
			}
			start = j
			i = j - 1
		}
	}
	add(start, n)
	return spans
}

func trimSpan(runes []rune, start, end int) (int, int) {
	for start < end && unicode.IsSpace(runes[start]) {
		start++
	}
	for end > start && unicode.IsSpace(runes[end-1]) {
		end--
	}
	return start, end
}

func skipSpace(runes []rune, i int) int {
	for i < len(runes) && unicode.IsSpace(runes[i]) {
		i++
	}
	return i
}

func hasRunesAt(runes []rune, i int, s []rune) bool {
	if i < 0 || i+len(s) > len(runes) {
		return false
	}
	for k, r := range s {
		if runes[i+k] != r {
			return false
		}
	}
	return true
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
