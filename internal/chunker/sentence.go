package chunker

import (
	"strings"
	"unicode"
)

// abbreviations never end a sentence
var abbreviations = map[string]bool{
	"mr.": true, "mrs.": true, "ms.": true, "dr.": true, "prof.": true,
	"sr.": true, "jr.": true, "st.": true, "mt.": true, "rev.": true,
	"gen.": true, "col.": true, "capt.": true, "lt.": true, "sgt.": true,
	"vs.": true, "etc.": true, "e.g.": true, "i.e.": true, "cf.": true,
	"al.": true, "approx.": true, "dept.": true, "est.": true, "fig.": true,
	"no.": true, "vol.": true, "ch.": true, "p.": true, "pp.": true,
	"inc.": true, "ltd.": true, "co.": true, "corp.": true, "llc.": true,
	"u.s.": true, "u.k.": true, "u.n.": true, "e.u.": true, "a.m.": true, "p.m.": true,
	"jan.": true, "feb.": true, "mar.": true, "apr.": true, "jun.": true,
	"jul.": true, "aug.": true, "sep.": true, "sept.": true, "oct.": true,
	"nov.": true, "dec.": true,
}

// splitSentences returns the sentences of runes[start:end]. A sentence ends
// at '.', '!' or '?' (plus any closing quotes or brackets) followed by
// whitespace, unless the word before the period is a known abbreviation.
func splitSentences(runes []rune, start, end int) []span {
	var spans []span
	add := func(s, e int) {
		s, e = trimSpan(runes, s, e)
		if s < e {
			spans = append(spans, span{start: s, end: e})
		}
	}

	s := start
	for i := start; i < end; i++ {
		if !isSentenceEnd(runes[i]) {
			continue
		}
		j := i + 1
		for j < end && isCloser(runes[j]) {
			j++
		}
		if j < end && !unicode.IsSpace(runes[j]) {
			continue
		}
		if runes[i] == '.' && isAbbreviation(runes, s, i) {
			continue
		}
		add(s, j)
		s = j
		i = j - 1
	}
	add(s, end)
	return spans
}

// isAbbreviation reports whether the word ending with the period at dot is
// in the abbreviation list. lo bounds the backward scan.
func isAbbreviation(runes []rune, lo, dot int) bool {
	w := dot
	for w > lo && !unicode.IsSpace(runes[w-1]) {
		w--
	}
	word := strings.TrimLeft(strings.ToLower(string(runes[w:dot+1])), "\"'([{")
	return abbreviations[word]
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '}', '”', '’':
		return true
	}
	return false
}
