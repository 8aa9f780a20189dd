package extractor

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	mdFence        = regexp.MustCompile("(?m)^\\s*(```|~~~).*$")
	mdImage        = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	mdLink         = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	mdRefLink      = regexp.MustCompile(`\[([^\]]+)\]\[[^\]]*\]`)
	mdLinkDef      = regexp.MustCompile(`(?m)^\s*\[[^\]]+\]:\s+\S+.*$`)
	mdHeading      = regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s+`)
	mdHeadingClose = regexp.MustCompile(`(?m)\s+#+\s*$`)
	mdSetext       = regexp.MustCompile(`(?m)^\s*(=+|-+)\s*$`)
	mdBlockquote   = regexp.MustCompile(`(?m)^\s*>\s?`)
	mdListMarker   = regexp.MustCompile(`(?m)^\s*([-*+]|\d+[.)])\s+`)
	mdRule         = regexp.MustCompile(`(?m)^\s*([-*_]\s*){3,}$`)
	mdTableRule    = regexp.MustCompile(`(?m)^\s*\|?\s*:?-+:?\s*(\|\s*:?-+:?\s*)*\|?\s*$`)
	mdTablePipe    = regexp.MustCompile(`\s*\|\s*`)
	mdBold         = regexp.MustCompile(`(\*\*|__)(.+?)(\*\*|__)`)
	mdItalic       = regexp.MustCompile(`(^|[^\w*])[*_]([^*_\n]+)[*_]`)
	mdStrike       = regexp.MustCompile(`~~(.+?)~~`)
	mdInlineCode   = regexp.MustCompile("`([^`]*)`")
)

// stripHTML drops every tag; text content survives
var stripHTML = bluemonday.StrictPolicy()

// stripMarkdown reduces markdown to its readable text. Code block contents
// are kept, their fences removed.
func stripMarkdown(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")

	s = mdFence.ReplaceAllString(s, "")
	s = mdLinkDef.ReplaceAllString(s, "")
	s = mdImage.ReplaceAllString(s, "$1")
	s = mdLink.ReplaceAllString(s, "$1")
	s = mdRefLink.ReplaceAllString(s, "$1")
	s = mdTableRule.ReplaceAllString(s, "")
	s = mdRule.ReplaceAllString(s, "")
	s = mdSetext.ReplaceAllString(s, "")
	s = mdHeading.ReplaceAllString(s, "")
	s = mdHeadingClose.ReplaceAllString(s, "")
	s = mdBlockquote.ReplaceAllString(s, "")
	s = mdListMarker.ReplaceAllString(s, "")
	s = mdBold.ReplaceAllString(s, "$2")
	s = mdItalic.ReplaceAllString(s, "$1$2")
	s = mdStrike.ReplaceAllString(s, "$1")
	s = mdInlineCode.ReplaceAllString(s, "$1")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if strings.Contains(line, "|") {
			line = strings.Trim(mdTablePipe.ReplaceAllString(line, " "), " ")
		}
		lines[i] = line
	}
	s = strings.Join(lines, "\n")

	// bluemonday escapes what it keeps
	return html.UnescapeString(stripHTML.Sanitize(s))
}
