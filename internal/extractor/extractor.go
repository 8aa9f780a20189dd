// Package extractor turns uploaded file bytes into normalized plain text.
package extractor

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lordmuffin/ThinkPod/internal/core/domain"
)

// Format is the closed set of formats the extractor understands
type Format string

const (
	FormatPDF      Format = "pdf"
	FormatDOCX     Format = "docx"
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
)

// MIMEDocx is the declared type of Word documents
const MIMEDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// mimeFormats maps declared MIME types onto formats
var mimeFormats = map[string]Format{
	"application/pdf":   FormatPDF,
	"application/x-pdf": FormatPDF,
	MIMEDocx:            FormatDOCX,
	"text/plain":        FormatText,
	"text/markdown":     FormatMarkdown,
	"text/x-markdown":   FormatMarkdown,
}

// extFormats is consulted when the MIME type is missing or generic
var extFormats = map[string]Format{
	".pdf":      FormatPDF,
	".docx":     FormatDOCX,
	".txt":      FormatText,
	".text":     FormatText,
	".md":       FormatMarkdown,
	".markdown": FormatMarkdown,
}

// SupportedMIMETypes lists the MIME types accepted for upload.
func SupportedMIMETypes() []string {
	return []string{
		"application/pdf",
		MIMEDocx,
		"text/plain",
		"text/markdown",
	}
}

// ParseFormat resolves a declared MIME type, or failing that the filename
// extension, to a Format.
func ParseFormat(mimeType, filename string) (Format, error) {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))

	// Strip charset and other parameters
	if idx := strings.Index(mimeType, ";"); idx != -1 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}

	if f, ok := mimeFormats[mimeType]; ok {
		return f, nil
	}
	if f, ok := extFormats[strings.ToLower(filepath.Ext(filename))]; ok {
		return f, nil
	}

	declared := mimeType
	if declared == "" {
		declared = filepath.Ext(filename)
	}
	return "", &domain.UnsupportedFormatError{Format: declared}
}

// Metadata describes extracted text
type Metadata struct {
	Format    Format `json:"format"`
	WordCount int    `json:"word_count"`
	CharCount int    `json:"char_count"`
	LineCount int    `json:"line_count"`
	PageCount int    `json:"page_count,omitempty"` // PDF only
}

// Extraction is normalized text plus its metadata
type Extraction struct {
	Content  string
	Metadata Metadata
}

// Extract converts data in the given format to normalized text. Empty
// results fail with ErrEmptyContent.
func Extract(data []byte, format Format, opts domain.ExtractOptions) (*Extraction, error) {
	var (
		text  string
		pages int
		err   error
	)

	switch format {
	case FormatPDF:
		text, pages, err = extractPDF(data)
	case FormatDOCX:
		text, err = extractDOCX(data)
	case FormatMarkdown:
		text = stripMarkdown(decodeText(data))
	case FormatText:
		text = decodeText(data)
	default:
		return nil, &domain.UnsupportedFormatError{Format: string(format)}
	}
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", format, err)
	}

	text = Normalize(text, opts.PreserveFormatting)
	if opts.MaxLength > 0 {
		text = truncateRunes(text, opts.MaxLength)
	}
	if strings.TrimSpace(text) == "" {
		return nil, domain.ErrEmptyContent
	}

	return &Extraction{
		Content: text,
		Metadata: Metadata{
			Format:    format,
			WordCount: len(strings.Fields(text)),
			CharCount: utf8.RuneCountInString(text),
			LineCount: strings.Count(text, "\n") + 1,
			PageCount: pages,
		},
	}, nil
}

// Normalize unifies line endings. Without preserveFormatting every
// whitespace run collapses to one space. With it, lines lose trailing
// spaces and runs of blank lines shrink to one.
func Normalize(text string, preserveFormatting bool) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	if !preserveFormatting {
		return strings.Join(strings.Fields(text), " ")
	}

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRightFunc(line, unicode.IsSpace)
		if line == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// decodeText treats data as UTF-8, dropping a BOM and replacing invalid bytes.
func decodeText(data []byte) string {
	s := strings.TrimPrefix(string(data), "\ufeff")
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
	}
	return s
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
