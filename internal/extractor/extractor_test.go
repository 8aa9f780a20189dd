package extractor

import (
	"archive/zip"
	"bytes"
	"errors"
	"testing"

	"github.com/lordmuffin/ThinkPod/internal/core/domain"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		mime     string
		filename string
		want     Format
	}{
		{"application/pdf", "report.pdf", FormatPDF},
		{"APPLICATION/PDF", "", FormatPDF},
		{MIMEDocx, "letter.docx", FormatDOCX},
		{"text/plain; charset=utf-8", "notes.txt", FormatText},
		{"text/markdown", "README", FormatMarkdown},
		{"application/octet-stream", "README.md", FormatMarkdown},
		{"", "notes.TXT", FormatText},
		{"", "scan.pdf", FormatPDF},
	}

	for _, tt := range tests {
		t.Run(tt.mime+"|"+tt.filename, func(t *testing.T) {
			got, err := ParseFormat(tt.mime, tt.filename)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q, %q) = %s, want %s", tt.mime, tt.filename, got, tt.want)
			}
		})
	}
}

func TestParseFormat_Unsupported(t *testing.T) {
	_, err := ParseFormat("image/png", "photo.png")
	if !errors.Is(err, domain.ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	var ufe *domain.UnsupportedFormatError
	if !errors.As(err, &ufe) || ufe.Format != "image/png" {
		t.Errorf("expected format image/png in error, got %v", err)
	}
}

func TestExtract_UnknownFormat(t *testing.T) {
	_, err := Extract([]byte("x"), Format("rtf"), domain.ExtractOptions{})
	if !errors.Is(err, domain.ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestExtract_Text(t *testing.T) {
	data := []byte("\ufeffhello   there\r\nworld\r\n")

	got, err := Extract(data, FormatText, domain.ExtractOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Content != "hello there world" {
		t.Errorf("content = %q", got.Content)
	}
	if got.Metadata.WordCount != 3 {
		t.Errorf("word count = %d, want 3", got.Metadata.WordCount)
	}
	if got.Metadata.CharCount != len("hello there world") {
		t.Errorf("char count = %d", got.Metadata.CharCount)
	}
	if got.Metadata.LineCount != 1 {
		t.Errorf("line count = %d, want 1", got.Metadata.LineCount)
	}
	if got.Metadata.Format != FormatText {
		t.Errorf("format = %s", got.Metadata.Format)
	}
}

func TestExtract_TextPreserveFormatting(t *testing.T) {
	data := []byte("line one   \r\n\r\n\r\n\r\nline two\n")

	got, err := Extract(data, FormatText, domain.ExtractOptions{PreserveFormatting: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Content != "line one\n\nline two" {
		t.Errorf("content = %q", got.Content)
	}
	if got.Metadata.LineCount != 3 {
		t.Errorf("line count = %d, want 3", got.Metadata.LineCount)
	}
}

func TestExtract_InvalidUTF8(t *testing.T) {
	got, err := Extract([]byte{'a', 0xff, 'b'}, FormatText, domain.ExtractOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Content != "a\uFFFDb" {
		t.Errorf("content = %q", got.Content)
	}
}

func TestExtract_MaxLength(t *testing.T) {
	got, err := Extract([]byte("héllo wörld"), FormatText, domain.ExtractOptions{MaxLength: 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Content != "héll" {
		t.Errorf("content = %q, want rune-truncated text", got.Content)
	}
	if got.Metadata.CharCount != 4 {
		t.Errorf("char count = %d, want 4", got.Metadata.CharCount)
	}
}

func TestExtract_EmptyContent(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		format Format
	}{
		{"blank text", "  \n\t ", FormatText},
		{"markup only", "<br/><div></div>\n---\n", FormatMarkdown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Extract([]byte(tt.data), tt.format, domain.ExtractOptions{})
			if !errors.Is(err, domain.ErrEmptyContent) {
				t.Errorf("expected ErrEmptyContent, got %v", err)
			}
		})
	}
}

func TestExtract_Markdown(t *testing.T) {
	md := "# Title\n\n" +
		"Some **bold** and *italic* text with a [link](http://example.com).\n\n" +
		"- item one\n- item two\n\n" +
		"<div>inline <b>html</b></div>\n\n" +
		"```go\ncode line\n```\n"

	got, err := Extract([]byte(md), FormatMarkdown, domain.ExtractOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "Title Some bold and italic text with a link. item one item two inline html code line"
	if got.Content != want {
		t.Errorf("content =\n%q\nwant\n%q", got.Content, want)
	}
}

func TestStripMarkdown_Table(t *testing.T) {
	got := Normalize(stripMarkdown("| a | b |\n|---|---|\n| 1 | 2 |\n"), false)
	if got != "a b 1 2" {
		t.Errorf("stripMarkdown table = %q", got)
	}
}

func TestStripMarkdown_KeepsSnakeCase(t *testing.T) {
	got := stripMarkdown("call some_func_name now")
	if got != "call some_func_name now" {
		t.Errorf("stripMarkdown = %q", got)
	}
}

func buildDOCX(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	if _, err := w.Write([]byte(documentXML)); err != nil {
		t.Fatalf("write entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func TestExtract_DOCX(t *testing.T) {
	data := buildDOCX(t, `<?xml version="1.0" encoding="UTF-8"?>`+
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`+
		`<w:p><w:r><w:t>Hello</w:t><w:tab/><w:t>World</w:t></w:r></w:p>`+
		`<w:p><w:r><w:t xml:space="preserve">Second paragraph</w:t></w:r></w:p>`+
		`</w:body></w:document>`)

	got, err := Extract(data, FormatDOCX, domain.ExtractOptions{PreserveFormatting: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Content != "Hello\tWorld\n\nSecond paragraph" {
		t.Errorf("content = %q", got.Content)
	}
}

func TestExtract_DOCXMissingBody(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if _, err := zw.Create("word/styles.xml"); err != nil {
		t.Fatal(err)
	}
	zw.Close()

	_, err := Extract(buf.Bytes(), FormatDOCX, domain.ExtractOptions{})
	if err == nil {
		t.Fatal("expected error for docx without a body")
	}
}

func TestExtract_CorruptPDF(t *testing.T) {
	_, err := Extract([]byte("definitely not a pdf"), FormatPDF, domain.ExtractOptions{})
	if err == nil {
		t.Fatal("expected error for corrupt pdf")
	}
	if errors.Is(err, domain.ErrEmptyContent) {
		t.Errorf("corrupt pdf should not look like empty content: %v", err)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		preserve bool
		want     string
	}{
		{"collapse", "  a \t b\n\nc  ", false, "a b c"},
		{"preserve trims trailing", "a  \nb\t\n", true, "a\nb"},
		{"preserve caps blank lines", "a\n\n\n\nb", true, "a\n\nb"},
		{"carriage returns", "a\rb", true, "a\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in, tt.preserve); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
