package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/fumiama/go-docx"
	"github.com/ledongthuc/pdf"
)

// ErrUnsupported is returned for file types that cannot be extracted
// server-side (images, unknown binaries).
var ErrUnsupported = errors.New("document: unsupported file type")

// ErrTooLarge is returned by Extract when the input exceeds the size limit.
var ErrTooLarge = errors.New("document: file too large")

// DefaultMaxBytes caps how much of an upload is read.
const DefaultMaxBytes = 10 << 20

// Format is a recognised upload format.
type Format int

const (
	FormatUnknown Format = iota
	FormatText
	FormatMarkdown
	FormatDOCX
	FormatPDF
	FormatImage
)

// String returns the lower-case format name.
func (f Format) String() string {
	switch f {
	case FormatText:
		return "text"
	case FormatMarkdown:
		return "markdown"
	case FormatDOCX:
		return "docx"
	case FormatPDF:
		return "pdf"
	case FormatImage:
		return "image"
	default:
		return "unknown"
	}
}

const docxMIME = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// Detect picks a format from the file extension, falling back to the
// content type.
func Detect(filename, contentType string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".text":
		return FormatText
	case ".md", ".markdown":
		return FormatMarkdown
	case ".docx":
		return FormatDOCX
	case ".pdf":
		return FormatPDF
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp", ".tif", ".tiff":
		return FormatImage
	}

	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return FormatUnknown
	}
	switch {
	case mt == "text/markdown":
		return FormatMarkdown
	case strings.HasPrefix(mt, "text/"):
		return FormatText
	case mt == docxMIME:
		return FormatDOCX
	case mt == "application/pdf":
		return FormatPDF
	case strings.HasPrefix(mt, "image/"):
		return FormatImage
	}
	return FormatUnknown
}

// Extractor turns uploaded files into plain text.
type Extractor struct {
	maxBytes int64
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithMaxBytes caps the number of bytes read from an upload.
func WithMaxBytes(n int64) ExtractorOption {
	return func(e *Extractor) {
		if n > 0 {
			e.maxBytes = n
		}
	}
}

// NewExtractor returns an Extractor.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{maxBytes: DefaultMaxBytes}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract reads r and returns its text, trimmed of surrounding whitespace.
func (e *Extractor) Extract(ctx context.Context, filename, contentType string, r io.Reader) (string, error) {
	format := Detect(filename, contentType)
	switch format {
	case FormatImage, FormatUnknown:
		return "", fmt.Errorf("%w: %s (%s)", ErrUnsupported, filename, format)
	}

	data, err := io.ReadAll(io.LimitReader(r, e.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("document: read %s: %w", filename, err)
	}
	if int64(len(data)) > e.maxBytes {
		return "", fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, filename, e.maxBytes)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	switch format {
	case FormatDOCX:
		text, err := extractDOCX(data)
		if err != nil {
			return "", fmt.Errorf("document: docx %s: %w", filename, err)
		}
		return strings.TrimSpace(text), nil
	case FormatPDF:
		text, err := extractPDF(data)
		if err != nil {
			return "", fmt.Errorf("document: pdf %s: %w", filename, err)
		}
		return strings.TrimSpace(text), nil
	default:
		if !utf8.Valid(data) {
			return "", fmt.Errorf("document: %s is not valid UTF-8", filename)
		}
		return strings.TrimSpace(string(data)), nil
	}
}

// extractDOCX returns the text of each body paragraph and table, separated
// by blank lines. Tables come out as markdown rows.
func extractDOCX(data []byte) (string, error) {
	doc, err := docx.Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	var blocks []string
	for _, item := range doc.Document.Body.Items {
		var text string
		switch it := item.(type) {
		case *docx.Paragraph:
			text = it.String()
		case *docx.Table:
			text = it.String()
		default:
			continue
		}
		if text = strings.TrimRight(text, " \t\n"); strings.TrimSpace(text) != "" {
			blocks = append(blocks, text)
		}
	}
	return strings.Join(blocks, "\n\n"), nil
}

// extractPDF returns the plain text of every page in order. Scanned pages
// without a text layer contribute nothing.
func extractPDF(data []byte) (text string, err error) {
	// The parser panics on some malformed object graphs.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	pr, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := pr.GetPlainText()
	if err != nil {
		return "", err
	}
	out, err := io.ReadAll(plain)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
