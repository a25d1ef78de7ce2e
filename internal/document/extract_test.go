package document

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// buildDOCX returns a minimal .docx archive with the given document.xml body.
func buildDOCX(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	doc := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		body + `</w:body></w:document>`
	if _, err := w.Write([]byte(doc)); err != nil {
		t.Fatalf("zip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

// buildPDF returns a single-page PDF with one text object per line, using a
// standard font so no embedded font program is needed.
func buildPDF(t *testing.T, lines ...string) []byte {
	t.Helper()
	var content strings.Builder
	for i, l := range lines {
		fmt.Fprintf(&content, "BT /F1 12 Tf 72 %d Td (%s) Tj ET\n", 720-16*i, l)
	}
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", content.Len(), content.String()),
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, o := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestDetect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		filename, contentType string
		want                  Format
	}{
		{"notes.txt", "", FormatText},
		{"NOTES.MD", "", FormatMarkdown},
		{"lesson.docx", "application/octet-stream", FormatDOCX},
		{"scan.pdf", "", FormatPDF},
		{"photo.JPG", "", FormatImage},
		{"blob", "text/plain; charset=utf-8", FormatText},
		{"blob", "text/markdown", FormatMarkdown},
		{"blob", docxMIME, FormatDOCX},
		{"blob", "application/pdf", FormatPDF},
		{"blob", "image/png", FormatImage},
		{"blob", "application/zip", FormatUnknown},
		{"blob", "", FormatUnknown},
	}
	for _, tc := range tests {
		if got := Detect(tc.filename, tc.contentType); got != tc.want {
			t.Errorf("Detect(%q, %q) = %v; want %v", tc.filename, tc.contentType, got, tc.want)
		}
	}
}

func TestExtract_PlainText(t *testing.T) {
	t.Parallel()

	e := NewExtractor()
	got, err := e.Extract(context.Background(), "notes.txt", "text/plain",
		strings.NewReader("\n  Photosynthesis converts light energy.  \n"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "Photosynthesis converts light energy." {
		t.Errorf("got %q", got)
	}
}

func TestExtract_Markdown(t *testing.T) {
	t.Parallel()

	e := NewExtractor()
	got, err := e.Extract(context.Background(), "cells.md", "", strings.NewReader("# Cells\n\nThe basic unit of life."))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "# Cells\n\nThe basic unit of life." {
		t.Errorf("got %q", got)
	}
}

func TestExtract_DOCX(t *testing.T) {
	t.Parallel()

	data := buildDOCX(t,
		`<w:p><w:r><w:t>Photosynthesis</w:t></w:r><w:r><w:t xml:space="preserve"> overview</w:t></w:r></w:p>`+
			`<w:p></w:p>`+
			`<w:p><w:r><w:t>Light</w:t><w:tab/><w:t>energy</w:t><w:br/><w:t>to sugar</w:t></w:r></w:p>`)

	e := NewExtractor()
	got, err := e.Extract(context.Background(), "lesson.docx", "", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := "Photosynthesis overview\n\nLight\tenergy\nto sugar"
	if got != want {
		t.Errorf("got %q; want %q", got, want)
	}
}

func TestExtract_DOCXTable(t *testing.T) {
	t.Parallel()

	cell := func(text string) string {
		return `<w:tc><w:p><w:r><w:t>` + text + `</w:t></w:r></w:p></w:tc>`
	}
	data := buildDOCX(t,
		`<w:p><w:r><w:t>Parts of a leaf</w:t></w:r></w:p>`+
			`<w:tbl><w:tr>`+cell("Stomata")+cell("Gas exchange")+`</w:tr>`+
			`<w:tr>`+cell("Chloroplast")+cell("Photosynthesis")+`</w:tr></w:tbl>`)

	e := NewExtractor()
	got, err := e.Extract(context.Background(), "leaf.docx", "", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.HasPrefix(got, "Parts of a leaf\n\n") {
		t.Errorf("heading paragraph missing: %q", got)
	}
	for _, row := range []string{"| Stomata | Gas exchange |", "| Chloroplast | Photosynthesis |"} {
		if !strings.Contains(got, row) {
			t.Errorf("got %q; want row %q", got, row)
		}
	}
}

func TestExtract_DOCXNotAnArchive(t *testing.T) {
	t.Parallel()

	e := NewExtractor()
	_, err := e.Extract(context.Background(), "bad.docx", "", strings.NewReader("plain text renamed to docx"))
	if err == nil {
		t.Fatal("expected error for docx that is not a zip archive")
	}
	if errors.Is(err, ErrUnsupported) {
		t.Errorf("err = %v; a broken docx is not an unsupported format", err)
	}
}

func TestExtract_PDF(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		lines []string
		want  string
	}{
		{"single line", []string{"Photosynthesis converts light energy."}, "Photosynthesis converts light energy."},
		{"lines in order", []string{"Chapter 3", "The water cycle"}, "Chapter 3\nThe water cycle"},
		{"no text layer", nil, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			e := NewExtractor()
			got, err := e.Extract(context.Background(), "lesson.pdf", "application/pdf", bytes.NewReader(buildPDF(t, tc.lines...)))
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %q; want %q", got, tc.want)
			}
		})
	}
}

func TestExtract_PDFMalformed(t *testing.T) {
	t.Parallel()

	valid := buildPDF(t, "Chapter 3")
	tests := []struct {
		name string
		data []byte
	}{
		{"not a pdf", []byte("just some text with a pdf extension")},
		{"truncated", valid[:len(valid)/2]},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			e := NewExtractor()
			_, err := e.Extract(context.Background(), "scan.pdf", "", bytes.NewReader(tc.data))
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.Is(err, ErrUnsupported) || errors.Is(err, ErrTooLarge) {
				t.Errorf("err = %v; want a parse error", err)
			}
		})
	}
}

func TestExtract_Unsupported(t *testing.T) {
	t.Parallel()

	e := NewExtractor()
	for _, name := range []string{"photo.png", "diagram.webp", "archive.bin"} {
		if _, err := e.Extract(context.Background(), name, "", strings.NewReader("x")); !errors.Is(err, ErrUnsupported) {
			t.Errorf("Extract(%s) err = %v; want ErrUnsupported", name, err)
		}
	}
}

func TestExtract_TooLarge(t *testing.T) {
	t.Parallel()

	e := NewExtractor(WithMaxBytes(4))
	if _, err := e.Extract(context.Background(), "a.txt", "", strings.NewReader("12345")); !errors.Is(err, ErrTooLarge) {
		t.Fatal("expected size error")
	}
	if got, err := e.Extract(context.Background(), "a.txt", "", strings.NewReader("1234")); err != nil || got != "1234" {
		t.Fatalf("at limit: got %q, err %v", got, err)
	}
}

func TestExtract_InvalidUTF8(t *testing.T) {
	t.Parallel()

	e := NewExtractor()
	if _, err := e.Extract(context.Background(), "a.txt", "", bytes.NewReader([]byte{0xff, 0xfe, 0x00})); err == nil {
		t.Fatal("expected error for invalid UTF-8")
	}
}
