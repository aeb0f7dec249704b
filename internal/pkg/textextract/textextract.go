package textextract

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// Extract reads the entire content of r and extracts plain text according to
// the material kind ("pdf", "text" or "markdown"). Returns empty string and
// nil error when the file has no extractable text.
func Extract(r io.Reader, kind string) (string, error) {
	switch kind {
	case "pdf":
		return extractPDF(r)
	case "text", "markdown":
		return extractPlain(r)
	default:
		return "", fmt.Errorf("unsupported material kind: %s", kind)
	}
}

func extractPDF(r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if len(b) == 0 {
		return "", nil
	}
	readerAt := bytes.NewReader(b)
	pdfReader, err := pdf.NewReader(readerAt, int64(len(b)))
	if err != nil {
		return "", err
	}
	plainReader, err := pdfReader.GetPlainText()
	if err != nil {
		return "", err
	}
	out, err := io.ReadAll(plainReader)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func extractPlain(r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("file is not valid UTF-8 text")
	}
	return strings.ReplaceAll(string(b), "\r\n", "\n"), nil
}

// KindForFilename maps a filename extension to a material kind.
// Returns empty string for unsupported extensions.
func KindForFilename(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".pdf"):
		return "pdf"
	case strings.HasSuffix(lower, ".md"), strings.HasSuffix(lower, ".markdown"):
		return "markdown"
	case strings.HasSuffix(lower, ".txt"):
		return "text"
	}
	return ""
}
