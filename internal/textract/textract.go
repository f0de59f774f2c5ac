package textract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"code.sajari.com/docconv"
)

var ErrEmptyDocument = errors.New("document contains no extractable text")

// Extractor turns an uploaded document into plain text for the model.
type Extractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) (string, error)
}

// DocconvExtractor converts PDF, DOC and DOCX through docconv.
type DocconvExtractor struct {
	// MaxChars caps the text at this many characters; zero keeps everything.
	MaxChars int
}

func NewDocconvExtractor(maxChars int) *DocconvExtractor {
	return &DocconvExtractor{MaxChars: maxChars}
}

func (e *DocconvExtractor) Extract(ctx context.Context, data []byte, mimeType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var text string
	if strings.HasPrefix(mimeType, "text/plain") {
		text = string(data)
	} else {
		res, err := docconv.Convert(bytes.NewReader(data), mimeType, false)
		if err != nil {
			return "", fmt.Errorf("failed to parse document: %w", err)
		}
		text = res.Body
	}

	text = Clean(text)
	if text == "" {
		return "", ErrEmptyDocument
	}
	if e.MaxChars > 0 && utf8.RuneCountInString(text) > e.MaxChars {
		text = truncateRunes(text, e.MaxChars)
	}
	return text, nil
}

// Clean normalises line endings, drops NUL bytes and collapses runs of blank
// lines.
func Clean(s string) string {
	s = strings.ToValidUTF8(s, "")
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			if blank {
				continue
			}
			blank = true
			out = append(out, "")
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// truncateRunes keeps the first limit characters of s.
func truncateRunes(s string, limit int) string {
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
