package docio

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"marginalia/internal/doc"
)

var blankLines = regexp.MustCompile(`\n[ \t]*\n+`)

// TextParser splits plain text into paragraphs at blank lines.
type TextParser struct{}

func (TextParser) Parse(r io.Reader, filename string) (Imported, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return Imported{}, fmt.Errorf("read text: %w", err)
	}
	content := strings.ReplaceAll(string(src), "\r\n", "\n")
	var paragraphs []doc.SerializedNode
	for _, chunk := range blankLines.Split(content, -1) {
		if t := strings.TrimSpace(chunk); t != "" {
			paragraphs = append(paragraphs, paragraph(textNode(t)))
		}
	}
	return Imported{Title: baseTitle(filename), Root: root(paragraphs)}, nil
}
