// Package docio imports external files into the serialized document tree.
package docio

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"marginalia/internal/doc"
)

var ErrUnsupportedFormat = errors.New("unsupported import format")

// Imported is a parsed file ready for Txn.Import.
type Imported struct {
	Title string
	Root  doc.SerializedNode
}

// Parser converts raw file bytes into a document tree.
type Parser interface {
	Parse(r io.Reader, filename string) (Imported, error)
}

// ForFile returns the parser for a filename, falling back to the MIME type
// when the extension is unknown.
func ForFile(filename, contentType string) (Parser, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt":
		return TextParser{}, nil
	case ".md", ".markdown":
		return MarkdownParser{}, nil
	case ".html", ".htm":
		return HTMLParser{}, nil
	}
	mediaType, _, _ := strings.Cut(contentType, ";")
	switch strings.TrimSpace(mediaType) {
	case "text/plain":
		return TextParser{}, nil
	case "text/markdown":
		return MarkdownParser{}, nil
	case "text/html":
		return HTMLParser{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filename)
}

func baseTitle(filename string) string {
	base := filepath.Base(filename)
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func root(paragraphs []doc.SerializedNode) doc.SerializedNode {
	return doc.SerializedNode{Type: doc.KindRoot.String(), Children: paragraphs}
}

func paragraph(children ...doc.SerializedNode) doc.SerializedNode {
	return doc.SerializedNode{Type: doc.KindParagraph.String(), Children: children}
}

func textNode(s string) doc.SerializedNode {
	return doc.SerializedNode{Type: doc.KindText.String(), Text: s}
}
