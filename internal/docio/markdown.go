package docio

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"marginalia/internal/doc"
)

// MarkdownParser handles Markdown files using goldmark. Every leaf block
// becomes one paragraph of plain text; the first level one heading names the
// document.
type MarkdownParser struct{}

func (MarkdownParser) Parse(r io.Reader, filename string) (Imported, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return Imported{}, fmt.Errorf("read markdown: %w", err)
	}

	tree := goldmark.New().Parser().Parse(text.NewReader(src))

	var (
		title      string
		paragraphs []doc.SerializedNode
	)
	emit := func(s string) {
		if s != "" {
			paragraphs = append(paragraphs, paragraph(textNode(s)))
		}
	}

	var walk func(n ast.Node)
	walk = func(n ast.Node) {
		switch node := n.(type) {
		case *ast.Heading:
			t := strings.TrimSpace(inlineText(node, src))
			if node.Level == 1 && title == "" {
				title = t
			}
			emit(t)
		case *ast.Paragraph, *ast.TextBlock:
			emit(strings.TrimSpace(inlineText(node, src)))
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			emit(strings.TrimRight(blockLines(node, src), "\n"))
		case *ast.HTMLBlock, *ast.ThematicBreak:
		default:
			for c := n.FirstChild(); c != nil; c = c.NextSibling() {
				walk(c)
			}
		}
	}
	walk(tree)

	if title == "" {
		title = baseTitle(filename)
	}
	return Imported{Title: title, Root: root(paragraphs)}, nil
}

func inlineText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(src))
			switch {
			case t.HardLineBreak():
				buf.WriteByte('\n')
			case t.SoftLineBreak():
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(t.Value)
		case *ast.AutoLink:
			buf.Write(t.Label(src))
		case *ast.RawHTML:
		default:
			buf.WriteString(inlineText(c, src))
		}
	}
	return buf.String()
}

func blockLines(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		buf.Write(line.Value(src))
	}
	return buf.String()
}
