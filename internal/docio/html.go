package docio

import (
	"fmt"
	"io"
	"regexp"
	"slices"
	"strings"

	"golang.org/x/net/html"

	"marginalia/internal/doc"
)

var whitespace = regexp.MustCompile(`[ \t\r\n\f]+`)

// HTMLParser handles HTML files. Block elements become paragraphs and
// <mark data-ids="a,b"> elements become annotation marks, so exported
// documents import with their anchors intact.
type HTMLParser struct{}

func (HTMLParser) Parse(r io.Reader, filename string) (Imported, error) {
	node, err := html.Parse(r)
	if err != nil {
		return Imported{}, fmt.Errorf("parse html: %w", err)
	}

	b := &htmlBuilder{}
	if body := findElement(node, "body"); body != nil {
		b.blocks(body)
	} else {
		b.blocks(node)
	}
	b.flush()

	title := ""
	if t := findElement(node, "title"); t != nil {
		title = strings.TrimSpace(textContent(t))
	}
	if title == "" {
		title = baseTitle(filename)
	}
	return Imported{Title: title, Root: root(b.paragraphs)}, nil
}

type htmlBuilder struct {
	paragraphs []doc.SerializedNode
	pending    []doc.SerializedNode
}

func (b *htmlBuilder) flush() {
	b.emit(b.pending)
	b.pending = nil
}

func (b *htmlBuilder) emit(children []doc.SerializedNode) {
	children = prune(children)
	trimEdges(children)
	children = prune(children)
	if len(children) > 0 {
		b.paragraphs = append(b.paragraphs, paragraph(children...))
	}
}

func (b *htmlBuilder) blocks(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			b.pending = append(b.pending, inline(c, false)...)
			continue
		}
		switch {
		case skipped(c):
		case c.Data == "p" || headingLevel(c.Data) > 0:
			b.flush()
			b.emit(inlineChildren(c, false))
		case c.Data == "pre":
			b.flush()
			b.emit(inlineChildren(c, true))
		case isBlock(c.Data):
			b.flush()
			b.blocks(c)
			b.flush()
		default:
			b.pending = append(b.pending, inline(c, false)...)
		}
	}
}

func inlineChildren(n *html.Node, pre bool) []doc.SerializedNode {
	var out []doc.SerializedNode
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, inline(c, pre)...)
	}
	return out
}

func inline(n *html.Node, pre bool) []doc.SerializedNode {
	switch n.Type {
	case html.TextNode:
		if pre {
			return []doc.SerializedNode{textNode(n.Data)}
		}
		return []doc.SerializedNode{textNode(whitespace.ReplaceAllString(n.Data, " "))}
	case html.ElementNode:
		if skipped(n) {
			return nil
		}
		switch n.Data {
		case "br":
			return []doc.SerializedNode{textNode("\n")}
		case "mark":
			ids := markIDs(n)
			children := inlineChildren(n, pre)
			if len(ids) == 0 {
				return children
			}
			return []doc.SerializedNode{{Type: doc.KindMark.String(), IDs: ids, Children: children}}
		}
		return inlineChildren(n, pre)
	}
	return nil
}

// markIDs reads the comma separated data-ids attribute, dropping blanks and repeats.
func markIDs(n *html.Node) []string {
	var ids []string
	for _, a := range n.Attr {
		if a.Key != "data-ids" {
			continue
		}
		for _, id := range strings.Split(a.Val, ",") {
			if id = strings.TrimSpace(id); id != "" && !slices.Contains(ids, id) {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// prune drops empty text and marks left without children.
func prune(nodes []doc.SerializedNode) []doc.SerializedNode {
	out := nodes[:0]
	for _, n := range nodes {
		if n.Type == doc.KindMark.String() {
			n.Children = prune(n.Children)
			if len(n.Children) == 0 {
				continue
			}
		} else if n.Text == "" {
			continue
		}
		out = append(out, n)
	}
	return out
}

// trimEdges strips leading whitespace from the first text leaf and trailing
// whitespace from the last one.
func trimEdges(nodes []doc.SerializedNode) {
	if first := edgeLeaf(nodes, true); first != nil {
		first.Text = strings.TrimLeft(first.Text, " \n")
	}
	if last := edgeLeaf(nodes, false); last != nil {
		last.Text = strings.TrimRight(last.Text, " \n")
	}
}

func edgeLeaf(nodes []doc.SerializedNode, first bool) *doc.SerializedNode {
	if len(nodes) == 0 {
		return nil
	}
	n := &nodes[len(nodes)-1]
	if first {
		n = &nodes[0]
	}
	if n.Type == doc.KindMark.String() {
		return edgeLeaf(n.Children, first)
	}
	return n
}

func skipped(n *html.Node) bool {
	switch n.Data {
	case "script", "style", "head", "template", "nav", "noscript":
		return true
	case "sup":
		return hasClass(n, "refs")
	}
	return false
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key == "class" && slices.Contains(strings.Fields(a.Val), class) {
			return true
		}
	}
	return false
}

func isBlock(tag string) bool {
	switch tag {
	case "html", "body", "div", "section", "article", "main", "header", "footer", "aside",
		"ul", "ol", "li", "dl", "dt", "dd", "blockquote", "figure", "figcaption",
		"table", "thead", "tbody", "tfoot", "tr", "td", "th", "hr":
		return true
	}
	return false
}

func headingLevel(tag string) int {
	if len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6' {
		return int(tag[1] - '0')
	}
	return 0
}

func textContent(n *html.Node) string {
	var buf strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)
	return buf.String()
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}
