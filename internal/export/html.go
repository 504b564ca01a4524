package export

import (
	"bytes"
	"html/template"
	"strconv"
	"strings"
	"time"

	"marginalia/internal/comments"
	"marginalia/internal/doc"
)

var documentTemplate = template.Must(template.New("document").Funcs(template.FuncMap{
	"formatTime": func(ms int64) string {
		return time.UnixMilli(ms).UTC().Format("Jan 2, 2006 15:04")
	},
}).Parse(documentHTML))

type templateData struct {
	Title       string
	UpdatedBy   string
	UpdatedAt   time.Time
	ContentHTML template.HTML
	Threads     []templateThread
}

type templateThread struct {
	Number   int
	ID       string
	Quote    string
	Anchored bool
	Comments []comments.Comment
}

// RenderHTML renders d as a standalone HTML page. Marks become
// <mark data-ids="..."> elements followed by the numbers of their threads;
// with includeThreads the threads are listed in an appendix.
func RenderHTML(d Document, includeThreads bool) (string, error) {
	numbers := threadNumbers(d.Content, d.Comments)

	var content strings.Builder
	for _, block := range d.Content.Children {
		writeNode(&content, block, numbers, includeThreads)
	}

	data := templateData{
		Title:       d.Title,
		UpdatedBy:   d.UpdatedBy,
		UpdatedAt:   d.UpdatedAt,
		ContentHTML: template.HTML(content.String()),
	}
	if includeThreads {
		data.Threads = appendix(d, numbers)
	}

	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// threadNumbers numbers the threads in the order their first mark appears,
// then the threads no mark refers to any more.
func threadNumbers(root doc.SerializedNode, items []comments.Item) map[string]int {
	known := map[string]bool{}
	for _, item := range items {
		if item.ItemType() == comments.TypeThread {
			known[item.ItemID()] = true
		}
	}
	numbers := map[string]int{}
	var walk func(n doc.SerializedNode)
	walk = func(n doc.SerializedNode) {
		for _, id := range n.IDs {
			if _, ok := numbers[id]; !ok && known[id] {
				numbers[id] = len(numbers) + 1
			}
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)
	return numbers
}

func appendix(d Document, numbers map[string]int) []templateThread {
	anchored := make([]templateThread, len(numbers))
	var floating []templateThread
	for _, item := range d.Comments {
		t, ok := item.(comments.Thread)
		if !ok {
			continue
		}
		entry := templateThread{ID: t.ID, Quote: t.Quote, Comments: t.Comments}
		if n, ok := numbers[t.ID]; ok {
			entry.Number, entry.Anchored = n, true
			anchored[n-1] = entry
			continue
		}
		floating = append(floating, entry)
	}
	for i := range floating {
		floating[i].Number = len(anchored) + i + 1
	}
	return append(anchored, floating...)
}

func writeNode(b *strings.Builder, n doc.SerializedNode, numbers map[string]int, refs bool) {
	switch n.Type {
	case doc.KindText.String():
		b.WriteString(template.HTMLEscapeString(n.Text))
	case doc.KindParagraph.String():
		b.WriteString("<p>")
		for _, c := range n.Children {
			writeNode(b, c, numbers, refs)
		}
		b.WriteString("</p>\n")
	case doc.KindMark.String():
		b.WriteString(`<mark data-ids="`)
		b.WriteString(template.HTMLEscapeString(strings.Join(n.IDs, ",")))
		b.WriteString(`">`)
		for _, c := range n.Children {
			writeNode(b, c, numbers, refs)
		}
		b.WriteString("</mark>")
		if refs {
			writeRefs(b, n.IDs, numbers)
		}
	default:
		for _, c := range n.Children {
			writeNode(b, c, numbers, refs)
		}
	}
}

func writeRefs(b *strings.Builder, ids []string, numbers map[string]int) {
	var refs []string
	for _, id := range ids {
		if n, ok := numbers[id]; ok {
			refs = append(refs, `<a href="#thread-`+strconv.Itoa(n)+`">`+strconv.Itoa(n)+`</a>`)
		}
	}
	if len(refs) > 0 {
		b.WriteString(`<sup class="refs">` + strings.Join(refs, ",") + `</sup>`)
	}
}

const documentHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Georgia, serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    mark { background: #fff3b0; }
    sup.refs a { color: #8a6d00; text-decoration: none; }
    .thread { background: #f5f5f5; padding: 1rem; margin: 1rem 0; border-left: 3px solid #333; }
    .thread blockquote { margin: 0 0 0.5rem; font-style: italic; }
    .thread .detached { color: #999; font-size: 0.85em; }
    .comment .author { font-weight: bold; }
    .comment .time { color: #888; font-size: 0.85em; }
    .comment.deleted { color: #999; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  {{if .UpdatedBy}}<div class="meta">{{.UpdatedBy}}{{if not .UpdatedAt.IsZero}} | {{.UpdatedAt.Format "Jan 2, 2006"}}{{end}}</div>{{end}}
  <div class="content">
{{.ContentHTML}}  </div>
  {{if .Threads}}
  <h2>Discussion</h2>
  {{range .Threads}}
  <div class="thread" id="thread-{{.Number}}" data-thread-id="{{.ID}}">
    <strong>{{.Number}}.</strong>{{if not .Anchored}} <span class="detached">(no longer anchored)</span>{{end}}
    <blockquote>{{.Quote}}</blockquote>
    {{range .Comments}}
    {{if .Deleted}}<div class="comment deleted">Comment deleted</div>
    {{else}}<div class="comment"><span class="author">{{.Author}}</span> <span class="time">{{formatTime .TimeStamp}}</span><p>{{.Content}}</p></div>
    {{end}}{{end}}
  </div>
  {{end}}
  {{end}}
</body>
</html>`
