// Package render converts markdown source into display-ready HTML plus a
// table of contents. Rendering is a pure function of the input: every call
// builds its own parser state, so concurrent requests never share anything.
//
// Raw HTML embedded in the source is escaped by the renderer. Content comes
// from third-party-editable repositories and is shown to other users, so the
// output must never carry an executable tag from the source.
package render

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

// Headings deeper than this are rendered but left out of the TOC.
const maxTOCLevel = 3

type tocItem struct {
	Level int
	Text  string
	ID    string
}

func newMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Footnote,
			extension.DefinitionList,
			extension.Typographer,
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)
}

// Render converts markdown to HTML and a heading table of contents. Heading
// anchors use Unicode-aware slugs so the TOC links are permalinks into the
// document.
func Render(source []byte) (string, string, error) {
	md := newMarkdown()
	pctx := parser.NewContext(parser.WithIDs(newSlugIDs()))
	doc := md.Parser().Parse(text.NewReader(source), parser.WithContext(pctx))

	items := collectHeadings(doc, source)

	var buf bytes.Buffer
	if err := md.Renderer().Render(&buf, source, doc); err != nil {
		return "", "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), renderTOC(items), nil
}

func collectHeadings(doc ast.Node, source []byte) []tocItem {
	var items []tocItem
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := n.(*ast.Heading)
		if !ok || heading.Level > maxTOCLevel {
			return ast.WalkContinue, nil
		}
		id := ""
		if value, found := heading.AttributeString("id"); found {
			if raw, ok := value.([]byte); ok {
				id = string(raw)
			}
		}
		items = append(items, tocItem{
			Level: heading.Level,
			Text:  nodeText(heading, source),
			ID:    id,
		})
		return ast.WalkContinue, nil
	})
	return items
}

func nodeText(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(source))
		case *ast.String:
			b.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

// renderTOC builds a nested list mirroring the heading hierarchy. An empty
// document yields an empty TOC rather than an empty list element.
func renderTOC(items []tocItem) string {
	if len(items) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(`<div class="toc"><ul>`)
	level := items[0].Level
	base := level
	b.WriteString("<li>")
	writeTOCLink(&b, items[0])
	for _, item := range items[1:] {
		switch {
		case item.Level > level:
			for ; level < item.Level; level++ {
				b.WriteString("<ul><li>")
			}
		case item.Level < level:
			target := item.Level
			if target < base {
				target = base
			}
			for ; level > target; level-- {
				b.WriteString("</li></ul>")
			}
			b.WriteString("</li><li>")
		default:
			b.WriteString("</li><li>")
		}
		writeTOCLink(&b, item)
	}
	for ; level > base; level-- {
		b.WriteString("</li></ul>")
	}
	b.WriteString("</li></ul></div>")
	return b.String()
}

func writeTOCLink(b *strings.Builder, item tocItem) {
	b.WriteString(`<a href="#`)
	b.WriteString(item.ID)
	b.WriteString(`">`)
	b.WriteString(html.EscapeString(item.Text))
	b.WriteString("</a>")
}
