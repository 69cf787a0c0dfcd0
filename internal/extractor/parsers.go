package extractor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

func parseText(data []byte) ([]string, error) {
	return []string{string(data)}, nil
}

// parseJSON accepts an array of strings, an array of objects with a "text"
// field, or a single such object.
func parseJSON(data []byte) ([]string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] == '{' {
		var obj map[string]any
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, err
		}
		t, ok := obj["text"].(string)
		if !ok {
			return nil, errors.New(`field "text" not found`)
		}
		return []string{t}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(items))
	for i, raw := range items {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			out = append(out, s)
			continue
		}
		var obj struct {
			Text *string `json:"text"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil || obj.Text == nil {
			return nil, fmt.Errorf(`item %d: field "text" not found`, i)
		}
		out = append(out, *obj.Text)
	}
	return out, nil
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.Table, extension.Strikethrough))

// parseMarkdown returns the document text with markup removed. Blocks are
// separated by blank lines so the chunker can split on them.
func parseMarkdown(data []byte) ([]string, error) {
	doc := markdown.Parser().Parse(text.NewReader(data))
	var b strings.Builder
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch n := n.(type) {
		case *ast.Text:
			if entering {
				b.Write(n.Segment.Value(data))
				if n.SoftLineBreak() || n.HardLineBreak() {
					b.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				b.Write(n.Value)
			}
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					b.Write(seg.Value(data))
				}
				b.WriteString("\n")
			}
			return ast.WalkSkipChildren, nil
		case *extast.TableCell:
			if !entering {
				b.WriteString(" ")
			}
		case *ast.Heading, *ast.Paragraph, *ast.TextBlock, *extast.TableRow, *extast.TableHeader:
			if !entering {
				b.WriteString("\n\n")
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}
	return []string{strings.TrimSpace(b.String())}, nil
}

var htmlBlocks = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "li": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"pre": true, "blockquote": true, "tr": true, "br": true, "table": true,
}

// parseHTML returns the visible text of the page body.
func parseHTML(data []byte) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	doc.Find("script, style, noscript, nav, footer, aside, head").Remove()
	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	var b strings.Builder
	collectHTML(root, &b)
	return []string{strings.TrimSpace(b.String())}, nil
}

func collectHTML(sel *goquery.Selection, b *strings.Builder) {
	sel.Contents().Each(func(_ int, s *goquery.Selection) {
		name := goquery.NodeName(s)
		if name == "#text" {
			if t := strings.Join(strings.Fields(s.Text()), " "); t != "" {
				if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
					b.WriteByte(' ')
				}
				b.WriteString(t)
			}
			return
		}
		collectHTML(s, b)
		if htmlBlocks[name] && !strings.HasSuffix(b.String(), "\n\n") && b.Len() > 0 {
			b.WriteString("\n\n")
		}
	})
}
