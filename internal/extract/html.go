package extract

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// FromHTML approximates what a browser reports for document.title and
// body.innerText: text of the whole body with scripts and styles skipped and
// block elements separated by line breaks.
func FromHTML(input []byte) (title, text string) {
	node, err := html.Parse(bytes.NewReader(input))
	if err != nil || node == nil {
		return "", ""
	}

	if head := findFirst(node, "head"); head != nil {
		if t := findFirst(head, "title"); t != nil && t.FirstChild != nil {
			title = collapseSpaces(strings.TrimSpace(t.FirstChild.Data))
		}
	}

	body := findFirst(node, "body")
	if body == nil {
		return title, ""
	}
	var b strings.Builder
	collectText(&b, body, false)
	return title, normalizeWhitespace(b.String())
}

func findFirst(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && strings.EqualFold(n.Data, tag) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if res := findFirst(c, tag); res != nil {
			return res
		}
	}
	return nil
}

// blockTags start on a new line in rendered text.
var blockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "main": true,
	"header": true, "footer": true, "nav": true, "aside": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"li": true, "ul": true, "ol": true, "tr": true, "table": true,
	"blockquote": true, "pre": true, "form": true, "figure": true,
}

func collectText(b *strings.Builder, n *html.Node, inPre bool) {
	if n.Type == html.ElementNode {
		switch name := strings.ToLower(n.Data); name {
		case "script", "style", "noscript", "template", "head":
			return
		case "br":
			b.WriteString("\n")
			return
		case "pre":
			inPre = true
			lineBreak(b)
		default:
			if blockTags[name] {
				lineBreak(b)
			}
		}
	}

	if n.Type == html.TextNode {
		data := n.Data
		if !inPre {
			data = strings.NewReplacer("\t", " ", "\r", " ", "\n", " ").Replace(data)
		}
		b.WriteString(data)
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(b, c, inPre)
	}

	if n.Type == html.ElementNode {
		name := strings.ToLower(n.Data)
		if blockTags[name] {
			lineBreak(b)
		}
		if name == "p" || isHeading(name) {
			b.WriteString("\n")
		}
	}
}

// lineBreak ends the current line unless it is already ended.
func lineBreak(b *strings.Builder) {
	s := b.String()
	if strings.TrimSpace(s[strings.LastIndexByte(s, '\n')+1:]) != "" {
		b.WriteByte('\n')
	}
}

// normalizeWhitespace trims every line, collapses inner runs of spaces and
// keeps at most one blank line in a row.
func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if len(out) == 0 || out[len(out)-1] == "" {
				continue
			}
			out = append(out, "")
			continue
		}
		out = append(out, collapseSpaces(trimmed))
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}

func collapseSpaces(s string) string {
	var b strings.Builder
	lastSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\u00a0' {
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return b.String()
}

func isHeading(name string) bool {
	return len(name) == 2 && name[0] == 'h' && name[1] >= '1' && name[1] <= '6'
}
