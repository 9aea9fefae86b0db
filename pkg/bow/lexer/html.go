package lexer

import (
	"strings"

	"golang.org/x/net/html"
)

// HTML strips markup before handing the remaining text off to an
// embedded Simple lexer: walk the parse tree, skip <script>/<style>
// bodies (whose contents are never prose), and concatenate the text
// nodes.
type HTML struct {
	Text *Simple
}

// NewHTML wraps a Simple tokenizer with an HTML-stripping front end.
func NewHTML(text *Simple) *HTML {
	return &HTML{Text: text}
}

// Lex parses document as HTML, extracts visible text, and tokenizes it
// with the embedded Simple lexer. Malformed markup is tolerated the way
// golang.org/x/net/html tolerates it: best-effort recovery, not a fatal
// parse error — a corrupt on-disk segment is fatal, but corrupt
// document text never is.
func (h *HTML) Lex(document string) []Token {
	return h.Text.Lex(extractText(document))
}

func extractText(document string) string {
	node, err := html.Parse(strings.NewReader(document))
	if err != nil {
		// Fall back to treating the input as plain text rather than
		// dropping the document entirely.
		return document
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch strings.ToLower(n.Data) {
			case "script", "style":
				return
			}
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)
	return sb.String()
}
