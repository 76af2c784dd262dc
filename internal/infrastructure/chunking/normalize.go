package chunking

import (
	"strings"

	"golang.org/x/net/html"
)

// normalizeMarkup drops inline tags such as <i> or <sup> that PubMed keeps in
// titles and abstracts, and unescapes entities.
func normalizeMarkup(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if isBlockTag(string(name)) {
				b.WriteByte(' ')
			}
		}
	}
}

func isBlockTag(name string) bool {
	switch name {
	case "p", "br", "div", "li", "tr", "td", "abstracttext", "h1", "h2", "h3", "h4":
		return true
	default:
		return false
	}
}

// documentText joins title and abstract the way chunk offsets are counted.
func documentText(title, abstract string) string {
	title = strings.TrimSpace(normalizeMarkup(title))
	abstract = strings.TrimSpace(normalizeMarkup(abstract))
	return strings.TrimSpace(title + "\n\n" + abstract)
}
