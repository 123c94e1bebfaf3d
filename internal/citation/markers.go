package citation

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"

	xhtml "golang.org/x/net/html"
)

const markerClass = "ai-doc-link"

// markerPattern matches markers emitted by Marker. Inner text and names are
// escaped, so neither contains '<' or '"'.
var markerPattern = regexp.MustCompile(`<span class="ai-doc-link" data-id="\d+" data-name="[^"]*">[^<]*</span>`)

// Marker renders the inline evidence link for a document
func Marker(docID int64, name, text string) string {
	return fmt.Sprintf(`<span class="%s" data-id="%d" data-name="%s">%s</span>`,
		markerClass, docID, html.EscapeString(name), html.EscapeString(text))
}

// mapOutsideMarkers applies fn to every stretch of text that is not an
// existing marker and leaves markers untouched.
func mapOutsideMarkers(text string, fn func(string) string) string {
	locs := markerPattern.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return fn(text)
	}

	var b strings.Builder
	b.Grow(len(text))
	prev := 0
	for _, loc := range locs {
		b.WriteString(fn(text[prev:loc[0]]))
		b.WriteString(text[loc[0]:loc[1]])
		prev = loc[1]
	}
	b.WriteString(fn(text[prev:]))
	return b.String()
}

// citedDocIDs collects the document ids referenced by markers in text
func citedDocIDs(text string) map[int64]bool {
	ids := make(map[int64]bool)
	z := xhtml.NewTokenizer(strings.NewReader(text))
	for {
		switch z.Next() {
		case xhtml.ErrorToken:
			return ids
		case xhtml.StartTagToken:
			tok := z.Token()
			if tok.Data != "span" {
				continue
			}
			var class, id string
			for _, attr := range tok.Attr {
				switch attr.Key {
				case "class":
					class = attr.Val
				case "data-id":
					id = attr.Val
				}
			}
			if !hasClass(class, markerClass) {
				continue
			}
			if n, err := strconv.ParseInt(id, 10, 64); err == nil && n > 0 {
				ids[n] = true
			}
		}
	}
}

func hasClass(classAttr, want string) bool {
	for _, c := range strings.Fields(classAttr) {
		if c == want {
			return true
		}
	}
	return false
}

// CountMarkers returns how many evidence-link markers text contains
func CountMarkers(text string) int {
	return len(markerPattern.FindAllStringIndex(text, -1))
}
