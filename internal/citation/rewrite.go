package citation

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ppiankov/twinsight/internal/model"
)

// Citation tokens are either bracketed number lists with an optional prefix
// ("[1]", "[1, 2]", "[Source 3]", "【来源2】", "[id: 7]") or prefixed lists
// without brackets ("Source 3", "来源 2", "id: 7"). A bare number never
// matches, and outside brackets "id" needs its colon so prose such as
// "room id 3" stays text.
const (
	bracketPrefix = `((?i:\bsource|\bid)|来源)`
	barePrefix    = `((?i:\bsource\s*[:：]?)|来源\s*[:：]?|(?i:\bid\s*[:：]))`
	citeNumbers   = `(\d+(?:\s*[,，、]\s*\d+)*)`
)

var (
	citationToken = regexp.MustCompile(
		`[\[【]\s*(?:` + bracketPrefix + `\s*[:：]?\s*)?` + citeNumbers + `\s*[\]】]` +
			`|` + barePrefix + `\s*` + citeNumbers,
	)
	numberSplit   = regexp.MustCompile(`\s*[,，、]\s*`)
	adjacentCites = regexp.MustCompile(`\]\s*\[`)
)

// normalizeAdjacent turns "[1][2]" into "[1, 2]"
func normalizeAdjacent(text string) string {
	return adjacentCites.ReplaceAllString(text, ", ")
}

// isYear reports whether a citation number looks like a calendar year
func isYear(num string) bool {
	if len(num) != 4 {
		return false
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return false
	}
	return n >= 1900 && n <= 2100
}

func isASCIIWord(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// linker resolves citation numbers to markers
type linker struct {
	entries *indexMap
	// docs maps local document ids to names for "id:" citations
	docs map[int64]string
}

func (l *linker) link(num string, byDocID bool) string {
	n, err := strconv.Atoi(num)
	if err != nil {
		return num
	}
	if byDocID {
		if name, ok := l.docs[int64(n)]; ok {
			return Marker(int64(n), name, num)
		}
	}
	if e, ok := l.entries.get(n); ok && e.Resolved() {
		return Marker(e.LocalDocID, e.DisplayName, num)
	}
	return num
}

// rewriteNumbers replaces citation tokens outside existing markers with
// normalized "[n, m]" lists, linking every number that resolves.
func (l *linker) rewriteNumbers(text string) string {
	return mapOutsideMarkers(text, l.rewriteSegment)
}

func (l *linker) rewriteSegment(seg string) string {
	matches := citationToken.FindAllStringSubmatchIndex(seg, -1)
	if len(matches) == 0 {
		return seg
	}

	var b strings.Builder
	prev := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		b.WriteString(seg[prev:start])
		prev = end

		token := seg[start:end]
		bracketed := m[4] >= 0
		var prefix, nums string
		if bracketed {
			if m[2] >= 0 {
				prefix = seg[m[2]:m[3]]
			}
			nums = seg[m[4]:m[5]]
		} else {
			prefix = seg[m[6]:m[7]]
			nums = seg[m[8]:m[9]]
		}

		if !l.accept(seg, start, end, bracketed, nums) {
			b.WriteString(token)
			continue
		}

		byDocID := strings.EqualFold(strings.TrimRight(prefix, " \t:："), "id")
		parts := numberSplit.Split(strings.TrimSpace(nums), -1)
		linked := make([]string, 0, len(parts))
		for _, p := range parts {
			linked = append(linked, l.link(p, byDocID))
		}
		b.WriteString("[" + strings.Join(linked, ", ") + "]")
	}
	b.WriteString(seg[prev:])
	return b.String()
}

func (l *linker) accept(seg string, start, end int, bracketed bool, nums string) bool {
	for _, p := range numberSplit.Split(strings.TrimSpace(nums), -1) {
		if isYear(p) {
			return false
		}
	}
	if bracketed && seg[start] == '[' && start > 0 && isASCIIWord(seg[start-1]) {
		// arr[1], x[2]
		return false
	}
	if end < len(seg) && seg[end] == '(' {
		// markdown link [1](...)
		return false
	}
	if !bracketed && end < len(seg) {
		// part of a longer name such as "Source 2.pdf" or "id 3rd"
		next := seg[end]
		if isASCIIWord(next) || (next == '.' && end+1 < len(seg) && isASCIIWord(seg[end+1])) {
			return false
		}
	}
	return true
}

// rewriteNames replaces "[displayName]" and "[displayNameWithoutExtension]"
// tokens with markers for every resolved entry.
func rewriteNames(text string, entries *indexMap) string {
	for _, e := range entries.sorted() {
		if !e.Resolved() || e.DisplayName == "" {
			continue
		}
		names := []string{e.DisplayName}
		if base := model.BaseName(e.DisplayName); base != e.DisplayName && utf8.RuneCountInString(base) >= 2 {
			names = append(names, base)
		}
		for _, name := range names {
			token := "[" + name + "]"
			replacement := "[" + Marker(e.LocalDocID, e.DisplayName, name) + "]"
			text = mapOutsideMarkers(text, func(seg string) string {
				return strings.ReplaceAll(seg, token, replacement)
			})
		}
	}
	return text
}

// linkMentions wraps the first plain-text occurrence of each textually
// matched name in a marker. Longer names go first so a name contained in
// another one cannot split it.
func linkMentions(text string, entries *indexMap) string {
	var matched []*model.CitationEntry
	for _, e := range entries.sorted() {
		if _, ok := entries.terms[e.Index]; ok && e.Resolved() {
			matched = append(matched, e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return len(entries.terms[matched[i].Index]) > len(entries.terms[matched[j].Index])
	})

	for _, e := range matched {
		re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(entries.terms[e.Index]))
		if err != nil {
			continue
		}
		done := false
		text = mapOutsideMarkers(text, func(seg string) string {
			if done {
				return seg
			}
			loc := re.FindStringIndex(seg)
			if loc == nil {
				return seg
			}
			done = true
			return seg[:loc[0]] + Marker(e.LocalDocID, e.DisplayName, seg[loc[0]:loc[1]]) + seg[loc[1]:]
		})
	}
	return text
}
