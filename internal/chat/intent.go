package chat

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ppiankov/twinsight/internal/model"
)

// seriesPhrases mark a message as asking about sensor history
var seriesPhrases = []string{"温度", "趋势", "历史数据", "temperature", "trend", "history"}

// fillerPhrases are removed when the rest of a message is used as a
// location name
var fillerPhrases = []string{
	"查询", "查看", "显示", "看看", "看一下", "帮我", "请", "一下", "最近", "过去",
	"今天", "昨天", "本周", "一周", "的", "情况", "数据", "变化", "曲线", "是多少", "多少", "怎么样", "如何",
	"show", "me", "the", "of", "for", "in", "what", "is", "last", "recent", "data",
}

var (
	// codeToken matches identifiers like PUMP-01, R101 or B1-201
	codeToken   = regexp.MustCompile(`\b[A-Za-z]{1,8}[-_]?\d[A-Za-z0-9]*(?:[-_][A-Za-z0-9]+)*\b`)
	punctuation = regexp.MustCompile(`[\s,.;:!?，。；：！？、"'“”‘’()（）]+`)
)

// HasSeriesIntent reports whether the message asks for sensor data
func HasSeriesIntent(msg string) bool {
	lower := strings.ToLower(msg)
	for _, p := range seriesPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Candidates returns identifier candidates for the message, best first.
// The heuristics run in a fixed order:
//  1. code-like tokens in the message
//  2. the longest known space or asset name or code contained in the message
//  3. the message with intent and filler phrases removed
//  4. the code of the selected entity
//
// Duplicates are dropped. The result is approximate by nature; callers
// confirm each candidate against the known sensor tags.
func Candidates(msg string, vocabulary []model.CatalogEntry, selected string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(s string) {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, s)
	}

	for _, tok := range codeToken.FindAllString(msg, -1) {
		add(tok)
	}

	if e, ok := longestMention(msg, vocabulary); ok {
		add(e.Code)
	}

	add(stripPhrases(msg))
	add(selected)
	return out
}

// longestMention finds the catalog entry whose name or code is the longest
// substring of msg. Names shorter than two runes are ignored.
func longestMention(msg string, vocabulary []model.CatalogEntry) (model.CatalogEntry, bool) {
	lower := strings.ToLower(msg)
	var best model.CatalogEntry
	bestLen := 0

	for _, e := range vocabulary {
		for _, term := range []string{e.Name, e.Code} {
			n := utf8.RuneCountInString(term)
			if n < 2 || n <= bestLen {
				continue
			}
			if strings.Contains(lower, strings.ToLower(term)) {
				best, bestLen = e, n
			}
		}
	}
	return best, bestLen > 0
}

// stripPhrases removes intent and filler phrases, longest first, and
// returns what is left
func stripPhrases(msg string) string {
	phrases := append(append([]string{}, seriesPhrases...), fillerPhrases...)
	sort.Slice(phrases, func(i, j int) bool {
		return utf8.RuneCountInString(phrases[i]) > utf8.RuneCountInString(phrases[j])
	})

	rest := strings.ToLower(msg)
	for _, p := range phrases {
		if isASCII(p) {
			rest = replaceWord(rest, p)
		} else {
			rest = strings.ReplaceAll(rest, p, " ")
		}
	}
	rest = durationWords.ReplaceAllString(rest, " ")
	rest = strings.TrimSpace(punctuation.ReplaceAllString(rest, " "))
	if utf8.RuneCountInString(rest) < 2 {
		return ""
	}
	return rest
}

var durationWords = regexp.MustCompile(`(?i)\b\d+\s*[hdw]\b`)

func replaceWord(s, word string) string {
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(word) + `\b`)
	return re.ReplaceAllString(s, " ")
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
