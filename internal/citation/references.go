package citation

import (
	"fmt"
	"regexp"
	"strings"
)

const referenceHeading = "### 参考的文档"

// Model-authored reference sections are dropped; the list is rebuilt from
// the verified sources.
var referenceSections = []*regexp.Regexp{
	regexp.MustCompile(`(?s)\n*#{2,4}\s*(?:\d+\.\s*)?参考(?:的)?文档.*$`),
	regexp.MustCompile(`(?s)\n*\*\*参考(?:的)?文档\*\*.*$`),
	regexp.MustCompile(`(?is)\n*#{2,4}\s*(?:\d+\.\s*)?references?\s*:?\s*\n.*$`),
}

func stripReferenceSection(text string) string {
	for _, re := range referenceSections {
		text = re.ReplaceAllString(text, "")
	}
	return text
}

type sourceGroup struct {
	docID    int64
	name     string
	minIndex int
}

func appendReferenceSection(text string, groups []sourceGroup) string {
	if len(groups) == 0 {
		return text
	}
	var b strings.Builder
	b.WriteString(strings.TrimRight(text, "\n"))
	b.WriteString("\n\n" + referenceHeading + "\n")
	for _, g := range groups {
		fmt.Fprintf(&b, "[%d] %s\n", g.minIndex, Marker(g.docID, g.name, g.name))
	}
	return b.String()
}
