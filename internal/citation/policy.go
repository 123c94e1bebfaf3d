package citation

import "github.com/ppiankov/twinsight/internal/model"

// SurvivalPolicy decides whether a resolved entry contributes to the final
// source list. cited is true when an emitted marker references the entry's
// document.
type SurvivalPolicy func(entry model.CitationEntry, cited bool) bool

// KeepCitedOrConfirmed keeps entries referenced in the text, plus entries
// that came from the backend's own source list. Positional and textual
// entries survive only through an in-text marker.
func KeepCitedOrConfirmed(entry model.CitationEntry, cited bool) bool {
	return cited || entry.Origin == model.OriginBackendSource
}

// KeepCitedOnly keeps only entries referenced by an in-text marker
func KeepCitedOnly(_ model.CitationEntry, cited bool) bool {
	return cited
}
