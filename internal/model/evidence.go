package model

import (
	"path/filepath"
	"strings"
)

// EvidenceDocument is a catalog document that may be cited by an analysis
type EvidenceDocument struct {
	ID             int64  `json:"id"`
	Title          string `json:"title,omitempty"`
	FileName       string `json:"fileName"`
	FileType       string `json:"fileType,omitempty"`
	AssociatedCode string `json:"associatedCode,omitempty"` // space, asset or spec code
}

// DisplayName returns the name shown to users for the document
func (d EvidenceDocument) DisplayName() string {
	if d.FileName != "" {
		return d.FileName
	}
	return d.Title
}

// IsImage reports whether the document is an image file
func (d EvidenceDocument) IsImage() bool {
	return IsImageFile(d.FileName)
}

// EvidenceAsset is an asset located in the space under analysis
type EvidenceAsset struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	SpecCode string `json:"specCode,omitempty"`
	Room     string `json:"room,omitempty"`
}

// Evidence is the bundle assembled for one request
type Evidence struct {
	Assets         []EvidenceAsset    `json:"assets"`
	Documents      []EvidenceDocument `json:"documents"`
	SearchPatterns []string           `json:"searchPatterns"`
}

// DocumentIDs returns the ids of all evidence documents in order
func (e *Evidence) DocumentIDs() []int64 {
	if e == nil {
		return nil
	}
	ids := make([]int64, 0, len(e.Documents))
	for _, d := range e.Documents {
		ids = append(ids, d.ID)
	}
	return ids
}

// Location identifies the space an evidence search is scoped to
type Location struct {
	Code    string `json:"code"`
	Name    string `json:"name,omitempty"`
	ModelID int64  `json:"modelId,omitempty"`
}

// CatalogEntry is a space or asset known to the catalog, used to map
// free-text mentions onto sensor tags
type CatalogEntry struct {
	Kind string `json:"kind"` // "space" or "asset"
	Code string `json:"code"`
	Name string `json:"name"`
}

// DocumentQuery describes a catalog document search
type DocumentQuery struct {
	LocationPatterns []string // matched against the document's space code
	NamePatterns     []string // matched against the file name
	AssetCodes       []string
	SpecCodes        []string
	ModelID          int64
	ExcludeImages    bool
	Limit            int
}

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
}

// ImageExtensions returns the file extensions treated as images
func ImageExtensions() []string {
	return []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp"}
}

// IsImageFile reports whether the file name has an image extension
func IsImageFile(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// BaseName strips the extension from a file name
func BaseName(name string) string {
	ext := filepath.Ext(name)
	if ext == "" || ext == name {
		return name
	}
	return strings.TrimSuffix(name, ext)
}
