package pipeline

import (
	"context"
	"time"

	"github.com/ppiankov/twinsight/internal/model"
)

// SubjectKind says what an analysis is about
type SubjectKind string

const (
	SubjectAlert  SubjectKind = "temperature_alert"
	SubjectManual SubjectKind = "manual_analysis"
)

// Subject is the input of one analysis: an alert, or a target with an
// optional question
type Subject struct {
	Kind       SubjectKind
	Alert      *model.Alert
	Target     *model.Target
	Question   string
	ModelID    int64
	APIBaseURL string // base URL the workflow can call back into
}

// Location returns the location evidence is gathered for
func (s Subject) Location() model.Location {
	switch {
	case s.Alert != nil:
		return model.Location{Code: s.Alert.LocationCode, Name: s.Alert.LocationName, ModelID: s.Alert.ModelID}
	case s.Target != nil:
		loc := model.Location{Code: s.Target.LocationCode(), ModelID: s.ModelID}
		if s.Target.Type != "asset" {
			loc.Name = s.Target.Name
		}
		return loc
	}
	return model.Location{ModelID: s.ModelID}
}

func (s Subject) modelID() int64 {
	if s.Alert != nil && s.Alert.ModelID != 0 {
		return s.Alert.ModelID
	}
	return s.ModelID
}

func (s Subject) timestamp() time.Time {
	if s.Alert != nil && !s.Alert.Timestamp.IsZero() {
		return s.Alert.Timestamp
	}
	return time.Now().UTC()
}

// Request is what an adapter runs
type Request struct {
	Subject      Subject
	Evidence     *model.Evidence
	WorkflowPath string // overrides the configured path for workflow engines
}

// Output is the raw backend answer before citation resolution
type Output struct {
	Text           string
	SourceIndexMap model.SourceIndexMap
}

// Adapter produces analysis text from a backend
type Adapter interface {
	Run(ctx context.Context, req Request) (*Output, error)
}
