package summary

import (
	"github.com/sirupsen/logrus"
	"github.com/vitebski/edmsync/internal/artifact"
)

// ExistingModelSummary is a snapshot of the model being updated, taken before
// any changes from the database are merged into it
type ExistingModelSummary struct {
	*modelSnapshot
}

// NewExistingModelSummary summarizes the artifact
func NewExistingModelSummary(a *artifact.Artifact, logger *logrus.Logger) (*ExistingModelSummary, error) {
	s, err := newModelSnapshot(a, logger)
	if err != nil {
		return nil, err
	}
	s.Logger.WithFields(s.LogFields()).Debug("Built existing model summary")
	return &ExistingModelSummary{modelSnapshot: s}, nil
}

// TraceString renders the summary for diagnostics
func (s *ExistingModelSummary) TraceString() string {
	return s.traceString("ExistingModelSummary")
}
