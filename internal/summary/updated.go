package summary

import (
	"github.com/sirupsen/logrus"
	"github.com/vitebski/edmsync/internal/artifact"
	"github.com/vitebski/edmsync/internal/identity"
	"github.com/vitebski/edmsync/pkg/models"
)

// UpdatedModelSummary is a snapshot of the model generated from the database.
// Generated models map each table or view to exactly one entity type.
type UpdatedModelSummary struct {
	*modelSnapshot
	objectEntityTypeName map[identity.DatabaseObject]string
}

// NewUpdatedModelSummary summarizes a model generated from the database
func NewUpdatedModelSummary(a *artifact.Artifact, logger *logrus.Logger) (*UpdatedModelSummary, error) {
	s, err := newModelSnapshot(a, logger)
	if err != nil {
		return nil, err
	}
	u := &UpdatedModelSummary{
		modelSnapshot:        s,
		objectEntityTypeName: make(map[identity.DatabaseObject]string),
	}
	for obj, names := range s.objectEntityTypeNames {
		sorted := sortedNames(names)
		if len(sorted) > 1 {
			s.Logger.Warningf("Table %s is mapped by %d entity types in the generated model, using %s", obj, len(sorted), sorted[0])
		}
		u.objectEntityTypeName[obj] = sorted[0]
	}
	s.Logger.WithFields(s.LogFields()).Debug("Built updated model summary")
	return u, nil
}

// EntityTypeNameForDatabaseObject returns the name of the entity type generated for obj
func (s *UpdatedModelSummary) EntityTypeNameForDatabaseObject(obj identity.DatabaseObject) (string, bool) {
	name, ok := s.objectEntityTypeName[obj]
	return name, ok
}

// EntityTypeForDatabaseObject resolves the entity type generated for obj against the live artifact
func (s *UpdatedModelSummary) EntityTypeForDatabaseObject(live *artifact.Artifact, obj identity.DatabaseObject) *models.EntityType {
	types := s.EntityTypesForDatabaseObject(live, obj)
	if len(types) == 0 {
		return nil
	}
	return types[0]
}

// TraceString renders the summary for diagnostics
func (s *UpdatedModelSummary) TraceString() string {
	return s.traceString("UpdatedModelSummary")
}
