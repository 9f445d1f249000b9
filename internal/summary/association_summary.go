package summary

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/edmsync/internal/artifact"
	"github.com/vitebski/edmsync/internal/identity"
)

// AssociationSummary indexes the association identities of a model by
// association name and by every table the identities touch
type AssociationSummary struct {
	identities map[string]identity.AssociationIdentity
	names      []string
	byTable    map[identity.DatabaseObject][]identity.AssociationIdentity
	untabled   []identity.AssociationIdentity
}

// NewAssociationSummary creates an empty summary
func NewAssociationSummary() *AssociationSummary {
	return &AssociationSummary{
		identities: make(map[string]identity.AssociationIdentity),
		byTable:    make(map[identity.DatabaseObject][]identity.AssociationIdentity),
	}
}

// ConstructAssociationSummary records an identity for every association of
// the artifact. Legacy models are summarized from their association set
// mappings alone; otherwise referential constraints are preferred and
// association set mappings are the fallback.
func ConstructAssociationSummary(a *artifact.Artifact) (*AssociationSummary, error) {
	s := NewAssociationSummary()

	if !a.ForeignKeysInModel() {
		for _, asm := range a.AssociationSetMappings() {
			if id := identity.AssociationIdentityForAssociationSetMapping(a, asm); id != nil {
				s.Add(a.NormalizedName(asm.Association), id)
			}
		}
		return s, nil
	}

	for _, assoc := range a.Associations() {
		name := a.AssociationName(assoc)
		if assoc.ReferentialConstraint != nil && !assoc.IsManyToMany() {
			id, err := identity.AssociationIdentityForReferentialConstraint(a, assoc)
			if err != nil {
				return nil, fmt.Errorf("summarizing association %s: %w", name, err)
			}
			s.Add(name, id)
			continue
		}

		asm := a.AssociationSetMappingFor(assoc)
		if asm == nil {
			a.Logger.Debugf("Association %s has no association set mapping", name)
			continue
		}
		if id := identity.AssociationIdentityForAssociationSetMapping(a, asm); id != nil {
			s.Add(name, id)
		}
	}
	return s, nil
}

// Add records the identity of the named association. Adding a second identity
// under the same name replaces the name lookup but keeps both indexed.
func (s *AssociationSummary) Add(name string, id identity.AssociationIdentity) {
	if id == nil {
		return
	}
	if _, exists := s.identities[name]; !exists {
		s.names = append(s.names, name)
	}
	s.identities[name] = id

	tables := id.AssociationTables()
	if len(tables) == 0 {
		s.untabled = append(s.untabled, id)
		return
	}
	for _, t := range tables {
		s.byTable[t] = append(s.byTable[t], id)
	}
}

// Identity returns the identity recorded for the named association
func (s *AssociationSummary) Identity(name string) (identity.AssociationIdentity, bool) {
	id, ok := s.identities[name]
	return id, ok
}

// Names returns the association names in the order they were added
func (s *AssociationSummary) Names() []string {
	return append([]string(nil), s.names...)
}

// Len returns the number of named associations
func (s *AssociationSummary) Len() int {
	return len(s.names)
}

// Contains reports whether some recorded identity covers id. Only identities
// sharing a table with id are compared; an identity without tables is
// compared against everything.
func (s *AssociationSummary) Contains(id identity.AssociationIdentity) bool {
	if id == nil {
		return false
	}
	tables := id.AssociationTables()
	if len(tables) == 0 {
		for _, name := range s.names {
			if id.IsCoveredBy(s.identities[name]) {
				return true
			}
		}
		for _, candidate := range s.untabled {
			if id.IsCoveredBy(candidate) {
				return true
			}
		}
		return false
	}
	for _, t := range tables {
		for _, candidate := range s.byTable[t] {
			if id.IsCoveredBy(candidate) {
				return true
			}
		}
	}
	return false
}

// TraceString renders the summary for diagnostics
func (s *AssociationSummary) TraceString() string {
	var sb strings.Builder
	sb.WriteString("[AssociationSummary")
	for _, name := range s.names {
		fmt.Fprintf(&sb, " %s=%s", name, s.identities[name].TraceString())
	}
	tables := make([]identity.DatabaseObject, 0, len(s.byTable))
	for t := range s.byTable {
		tables = append(tables, t)
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].Compare(tables[j]) < 0 })
	for _, t := range tables {
		fmt.Fprintf(&sb, " %s:%d", t, len(s.byTable[t]))
	}
	sb.WriteString("]")
	return sb.String()
}

// LogFields returns the summary as structured log fields
func (s *AssociationSummary) LogFields() logrus.Fields {
	return logrus.Fields{
		"associations":       len(s.names),
		"association_tables": len(s.byTable),
		"untabled":           len(s.untabled),
	}
}
