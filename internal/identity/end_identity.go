package identity

import (
	"strings"

	"github.com/vitebski/edmsync/internal/artifact"
	"github.com/vitebski/edmsync/pkg/models"
)

// AssociationEndIdentity is the set of property identities for one end of an association
type AssociationEndIdentity struct {
	properties *SortedList[*AssociationPropertyIdentity]
}

// NewAssociationEndIdentity creates an end identity from property identities
func NewAssociationEndIdentity(properties ...*AssociationPropertyIdentity) *AssociationEndIdentity {
	return &AssociationEndIdentity{
		properties: NewSortedList(ComparePropertyIdentities, properties...),
	}
}

// AssociationEndIdentityForEnd builds the identity of one end of an association set mapping
func AssociationEndIdentityForEnd(a *artifact.Artifact, asm *models.AssociationSetMapping, end models.EndProperty) *AssociationEndIdentity {
	return NewAssociationEndIdentity(PropertyIdentitiesForEnd(a, asm, end)...)
}

// Properties returns the property identities in sorted order
func (e *AssociationEndIdentity) Properties() []*AssociationPropertyIdentity {
	return e.properties.Items()
}

// IsPrincipalEnd reports whether no property of this end maps its dependent
// columns onto its own principal columns
func (e *AssociationEndIdentity) IsPrincipalEnd() bool {
	for _, p := range e.properties.items {
		if p.referencesOwnKey() {
			return false
		}
	}
	return true
}

// IsCoveredBy reports whether every property identity of this end is covered
// by some property identity of other, in any order
func (e *AssociationEndIdentity) IsCoveredBy(other *AssociationEndIdentity) bool {
	if other == nil {
		return false
	}
	for _, p := range e.properties.items {
		if !anyCovers(other.properties.items, p) {
			return false
		}
	}
	return true
}

// Compare orders end identities by their sorted property identities
func (e *AssociationEndIdentity) Compare(other *AssociationEndIdentity) int {
	return CompareListContents(e.properties, other.properties)
}

// Equal reports whether both ends hold the same property identities
func (e *AssociationEndIdentity) Equal(other *AssociationEndIdentity) bool {
	if e == nil || other == nil {
		return e == other
	}
	return e.Compare(other) == 0
}

// TraceString renders the end for diagnostics
func (e *AssociationEndIdentity) TraceString() string {
	return "[" + traceProperties(e.properties.items) + "]"
}

func anyCovers(candidates []*AssociationPropertyIdentity, p *AssociationPropertyIdentity) bool {
	for _, q := range candidates {
		if p.IsCoveredBy(q) {
			return true
		}
	}
	return false
}

func traceProperties(props []*AssociationPropertyIdentity) string {
	parts := make([]string, 0, len(props))
	for _, p := range props {
		parts = append(parts, p.TraceString())
	}
	return strings.Join(parts, " ")
}
