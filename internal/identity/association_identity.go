package identity

import (
	"fmt"
	"strings"

	"github.com/vitebski/edmsync/internal/artifact"
	"github.com/vitebski/edmsync/pkg/models"
)

// AssociationIdentity describes which database columns identify an
// association. There are exactly two implementations: one derived from an
// explicit association set mapping and one derived from a referential
// constraint. Covering between them is resolved by double dispatch through
// the unexported methods, so every pairing of kinds must be implemented.
type AssociationIdentity interface {
	// AssociationTables returns the tables that hold the association's dependent columns
	AssociationTables() []DatabaseObject
	// IsCoveredBy reports whether other describes the same association with
	// the same or more columns
	IsCoveredBy(other AssociationIdentity) bool
	// Equal reports exact equality; identities of different kinds are never equal
	Equal(other AssociationIdentity) bool
	TraceString() string

	coversSetMapping(id *AssociationSetMappingIdentity) bool
	coversConstraint(id *ReferentialConstraintIdentity) bool
}

// AssociationSetMappingIdentity is derived from an association set mapping:
// a single association table plus up to two end identities
type AssociationSetMappingIdentity struct {
	table DatabaseObject
	ends  []*AssociationEndIdentity
}

// NewAssociationSetMappingIdentity creates an identity for an association table and its ends
func NewAssociationSetMappingIdentity(table DatabaseObject, ends ...*AssociationEndIdentity) *AssociationSetMappingIdentity {
	return &AssociationSetMappingIdentity{table: table, ends: ends}
}

// AssociationIdentityForAssociationSetMapping builds the identity of an association set mapping
func AssociationIdentityForAssociationSetMapping(a *artifact.Artifact, asm *models.AssociationSetMapping) *AssociationSetMappingIdentity {
	set := a.StorageEntitySet(asm.StoreEntitySet)
	if set == nil {
		a.Logger.Warningf("Association set mapping %s: unknown store entity set %s", asm.Name, asm.StoreEntitySet)
		return nil
	}
	id := &AssociationSetMappingIdentity{table: DatabaseObjectFromEntitySet(set)}
	for _, end := range asm.Ends {
		id.ends = append(id.ends, AssociationEndIdentityForEnd(a, asm, end))
	}
	return id
}

// Table returns the association table
func (id *AssociationSetMappingIdentity) Table() DatabaseObject {
	return id.table
}

// Ends returns the end identities in mapping order
func (id *AssociationSetMappingIdentity) Ends() []*AssociationEndIdentity {
	return id.ends
}

// PrincipalEnd returns the first end with properties that does not reference
// its own key, or nil
func (id *AssociationSetMappingIdentity) PrincipalEnd() *AssociationEndIdentity {
	for _, end := range id.ends {
		if end.properties.Len() > 0 && end.IsPrincipalEnd() {
			return end
		}
	}
	return nil
}

// AssociationTables returns the single association table
func (id *AssociationSetMappingIdentity) AssociationTables() []DatabaseObject {
	return []DatabaseObject{id.table}
}

// IsCoveredBy reports whether other covers this identity
func (id *AssociationSetMappingIdentity) IsCoveredBy(other AssociationIdentity) bool {
	if other == nil {
		return false
	}
	return other.coversSetMapping(id)
}

// Equal reports whether other maps the same table with the same ends, in either order
func (id *AssociationSetMappingIdentity) Equal(other AssociationIdentity) bool {
	o, ok := other.(*AssociationSetMappingIdentity)
	if !ok || o == nil || id.table != o.table || len(id.ends) != len(o.ends) {
		return false
	}
	switch len(id.ends) {
	case 0:
		return true
	case 1:
		return id.ends[0].Equal(o.ends[0])
	case 2:
		return (id.ends[0].Equal(o.ends[0]) && id.ends[1].Equal(o.ends[1])) ||
			(id.ends[0].Equal(o.ends[1]) && id.ends[1].Equal(o.ends[0]))
	}
	for i := range id.ends {
		if !id.ends[i].Equal(o.ends[i]) {
			return false
		}
	}
	return true
}

// TraceString renders the identity for diagnostics
func (id *AssociationSetMappingIdentity) TraceString() string {
	var sb strings.Builder
	sb.WriteString("[AssociationSetMapping table=")
	sb.WriteString(id.table.String())
	for i, end := range id.ends {
		fmt.Fprintf(&sb, " end%d=%s", i+1, end.TraceString())
	}
	sb.WriteString("]")
	return sb.String()
}

// coversSetMapping: both identities come from association set mappings
func (id *AssociationSetMappingIdentity) coversSetMapping(other *AssociationSetMappingIdentity) bool {
	if other.table != id.table {
		return false
	}
	for _, end := range other.ends {
		covered := false
		for _, candidate := range id.ends {
			if end.IsCoveredBy(candidate) {
				covered = true
				break
			}
		}
		if !covered {
			return false
		}
	}
	return true
}

func (id *AssociationSetMappingIdentity) coversConstraint(other *ReferentialConstraintIdentity) bool {
	return crossCovered(id, other)
}

// ReferentialConstraintIdentity is derived from a conceptual referential
// constraint. Its tables are those holding the dependent columns.
type ReferentialConstraintIdentity struct {
	tables     *SortedList[DatabaseObject]
	properties *SortedList[*AssociationPropertyIdentity]
}

// NewReferentialConstraintIdentity creates an identity from property identities
func NewReferentialConstraintIdentity(properties ...*AssociationPropertyIdentity) *ReferentialConstraintIdentity {
	id := &ReferentialConstraintIdentity{
		tables:     NewSortedList(CompareDatabaseObjects),
		properties: NewSortedList(ComparePropertyIdentities, properties...),
	}
	for _, p := range properties {
		for _, col := range p.dependentColumns.items {
			id.tables.AddUnique(col.Object)
		}
	}
	return id
}

// AssociationIdentityForReferentialConstraint builds the identity of an
// association's referential constraint. It returns nil when the association
// has none.
func AssociationIdentityForReferentialConstraint(a *artifact.Artifact, assoc *models.Association) (*ReferentialConstraintIdentity, error) {
	if assoc.ReferentialConstraint == nil {
		return nil, nil
	}
	props, err := PropertyIdentitiesForReferentialConstraint(a, assoc)
	if err != nil {
		return nil, err
	}
	return NewReferentialConstraintIdentity(props...), nil
}

// Properties returns the property identities in sorted order
func (id *ReferentialConstraintIdentity) Properties() []*AssociationPropertyIdentity {
	return id.properties.Items()
}

// AssociationTables returns the tables of the dependent columns in sorted order
func (id *ReferentialConstraintIdentity) AssociationTables() []DatabaseObject {
	return id.tables.Items()
}

// IsCoveredBy reports whether other covers this identity
func (id *ReferentialConstraintIdentity) IsCoveredBy(other AssociationIdentity) bool {
	if other == nil {
		return false
	}
	return other.coversConstraint(id)
}

// Equal reports whether other holds exactly the same property identities
func (id *ReferentialConstraintIdentity) Equal(other AssociationIdentity) bool {
	o, ok := other.(*ReferentialConstraintIdentity)
	if !ok || o == nil {
		return false
	}
	return CompareListContents(id.properties, o.properties) == 0
}

// TraceString renders the identity for diagnostics
func (id *ReferentialConstraintIdentity) TraceString() string {
	return fmt.Sprintf("[ReferentialConstraint tables=%s properties=[%s]]",
		formatList(id.tables.items), traceProperties(id.properties.items))
}

// coversConstraint: both identities come from referential constraints
func (id *ReferentialConstraintIdentity) coversConstraint(other *ReferentialConstraintIdentity) bool {
	for _, p := range other.properties.items {
		if !anyCovers(id.properties.items, p) {
			return false
		}
	}
	return true
}

func (id *ReferentialConstraintIdentity) coversSetMapping(other *AssociationSetMappingIdentity) bool {
	return crossCovered(other, id)
}

// crossCovered compares an association set mapping with a referential
// constraint. Every property of the mapping's principal end must find a
// constraint property with exactly the same principal columns whose
// dependent columns include the mapping's dependent columns.
func crossCovered(asm *AssociationSetMappingIdentity, rc *ReferentialConstraintIdentity) bool {
	principal := asm.PrincipalEnd()
	if principal == nil || principal.properties.Len() == 0 {
		return false
	}
	for _, p := range principal.properties.items {
		var match *AssociationPropertyIdentity
		for _, q := range rc.properties.items {
			if CompareListContents(p.principalColumns, q.principalColumns) == 0 {
				match = q
				break
			}
		}
		if match == nil {
			return false
		}
		if !match.dependentColumns.ContainsAll(p.dependentColumns) {
			return false
		}
	}
	return true
}
