package identity

import (
	"fmt"
	"strings"

	"github.com/vitebski/edmsync/internal/artifact"
	"github.com/vitebski/edmsync/pkg/models"
)

// AssociationPropertyIdentity records, for one property taking part in an
// association, which storage columns play the principal role and which play
// the dependent role
type AssociationPropertyIdentity struct {
	principalColumns *SortedList[DatabaseColumn]
	dependentColumns *SortedList[DatabaseColumn]
}

// NewAssociationPropertyIdentity creates a property identity from principal and dependent columns
func NewAssociationPropertyIdentity(principal, dependent []DatabaseColumn) *AssociationPropertyIdentity {
	return &AssociationPropertyIdentity{
		principalColumns: NewSortedList(CompareDatabaseColumns, principal...),
		dependentColumns: NewSortedList(CompareDatabaseColumns, dependent...),
	}
}

// PropertyIdentitiesForReferentialConstraint pairs the principal and dependent
// properties of an association's referential constraint and resolves each to
// its mapped storage columns
func PropertyIdentitiesForReferentialConstraint(a *artifact.Artifact, assoc *models.Association) ([]*AssociationPropertyIdentity, error) {
	rc := assoc.ReferentialConstraint
	if rc == nil {
		return nil, nil
	}
	if len(rc.Principal.Properties) != len(rc.Dependent.Properties) {
		return nil, fmt.Errorf("%w: association %q", artifact.ErrConstraintArity, assoc.Name)
	}

	principalType := a.EndType(assoc, rc.Principal.Role)
	dependentType := a.EndType(assoc, rc.Dependent.Role)
	if principalType == nil || dependentType == nil {
		a.Logger.Warningf("Association %s: referential constraint roles do not resolve to entity types", assoc.Name)
		return nil, nil
	}

	ids := make([]*AssociationPropertyIdentity, 0, len(rc.Principal.Properties))
	for i := range rc.Principal.Properties {
		principal := columnsFromRefs(a.MappedColumns(principalType, rc.Principal.Properties[i]))
		dependent := columnsFromRefs(a.MappedColumns(dependentType, rc.Dependent.Properties[i]))
		ids = append(ids, NewAssociationPropertyIdentity(principal, dependent))
	}
	return ids, nil
}

// PropertyIdentitiesForEnd builds one identity per scalar property of an
// association set mapping end. The principal columns are every column the
// end type's property is mapped to; the dependent column is the column the
// association set mapping names.
func PropertyIdentitiesForEnd(a *artifact.Artifact, asm *models.AssociationSetMapping, end models.EndProperty) []*AssociationPropertyIdentity {
	assoc := a.Association(asm.Association)
	set := a.StorageEntitySet(asm.StoreEntitySet)
	if assoc == nil || set == nil {
		a.Logger.Warningf("Association set mapping %s does not resolve", asm.Name)
		return nil
	}
	et := a.EndType(assoc, end.Role)
	if et == nil {
		a.Logger.Warningf("Association set mapping %s: role %s has no entity type", asm.Name, end.Role)
		return nil
	}

	table := DatabaseObjectFromEntitySet(set)
	ids := make([]*AssociationPropertyIdentity, 0, len(end.ScalarProperties))
	for _, sp := range end.ScalarProperties {
		principal := columnsFromRefs(a.MappedColumns(et, sp.Name))
		dependent := []DatabaseColumn{{Object: table, Column: sp.Column}}
		ids = append(ids, NewAssociationPropertyIdentity(principal, dependent))
	}
	return ids
}

// PrincipalColumns returns the principal columns in sorted order
func (id *AssociationPropertyIdentity) PrincipalColumns() []DatabaseColumn {
	return id.principalColumns.Items()
}

// DependentColumns returns the dependent columns in sorted order
func (id *AssociationPropertyIdentity) DependentColumns() []DatabaseColumn {
	return id.dependentColumns.Items()
}

// IsCoveredBy reports whether other's principal and dependent columns are
// supersets of this identity's columns
func (id *AssociationPropertyIdentity) IsCoveredBy(other *AssociationPropertyIdentity) bool {
	if other == nil {
		return false
	}
	return other.principalColumns.ContainsAll(id.principalColumns) &&
		other.dependentColumns.ContainsAll(id.dependentColumns)
}

// Compare orders identities by principal columns, then dependent columns
func (id *AssociationPropertyIdentity) Compare(other *AssociationPropertyIdentity) int {
	if c := CompareListContents(id.principalColumns, other.principalColumns); c != 0 {
		return c
	}
	return CompareListContents(id.dependentColumns, other.dependentColumns)
}

// ComparePropertyIdentities is AssociationPropertyIdentity.Compare as a function value
func ComparePropertyIdentities(a, b *AssociationPropertyIdentity) int {
	return a.Compare(b)
}

// referencesOwnKey reports whether a dependent column is also a principal column
func (id *AssociationPropertyIdentity) referencesOwnKey() bool {
	for _, col := range id.dependentColumns.items {
		if id.principalColumns.Contains(col) {
			return true
		}
	}
	return false
}

// TraceString renders the identity for diagnostics
func (id *AssociationPropertyIdentity) TraceString() string {
	return fmt.Sprintf("{principal=%s dependent=%s}",
		formatList(id.principalColumns.items), formatList(id.dependentColumns.items))
}

func formatList[T fmt.Stringer](items []T) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, item.String())
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
