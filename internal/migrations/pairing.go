package migrations

import (
	"strings"

	"github.com/vitebski/edmsync/internal/identity"
	"github.com/vitebski/edmsync/pkg/models"
)

// tablePairs matches the tables of two models. Tables are paired through the
// mapping fragments of entity types with the same name, then through the
// association set mappings of associations with the same name, and finally
// by database name.
type tablePairs struct {
	forward  map[identity.DatabaseObject]identity.DatabaseObject
	backward map[identity.DatabaseObject]identity.DatabaseObject
	// renamed columns per target table, old name to new name
	columns map[identity.DatabaseObject]map[string]string
}

type fragmentPair struct {
	source, target *models.MappingFragment
}

func pairTables(source, target *models.Model, src, dst *storage) *tablePairs {
	p := &tablePairs{
		forward:  make(map[identity.DatabaseObject]identity.DatabaseObject),
		backward: make(map[identity.DatabaseObject]identity.DatabaseObject),
		columns:  make(map[identity.DatabaseObject]map[string]string),
	}

	fragments := fragmentPairs(source, target)
	for _, fp := range fragments {
		p.pair(src, dst, fp.source.StoreEntitySet, fp.target.StoreEntitySet)
	}
	for _, sm := range source.Mapping.AssociationSetMappings {
		name := localName(source.Conceptual.Namespace, sm.Association)
		for _, tm := range target.Mapping.AssociationSetMappings {
			if strings.EqualFold(name, localName(target.Conceptual.Namespace, tm.Association)) {
				p.pair(src, dst, sm.StoreEntitySet, tm.StoreEntitySet)
				break
			}
		}
	}
	for _, obj := range src.order {
		if _, ok := p.forward[obj]; ok {
			continue
		}
		if _, ok := dst.tables[obj]; ok {
			if _, taken := p.backward[obj]; !taken {
				p.forward[obj] = obj
				p.backward[obj] = obj
			}
		}
	}

	for _, fp := range fragments {
		p.renameColumns(src, dst, fp)
	}
	return p
}

// pair records a source and target table as the same table. A rename or move
// onto a name that the other model uses for a different table is not paired.
func (p *tablePairs) pair(src, dst *storage, sourceSet, targetSet string) {
	s, okS := src.names[sourceSet]
	d, okD := dst.names[targetSet]
	if !okS || !okD {
		return
	}
	if _, ok := src.tables[s]; !ok {
		return
	}
	if _, ok := dst.tables[d]; !ok {
		return
	}
	if _, ok := p.forward[s]; ok {
		return
	}
	if _, ok := p.backward[d]; ok {
		return
	}
	if s != d {
		if _, clash := src.tables[d]; clash {
			return
		}
		if _, clash := dst.tables[s]; clash {
			return
		}
	}
	p.forward[s] = d
	p.backward[d] = s
}

// renameColumns records the columns a property moved between in a paired table
func (p *tablePairs) renameColumns(src, dst *storage, fp fragmentPair) {
	s := src.names[fp.source.StoreEntitySet]
	d := dst.names[fp.target.StoreEntitySet]
	if got, ok := p.forward[s]; !ok || got != d {
		return
	}
	before, after := src.tables[s], dst.tables[d]
	for _, sp := range fp.source.ScalarProperties {
		for _, tp := range fp.target.ScalarProperties {
			if !strings.EqualFold(sp.Name, tp.Name) || strings.EqualFold(sp.Column, tp.Column) {
				continue
			}
			// Both names must exist only on their own side
			if before.Column(sp.Column) == nil || after.Column(tp.Column) == nil ||
				before.Column(tp.Column) != nil || after.Column(sp.Column) != nil {
				continue
			}
			renames := p.columns[d]
			if renames == nil {
				renames = make(map[string]string)
				p.columns[d] = renames
			}
			if _, seen := renames[sp.Column]; !seen {
				renames[sp.Column] = tp.Column
			}
		}
	}
}

// column returns the target name of a source column of a target table
func (p *tablePairs) column(table identity.DatabaseObject, name string) string {
	if renamed, ok := p.columns[table][name]; ok {
		return renamed
	}
	return name
}

// previousColumn returns the source name of a target column
func (p *tablePairs) previousColumn(table identity.DatabaseObject, name string) string {
	for old, renamed := range p.columns[table] {
		if renamed == name {
			return old
		}
	}
	return name
}

// translate rewrites a source foreign key in target table and column names
func (p *tablePairs) translate(fk ForeignKey) ForeignKey {
	out := fk
	if d, ok := p.forward[fk.Dependent]; ok {
		out.Dependent = d
	}
	if pr, ok := p.forward[fk.Principal]; ok {
		out.Principal = pr
	}
	out.DependentColumns = make([]string, len(fk.DependentColumns))
	for i, c := range fk.DependentColumns {
		out.DependentColumns[i] = p.column(out.Dependent, c)
	}
	out.PrincipalColumns = make([]string, len(fk.PrincipalColumns))
	for i, c := range fk.PrincipalColumns {
		out.PrincipalColumns[i] = p.column(out.Principal, c)
	}
	return out
}

// fragmentPairs zips the fragments of entity type mappings whose types have
// the same name in both models
func fragmentPairs(source, target *models.Model) []fragmentPair {
	var pairs []fragmentPair
	for i := range source.Mapping.EntitySetMappings {
		for j := range source.Mapping.EntitySetMappings[i].TypeMappings {
			sm := &source.Mapping.EntitySetMappings[i].TypeMappings[j]
			tm := findTypeMapping(target, localName(source.Conceptual.Namespace, sm.TypeName), sm.IsTypeOf)
			if tm == nil {
				continue
			}
			for k := 0; k < len(sm.Fragments) && k < len(tm.Fragments); k++ {
				pairs = append(pairs, fragmentPair{source: &sm.Fragments[k], target: &tm.Fragments[k]})
			}
		}
	}
	return pairs
}

func findTypeMapping(m *models.Model, name string, isTypeOf bool) *models.EntityTypeMapping {
	for i := range m.Mapping.EntitySetMappings {
		for j := range m.Mapping.EntitySetMappings[i].TypeMappings {
			tm := &m.Mapping.EntitySetMappings[i].TypeMappings[j]
			if tm.IsTypeOf == isTypeOf && strings.EqualFold(localName(m.Conceptual.Namespace, tm.TypeName), name) {
				return tm
			}
		}
	}
	return nil
}

// localName strips the model namespace from a qualified name
func localName(namespace, name string) string {
	if namespace != "" {
		return strings.TrimPrefix(name, namespace+".")
	}
	return name
}
