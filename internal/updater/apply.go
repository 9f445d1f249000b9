package updater

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vitebski/edmsync/internal/artifact"
	"github.com/vitebski/edmsync/internal/identity"
	"github.com/vitebski/edmsync/pkg/models"
	"gopkg.in/yaml.v3"
)

// merge carries the name tables of one Apply run
type merge struct {
	live      *artifact.Artifact
	generated *artifact.Artifact
	model     *models.Model

	setNames   map[string]string // generated set name -> merged set name
	typeNames  map[string]string // generated normalized type name -> merged local type name
	matched    map[string]bool   // generated normalized type names matched to an existing type
	usedSets   map[string]bool
	usedTypes  map[string]bool
	usedAssocs map[string]bool
	usedFuncs  map[string]bool
}

// Apply merges the additions of plan into a copy of the live model. Tables,
// entity types, associations and functions that the plan marks as new are
// copied from the generated model, and added columns are mapped onto the
// owning existing type. Nothing is removed; dropped and stale elements are
// only reported by the plan.
func (u *Updater) Apply(plan *UpdatePlan, live, generated *artifact.Artifact) (*models.Model, error) {
	if plan == nil || live == nil || generated == nil {
		return nil, fmt.Errorf("apply requires a plan, the live artifact and the generated artifact")
	}
	merged, err := cloneModel(live.Model)
	if err != nil {
		return nil, err
	}

	m := &merge{
		live:       live,
		generated:  generated,
		model:      merged,
		setNames:   make(map[string]string),
		typeNames:  make(map[string]string),
		matched:    make(map[string]bool),
		usedSets:   make(map[string]bool),
		usedTypes:  make(map[string]bool),
		usedAssocs: make(map[string]bool),
		usedFuncs:  make(map[string]bool),
	}
	for _, set := range merged.Storage.EntitySets {
		m.usedSets[set.Name] = true
	}
	for _, et := range merged.Conceptual.EntityTypes {
		m.usedTypes[et.Name] = true
	}
	for _, assoc := range merged.Conceptual.Associations {
		m.usedAssocs[assoc.Name] = true
	}
	for _, f := range merged.Storage.Functions {
		m.usedFuncs[f.Name] = true
	}

	existingSets := make(map[identity.DatabaseObject]string)
	for _, set := range live.EntitySets() {
		existingSets[identity.DatabaseObjectFromEntitySet(set)] = set.Name
	}
	for _, set := range generated.EntitySets() {
		if name, ok := existingSets[identity.DatabaseObjectFromEntitySet(set)]; ok {
			m.setNames[set.Name] = name
		}
	}

	m.addTables(plan.NewTables)
	m.addColumns(plan.ColumnChanges)

	for _, match := range plan.MatchedEntityTypes {
		m.typeNames[generated.NormalizedName(match.Updated)] = m.localTypeName(live.LookupEntityType(match.Existing))
		m.matched[generated.NormalizedName(match.Updated)] = true
	}
	for _, name := range plan.NewEntityTypes {
		m.addEntityType(name)
	}
	for _, name := range plan.NewAssociations {
		if err := m.addAssociation(name); err != nil {
			u.Logger.Warningf("Not adding association %s: %v", name, err)
		}
	}
	m.addFunctions(plan.NewFunctions)
	m.addStorageForeignKeys()

	u.Logger.WithFields(plan.LogFields()).Info("Applied update plan to model")
	return merged, nil
}

func cloneModel(model *models.Model) (*models.Model, error) {
	data, err := yaml.Marshal(model)
	if err != nil {
		return nil, fmt.Errorf("copying model: %w", err)
	}
	out := &models.Model{}
	if err := yaml.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("copying model: %w", err)
	}
	return out, nil
}

func (m *merge) localTypeName(et *models.EntityType) string {
	if et == nil {
		return ""
	}
	ns := m.live.Model.Conceptual.Namespace
	return strings.TrimPrefix(et.Name, ns+".")
}

func (m *merge) qualify(local string) string {
	if ns := m.model.Conceptual.Namespace; ns != "" {
		return ns + "." + local
	}
	return local
}

func (m *merge) generatedSet(obj identity.DatabaseObject) *models.StorageEntitySet {
	for _, set := range m.generated.EntitySets() {
		if identity.DatabaseObjectFromEntitySet(set) == obj {
			return set
		}
	}
	return nil
}

func (m *merge) mergedSet(name string) *models.StorageEntitySet {
	for i := range m.model.Storage.EntitySets {
		if m.model.Storage.EntitySets[i].Name == name {
			return &m.model.Storage.EntitySets[i]
		}
	}
	return nil
}

func (m *merge) mergedType(name string) *models.EntityType {
	for i := range m.model.Conceptual.EntityTypes {
		if m.model.Conceptual.EntityTypes[i].Name == name {
			return &m.model.Conceptual.EntityTypes[i]
		}
	}
	return nil
}

func (m *merge) addTables(objs []identity.DatabaseObject) {
	for _, obj := range objs {
		gen := m.generatedSet(obj)
		if gen == nil {
			continue
		}
		set := *gen
		set.Columns = append([]models.StorageColumn(nil), gen.Columns...)
		set.Key = append([]string(nil), gen.Key...)
		set.Name = unique(gen.Name, m.usedSets)
		if set.Table == "" {
			set.Table = gen.Name
		}
		m.setNames[gen.Name] = set.Name
		m.model.Storage.EntitySets = append(m.model.Storage.EntitySets, set)
	}
}

// addColumns adds new storage columns and maps each onto the owner type
func (m *merge) addColumns(changes []ColumnChange) {
	for _, ch := range changes {
		gen := m.generatedSet(ch.Object)
		if gen == nil || len(ch.Added) == 0 {
			continue
		}
		target := m.mergedSet(m.setNames[gen.Name])
		if target == nil {
			continue
		}
		for _, col := range ch.Added {
			if c := gen.Column(col); c != nil && target.Column(col) == nil {
				target.Columns = append(target.Columns, *c)
			}
		}
		if ch.Owner == "" {
			continue
		}
		owner := m.mergedType(m.localTypeName(m.live.LookupEntityType(ch.Owner)))
		if owner == nil {
			continue
		}
		frag := m.fragmentFor(m.qualify(owner.Name), owner.Name, target.Name)
		if frag == nil {
			continue
		}
		used := make(map[string]bool)
		for _, p := range owner.Properties {
			used[p.Name] = true
		}
		for _, col := range ch.Added {
			prop, ok := m.generatedProperty(gen.Name, col)
			if !ok {
				continue
			}
			prop.Name = unique(prop.Name, used)
			owner.Properties = append(owner.Properties, prop)
			frag.ScalarProperties = append(frag.ScalarProperties, models.ScalarProperty{Name: prop.Name, Column: col})
		}
	}
}

// fragmentFor finds the mapping fragment of a type onto a storage set
func (m *merge) fragmentFor(qualified, local, setName string) *models.MappingFragment {
	for ei := range m.model.Mapping.EntitySetMappings {
		esm := &m.model.Mapping.EntitySetMappings[ei]
		for ti := range esm.TypeMappings {
			etm := &esm.TypeMappings[ti]
			if etm.TypeName != qualified && etm.TypeName != local {
				continue
			}
			for fi := range etm.Fragments {
				if etm.Fragments[fi].StoreEntitySet == setName {
					return &etm.Fragments[fi]
				}
			}
		}
	}
	return nil
}

// generatedProperty returns the generated property mapped to a column of a generated set
func (m *merge) generatedProperty(setName, column string) (models.Property, bool) {
	var found models.Property
	ok := false
	m.generated.ForEachEntityTypeMapping(func(et *models.EntityType, set *models.StorageEntitySet) {
		if ok || set.Name != setName {
			return
		}
		for _, p := range et.Properties {
			for _, ref := range m.generated.MappedColumns(et, p.Name) {
				if ref.EntitySet == set && ref.Column == column {
					found, ok = p, true
					return
				}
			}
		}
	})
	return found, ok
}

func (m *merge) addEntityType(name string) {
	gen := m.generated.LookupEntityType(name)
	if gen == nil {
		return
	}
	et := *gen
	et.Key = append([]string(nil), gen.Key...)
	et.Properties = append([]models.Property(nil), gen.Properties...)
	et.Name = unique(gen.Name, m.usedTypes)
	if et.BaseType != "" {
		et.BaseType = m.typeNames[m.generated.NormalizedName(et.BaseType)]
	}
	m.typeNames[m.generated.EntityTypeName(gen)] = et.Name
	m.model.Conceptual.EntityTypes = append(m.model.Conceptual.EntityTypes, et)

	genName := m.generated.EntityTypeName(gen)
	for _, esm := range m.generated.Model.Mapping.EntitySetMappings {
		var typeMappings []models.EntityTypeMapping
		for _, etm := range esm.TypeMappings {
			if m.generated.NormalizedName(etm.TypeName) != genName {
				continue
			}
			copied := models.EntityTypeMapping{TypeName: m.qualify(et.Name), IsTypeOf: etm.IsTypeOf}
			for _, frag := range etm.Fragments {
				copied.Fragments = append(copied.Fragments, models.MappingFragment{
					StoreEntitySet:   m.setNames[frag.StoreEntitySet],
					ScalarProperties: append([]models.ScalarProperty(nil), frag.ScalarProperties...),
				})
			}
			typeMappings = append(typeMappings, copied)
		}
		if len(typeMappings) > 0 {
			m.model.Mapping.EntitySetMappings = append(m.model.Mapping.EntitySetMappings, models.EntitySetMapping{
				Name:         et.Name,
				TypeMappings: typeMappings,
			})
		}
	}
}

func (m *merge) addAssociation(name string) error {
	gen := m.generated.Association(name)
	if gen == nil {
		return fmt.Errorf("association not found in generated model")
	}

	assoc := models.Association{Name: unique(gen.Name, m.usedAssocs)}
	for _, end := range gen.Ends {
		typeName, ok := m.typeNames[m.generated.NormalizedName(end.Type)]
		if !ok {
			return fmt.Errorf("end %s: entity type %s is not part of the merged model", end.Role, end.Type)
		}
		assoc.Ends = append(assoc.Ends, models.AssociationEnd{Role: end.Role, Type: typeName, Multiplicity: end.Multiplicity})
	}

	if rc := gen.ReferentialConstraint; rc != nil {
		principal, err := m.resolveProperties(gen, rc.Principal)
		if err != nil {
			return err
		}
		dependent, err := m.resolveProperties(gen, rc.Dependent)
		if err != nil {
			return err
		}
		assoc.ReferentialConstraint = &models.ReferentialConstraint{
			Principal: models.ConstraintRole{Role: rc.Principal.Role, Properties: principal},
			Dependent: models.ConstraintRole{Role: rc.Dependent.Role, Properties: dependent},
		}
	}

	var asm *models.AssociationSetMapping
	if genASM := m.generated.AssociationSetMappingFor(gen); genASM != nil {
		setName, ok := m.setNames[genASM.StoreEntitySet]
		if !ok {
			return fmt.Errorf("store entity set %s is not part of the merged model", genASM.StoreEntitySet)
		}
		asm = &models.AssociationSetMapping{
			Name:           assoc.Name,
			Association:    m.qualify(assoc.Name),
			StoreEntitySet: setName,
		}
		for _, end := range genASM.Ends {
			props := make([]string, 0, len(end.ScalarProperties))
			for _, sp := range end.ScalarProperties {
				props = append(props, sp.Name)
			}
			resolved, err := m.resolveProperties(gen, models.ConstraintRole{Role: end.Role, Properties: props})
			if err != nil {
				return err
			}
			mapped := models.EndProperty{Role: end.Role}
			for i, sp := range end.ScalarProperties {
				mapped.ScalarProperties = append(mapped.ScalarProperties, models.ScalarProperty{Name: resolved[i], Column: sp.Column})
			}
			asm.Ends = append(asm.Ends, mapped)
		}
	}

	m.model.Conceptual.Associations = append(m.model.Conceptual.Associations, assoc)
	if asm != nil {
		m.model.Mapping.AssociationSetMappings = append(m.model.Mapping.AssociationSetMappings, *asm)
	}
	return nil
}

// resolveProperties translates generated property names of one association
// end to the merged model. Properties of new types keep their names;
// properties of matched types are found through the columns they map to.
func (m *merge) resolveProperties(assoc *models.Association, role models.ConstraintRole) ([]string, error) {
	genType := m.generated.EndType(assoc, role.Role)
	if genType == nil {
		return nil, fmt.Errorf("role %s has no entity type", role.Role)
	}
	genName := m.generated.EntityTypeName(genType)
	if !m.matched[genName] {
		return append([]string(nil), role.Properties...), nil
	}

	existing := m.live.LookupEntityType(m.typeNames[genName])
	if existing == nil {
		return nil, fmt.Errorf("entity type %s matched by %s is not in the model", m.typeNames[genName], genType.Name)
	}
	out := make([]string, 0, len(role.Properties))
	for _, p := range role.Properties {
		name, ok := m.existingPropertyFor(existing, genType, p)
		if !ok {
			return nil, fmt.Errorf("property %s of %s has no counterpart on %s", p, genType.Name, existing.Name)
		}
		out = append(out, name)
	}
	return out, nil
}

func (m *merge) existingPropertyFor(existing, genType *models.EntityType, property string) (string, bool) {
	want := make(map[identity.DatabaseColumn]bool)
	for _, ref := range m.generated.MappedColumns(genType, property) {
		want[identity.DatabaseColumnFromRef(ref)] = true
	}
	for t := existing; t != nil; t = m.live.BaseType(t) {
		for _, p := range t.Properties {
			for _, ref := range m.live.MappedColumns(existing, p.Name) {
				if want[identity.DatabaseColumnFromRef(ref)] {
					return p.Name, true
				}
			}
		}
	}
	return "", false
}

func (m *merge) addFunctions(objs []identity.DatabaseObject) {
	for _, obj := range objs {
		for _, f := range m.generated.Functions() {
			if identity.DatabaseObjectFromFunction(f) != obj {
				continue
			}
			copied := *f
			copied.StoreFunctionName = f.DatabaseName()
			copied.Name = unique(f.Name, m.usedFuncs)
			m.model.Storage.Functions = append(m.model.Storage.Functions, copied)
			break
		}
	}
}

// addStorageForeignKeys copies generated foreign keys whose sets both exist in the merged model
func (m *merge) addStorageForeignKeys() {
	type fkKey struct{ set, name string }
	present := make(map[fkKey]bool)
	for _, fk := range m.model.Storage.ForeignKeys {
		present[fkKey{fk.DependentSet, fk.Name}] = true
	}
	for _, fk := range m.generated.Model.Storage.ForeignKeys {
		principal, okP := m.setNames[fk.PrincipalSet]
		dependent, okD := m.setNames[fk.DependentSet]
		if !okP || !okD || present[fkKey{dependent, fk.Name}] {
			continue
		}
		copied := fk
		copied.PrincipalSet = principal
		copied.DependentSet = dependent
		copied.PrincipalColumns = append([]string(nil), fk.PrincipalColumns...)
		copied.DependentColumns = append([]string(nil), fk.DependentColumns...)
		m.model.Storage.ForeignKeys = append(m.model.Storage.ForeignKeys, copied)
		present[fkKey{dependent, fk.Name}] = true
	}
}

func unique(name string, used map[string]bool) string {
	candidate := name
	for i := 1; used[candidate]; i++ {
		candidate = name + strconv.Itoa(i)
	}
	used[candidate] = true
	return candidate
}
