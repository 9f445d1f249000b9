package summary

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/edmsync/internal/artifact"
	"github.com/vitebski/edmsync/internal/identity"
	"github.com/vitebski/edmsync/pkg/models"
)

type objectSet map[identity.DatabaseObject]struct{}

type nameSet map[string]struct{}

// modelSnapshot is the part shared by the existing and updated model summaries.
// Entity types are recorded by normalized name so that the snapshot stays
// usable after the artifact is reloaded; anything resolved back to live
// elements is cached per artifact generation.
type modelSnapshot struct {
	artifact   *artifact.Artifact
	generation ulid.ULID
	Logger     *logrus.Logger

	entityTypeIdentities  map[string]*identity.EntityTypeIdentity
	tablesAndViews        map[identity.DatabaseObject]string
	objectColumns         map[identity.DatabaseObject]nameSet
	functions             map[identity.DatabaseObject]string
	associations          *AssociationSummary
	ancestorTables        map[identity.DatabaseObject]objectSet
	objectEntityTypeNames map[identity.DatabaseObject]nameSet

	cacheGeneration ulid.ULID
	entityTypeCache map[identity.DatabaseObject][]*models.EntityType
}

func newModelSnapshot(a *artifact.Artifact, logger *logrus.Logger) (*modelSnapshot, error) {
	if a == nil {
		return nil, errors.New("cannot summarize a nil artifact")
	}
	if logger == nil {
		logger = a.Logger
	}
	s := &modelSnapshot{
		artifact:              a,
		generation:            a.Generation(),
		Logger:                logger,
		entityTypeIdentities:  make(map[string]*identity.EntityTypeIdentity),
		tablesAndViews:        make(map[identity.DatabaseObject]string),
		objectColumns:         make(map[identity.DatabaseObject]nameSet),
		functions:             make(map[identity.DatabaseObject]string),
		ancestorTables:        make(map[identity.DatabaseObject]objectSet),
		objectEntityTypeNames: make(map[identity.DatabaseObject]nameSet),
	}

	a.ForEachEntityTypeMapping(func(et *models.EntityType, set *models.StorageEntitySet) {
		name := a.EntityTypeName(et)
		id := s.entityTypeIdentities[name]
		if id == nil {
			id = identity.NewEntityTypeIdentity()
			s.entityTypeIdentities[name] = id
		}
		id.AddTableOrView(identity.DatabaseObjectFromEntitySet(set))
	})

	associations, err := ConstructAssociationSummary(a)
	if err != nil {
		return nil, err
	}
	s.associations = associations

	s.recordInheritance()

	for _, f := range a.Functions() {
		s.functions[identity.DatabaseObjectFromFunction(f)] = f.Name
	}
	for _, set := range a.EntitySets() {
		obj := identity.DatabaseObjectFromEntitySet(set)
		s.tablesAndViews[obj] = set.Name
		cols := s.objectColumns[obj]
		if cols == nil {
			cols = make(nameSet)
			s.objectColumns[obj] = cols
		}
		for _, c := range set.Columns {
			cols[c.Name] = struct{}{}
		}
	}
	return s, nil
}

// recordInheritance maps every table of a derived type to the tables of all
// of its ancestors. The mapping need not be one-to-one: if C1 maps to {T1, T2}
// with base {T3, T4} and C3 maps to {T2, T5} with base {T4, T6}, then T2 maps
// to {T3, T4, T6}, which is no single type's identity.
func (s *modelSnapshot) recordInheritance() {
	a := s.artifact
	for _, et := range a.EntityTypes() {
		etID := s.entityTypeIdentities[a.EntityTypeName(et)]
		if etID == nil {
			continue
		}
		for _, obj := range etID.TablesAndViews() {
			names := s.objectEntityTypeNames[obj]
			if names == nil {
				names = make(nameSet)
				s.objectEntityTypeNames[obj] = names
			}
			names[a.EntityTypeName(et)] = struct{}{}

			for base := a.BaseType(et); base != nil; base = a.BaseType(base) {
				baseID := s.entityTypeIdentities[a.EntityTypeName(base)]
				if baseID == nil {
					continue
				}
				ancestors := s.ancestorTables[obj]
				if ancestors == nil {
					ancestors = make(objectSet)
					s.ancestorTables[obj] = ancestors
				}
				for _, baseObj := range baseID.TablesAndViews() {
					ancestors[baseObj] = struct{}{}
				}
			}
		}
	}
}

// Artifact returns the artifact the summary was built from
func (s *modelSnapshot) Artifact() *artifact.Artifact {
	return s.artifact
}

// Generation returns the artifact generation the summary was built from
func (s *modelSnapshot) Generation() ulid.ULID {
	return s.generation
}

// IsCurrent reports whether live is still at the generation the summary was built from
func (s *modelSnapshot) IsCurrent(live *artifact.Artifact) bool {
	return live != nil && live.Generation() == s.generation
}

// EntityTypeIdentity returns the identity recorded for an entity type name, or nil if it is unmapped
func (s *modelSnapshot) EntityTypeIdentity(name string) *identity.EntityTypeIdentity {
	return s.entityTypeIdentities[s.artifact.NormalizedName(name)]
}

// EntityTypeNames returns the names of all mapped entity types, sorted
func (s *modelSnapshot) EntityTypeNames() []string {
	names := make([]string, 0, len(s.entityTypeIdentities))
	for name := range s.entityTypeIdentities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AllTablesAndViews returns every table and view of the storage model, sorted
func (s *modelSnapshot) AllTablesAndViews() []identity.DatabaseObject {
	return sortedObjects(s.tablesAndViews)
}

// LocalName returns the storage entity set name of a table or view
func (s *modelSnapshot) LocalName(obj identity.DatabaseObject) (string, bool) {
	name, ok := s.tablesAndViews[obj]
	return name, ok
}

// AllFunctions returns every storage function, sorted
func (s *modelSnapshot) AllFunctions() []identity.DatabaseObject {
	return sortedObjects(s.functions)
}

// FunctionName returns the local name of a storage function
func (s *modelSnapshot) FunctionName(obj identity.DatabaseObject) (string, bool) {
	name, ok := s.functions[obj]
	return name, ok
}

// ColumnsForDatabaseObject returns the column names of a table or view, sorted, or nil if unknown
func (s *modelSnapshot) ColumnsForDatabaseObject(obj identity.DatabaseObject) []string {
	cols, ok := s.objectColumns[obj]
	if !ok {
		return nil
	}
	return sortedNames(cols)
}

// AssociationSummary returns the association identities of the model
func (s *modelSnapshot) AssociationSummary() *AssociationSummary {
	return s.associations
}

// AncestorTypeTablesAndViews returns the tables of every ancestor type of the
// types mapped to obj, or nil when none of them has a mapped ancestor
func (s *modelSnapshot) AncestorTypeTablesAndViews(obj identity.DatabaseObject) []identity.DatabaseObject {
	ancestors, ok := s.ancestorTables[obj]
	if !ok {
		return nil
	}
	return sortedObjects(ancestors)
}

// EntityTypeNamesForDatabaseObject returns the names of the entity types mapped to obj, sorted
func (s *modelSnapshot) EntityTypeNamesForDatabaseObject(obj identity.DatabaseObject) []string {
	names, ok := s.objectEntityTypeNames[obj]
	if !ok {
		return nil
	}
	return sortedNames(names)
}

// EntityTypesForDatabaseObject resolves the entity types mapped to obj
// against the live artifact. Results are cached until the live artifact
// changes generation.
func (s *modelSnapshot) EntityTypesForDatabaseObject(live *artifact.Artifact, obj identity.DatabaseObject) []*models.EntityType {
	if live == nil {
		live = s.artifact
	}
	if s.entityTypeCache == nil || s.cacheGeneration != live.Generation() {
		s.entityTypeCache = make(map[identity.DatabaseObject][]*models.EntityType)
		s.cacheGeneration = live.Generation()
	}
	if cached, ok := s.entityTypeCache[obj]; ok {
		return cached
	}

	names, ok := s.objectEntityTypeNames[obj]
	if !ok {
		return nil
	}
	types := make([]*models.EntityType, 0, len(names))
	for _, name := range sortedNames(names) {
		et := live.LookupEntityType(name)
		if et == nil {
			s.Logger.Warningf("Entity type %s recorded for %s no longer exists", name, obj)
			continue
		}
		types = append(types, et)
	}
	s.entityTypeCache[obj] = types
	return types
}

// HasAncestorTypeThatMapsToDbObject reports whether some ancestor of et is mapped to obj
func (s *modelSnapshot) HasAncestorTypeThatMapsToDbObject(live *artifact.Artifact, et *models.EntityType, obj identity.DatabaseObject) bool {
	return s.FindClosestAncestorTypeThatMapsToDbObject(live, et, obj) != nil
}

// FindClosestAncestorTypeThatMapsToDbObject returns the nearest ancestor of et mapped to obj
func (s *modelSnapshot) FindClosestAncestorTypeThatMapsToDbObject(live *artifact.Artifact, et *models.EntityType, obj identity.DatabaseObject) *models.EntityType {
	if et == nil {
		return nil
	}
	if live == nil {
		live = s.artifact
	}
	for base := live.BaseType(et); base != nil; base = live.BaseType(base) {
		if id := s.entityTypeIdentities[live.EntityTypeName(base)]; id != nil && id.Contains(obj) {
			return base
		}
	}
	return nil
}

// FindRootAncestorTypeThatMapsToDbObject returns the most distant ancestor of et mapped to obj
func (s *modelSnapshot) FindRootAncestorTypeThatMapsToDbObject(live *artifact.Artifact, et *models.EntityType, obj identity.DatabaseObject) *models.EntityType {
	var root *models.EntityType
	for next := s.FindClosestAncestorTypeThatMapsToDbObject(live, et, obj); next != nil; next = s.FindClosestAncestorTypeThatMapsToDbObject(live, next, obj) {
		root = next
	}
	return root
}

// LogFields returns the snapshot as structured log fields
func (s *modelSnapshot) LogFields() logrus.Fields {
	fields := logrus.Fields{
		"artifact":         s.artifact.URI,
		"generation":       s.generation.String(),
		"entity_types":     len(s.entityTypeIdentities),
		"tables_and_views": len(s.tablesAndViews),
		"functions":        len(s.functions),
		"derived_tables":   len(s.ancestorTables),
	}
	for k, v := range s.associations.LogFields() {
		fields[k] = v
	}
	return fields
}

func (s *modelSnapshot) traceString(kind string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s artifactUri=%s", kind, s.artifact.URI)
	for _, name := range s.EntityTypeNames() {
		fmt.Fprintf(&sb, "\n entityType %s=%s", name, s.entityTypeIdentities[name].TraceString())
	}
	for _, obj := range s.AllTablesAndViews() {
		fmt.Fprintf(&sb, "\n table %s=%s columns=[%s]", obj, s.tablesAndViews[obj], strings.Join(s.ColumnsForDatabaseObject(obj), ", "))
	}
	for _, obj := range s.AllFunctions() {
		fmt.Fprintf(&sb, "\n function %s=%s", obj, s.functions[obj])
	}
	fmt.Fprintf(&sb, "\n associations=%s", s.associations.TraceString())
	for _, obj := range sortedObjects(s.ancestorTables) {
		fmt.Fprintf(&sb, "\n ancestors %s=%v", obj, s.AncestorTypeTablesAndViews(obj))
	}
	sb.WriteString("]")
	return sb.String()
}

func sortedObjects[V any](m map[identity.DatabaseObject]V) []identity.DatabaseObject {
	objs := make([]identity.DatabaseObject, 0, len(m))
	for obj := range m {
		objs = append(objs, obj)
	}
	sort.Slice(objs, func(i, j int) bool { return objs[i].Compare(objs[j]) < 0 })
	return objs
}

func sortedNames(names nameSet) []string {
	out := make([]string, 0, len(names))
	for n := range names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
