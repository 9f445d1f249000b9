package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/minio/highwayhash"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"github.com/viant/afs"
	"github.com/vitebski/edmsync/pkg/models"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidModel is returned when a model file references elements that do not exist
	ErrInvalidModel = errors.New("invalid model")
	// ErrConstraintArity is returned when a referential constraint has a different
	// number of principal and dependent properties
	ErrConstraintArity = errors.New("referential constraint principal and dependent property counts differ")
)

var fingerprintKey = []byte("edmsync-artifact-fingerprint-key")

// ColumnRef is a storage column reached through a mapping
type ColumnRef struct {
	EntitySet *models.StorageEntitySet
	Column    string
}

type propertyKey struct {
	declaringType string
	property      string
}

// Artifact is a loaded model together with the lookup indexes built over it.
// Reload replaces every element pointer; callers holding pointers from before
// a reload must re-resolve them by normalized name.
type Artifact struct {
	URI    string
	Model  *models.Model
	Logger *logrus.Logger

	fs          afs.Service
	generation  ulid.ULID
	fingerprint uint64

	entityTypes      map[string]*models.EntityType
	associations     map[string]*models.Association
	entitySets       map[string]*models.StorageEntitySet
	asmByAssociation map[string]*models.AssociationSetMapping
	propertyColumns  map[propertyKey][]ColumnRef
}

// New creates an artifact from an in-memory model
func New(uri string, model *models.Model, logger *logrus.Logger) (*Artifact, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	a := &Artifact{URI: uri, Logger: logger, fs: afs.New()}
	data, err := yaml.Marshal(model)
	if err != nil {
		return nil, fmt.Errorf("marshaling model: %w", err)
	}
	if err := a.install(model, data); err != nil {
		return nil, err
	}
	return a, nil
}

// Load reads a model file from any location supported by afs
func Load(ctx context.Context, uri string, logger *logrus.Logger) (*Artifact, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	a := &Artifact{URI: uri, Logger: logger, fs: afs.New()}
	if err := a.Reload(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// Reload re-reads the model from its URI. Every element pointer handed out
// before the reload becomes stale and the artifact receives a new generation.
func (a *Artifact) Reload(ctx context.Context) error {
	if a.URI == "" {
		return fmt.Errorf("artifact has no URI to reload from")
	}
	data, err := a.fs.DownloadWithURL(ctx, a.URI)
	if err != nil {
		a.Logger.Errorf("Error reading model %s: %v", a.URI, err)
		return fmt.Errorf("reading model %s: %w", a.URI, err)
	}

	model := &models.Model{}
	if err := yaml.Unmarshal(data, model); err != nil {
		a.Logger.Errorf("Error parsing model %s: %v", a.URI, err)
		return fmt.Errorf("parsing model %s: %w", a.URI, err)
	}
	if err := a.install(model, data); err != nil {
		a.Logger.Errorf("Error validating model %s: %v", a.URI, err)
		return err
	}
	a.Logger.Infof("Loaded model %s (generation %s)", a.URI, a.generation)
	return nil
}

// Save writes the model as YAML to the given location
func (a *Artifact) Save(ctx context.Context, uri string) error {
	data, err := yaml.Marshal(a.Model)
	if err != nil {
		return fmt.Errorf("marshaling model: %w", err)
	}
	if err := a.fs.Upload(ctx, uri, 0o644, bytes.NewReader(data)); err != nil {
		a.Logger.Errorf("Error writing model %s: %v", uri, err)
		return fmt.Errorf("writing model %s: %w", uri, err)
	}
	a.Logger.Infof("Wrote model to %s", uri)
	return nil
}

func (a *Artifact) install(model *models.Model, data []byte) error {
	prev := *a
	a.Model = model
	if err := a.buildIndexes(); err != nil {
		*a = prev
		return err
	}

	h, err := highwayhash.New64(fingerprintKey)
	if err != nil {
		*a = prev
		return fmt.Errorf("creating fingerprint hash: %w", err)
	}
	h.Write(data)
	a.fingerprint = h.Sum64()
	a.generation = ulid.Make()
	return nil
}

// Generation identifies the current load of the artifact. It changes on every reload.
func (a *Artifact) Generation() ulid.ULID {
	return a.generation
}

// Fingerprint is a hash of the model content; reloading identical content yields the same value
func (a *Artifact) Fingerprint() uint64 {
	return a.fingerprint
}

// ForeignKeysInModel reports whether associations may carry referential constraints
func (a *Artifact) ForeignKeysInModel() bool {
	return a.Model.ForeignKeysInModel()
}

// NormalizedName qualifies a local conceptual name with the model namespace
func (a *Artifact) NormalizedName(name string) string {
	ns := a.Model.Conceptual.Namespace
	if ns == "" || strings.HasPrefix(name, ns+".") {
		return name
	}
	return ns + "." + name
}

// EntityTypeName returns the normalized name of an entity type
func (a *Artifact) EntityTypeName(et *models.EntityType) string {
	return a.NormalizedName(et.Name)
}

// LookupEntityType resolves an entity type by normalized or local name
func (a *Artifact) LookupEntityType(name string) *models.EntityType {
	return a.entityTypes[a.NormalizedName(name)]
}

// EntityTypes returns the conceptual entity types in declaration order
func (a *Artifact) EntityTypes() []*models.EntityType {
	types := make([]*models.EntityType, 0, len(a.Model.Conceptual.EntityTypes))
	for i := range a.Model.Conceptual.EntityTypes {
		types = append(types, &a.Model.Conceptual.EntityTypes[i])
	}
	return types
}

// BaseType returns the base type of an entity type, or nil for root types
func (a *Artifact) BaseType(et *models.EntityType) *models.EntityType {
	if et == nil || et.BaseType == "" {
		return nil
	}
	return a.LookupEntityType(et.BaseType)
}

// DeclaringType walks the base type chain of et and returns the type that declares property
func (a *Artifact) DeclaringType(et *models.EntityType, property string) *models.EntityType {
	for t := et; t != nil; t = a.BaseType(t) {
		if t.Property(property) != nil {
			return t
		}
	}
	return nil
}

// Associations returns the conceptual associations in declaration order
func (a *Artifact) Associations() []*models.Association {
	assocs := make([]*models.Association, 0, len(a.Model.Conceptual.Associations))
	for i := range a.Model.Conceptual.Associations {
		assocs = append(assocs, &a.Model.Conceptual.Associations[i])
	}
	return assocs
}

// Association resolves an association by normalized or local name
func (a *Artifact) Association(name string) *models.Association {
	return a.associations[a.NormalizedName(name)]
}

// AssociationName returns the normalized name of an association
func (a *Artifact) AssociationName(assoc *models.Association) string {
	return a.NormalizedName(assoc.Name)
}

// EndType returns the entity type at the given role of an association
func (a *Artifact) EndType(assoc *models.Association, role string) *models.EntityType {
	end := assoc.End(role)
	if end == nil {
		return nil
	}
	return a.LookupEntityType(end.Type)
}

// EntitySets returns the storage entity sets in declaration order
func (a *Artifact) EntitySets() []*models.StorageEntitySet {
	sets := make([]*models.StorageEntitySet, 0, len(a.Model.Storage.EntitySets))
	for i := range a.Model.Storage.EntitySets {
		sets = append(sets, &a.Model.Storage.EntitySets[i])
	}
	return sets
}

// StorageEntitySet resolves a storage entity set by name
func (a *Artifact) StorageEntitySet(name string) *models.StorageEntitySet {
	return a.entitySets[name]
}

// Functions returns the storage functions in declaration order
func (a *Artifact) Functions() []*models.Function {
	funcs := make([]*models.Function, 0, len(a.Model.Storage.Functions))
	for i := range a.Model.Storage.Functions {
		funcs = append(funcs, &a.Model.Storage.Functions[i])
	}
	return funcs
}

// AssociationSetMappings returns every association set mapping
func (a *Artifact) AssociationSetMappings() []*models.AssociationSetMapping {
	asms := make([]*models.AssociationSetMapping, 0, len(a.Model.Mapping.AssociationSetMappings))
	for i := range a.Model.Mapping.AssociationSetMappings {
		asms = append(asms, &a.Model.Mapping.AssociationSetMappings[i])
	}
	return asms
}

// AssociationSetMappingFor returns the mapping of an association, or nil when it is not mapped explicitly
func (a *Artifact) AssociationSetMappingFor(assoc *models.Association) *models.AssociationSetMapping {
	return a.asmByAssociation[a.AssociationName(assoc)]
}

// ForEachEntityTypeMapping calls fn once for every (entity type, storage set)
// pair established by a mapping fragment
func (a *Artifact) ForEachEntityTypeMapping(fn func(et *models.EntityType, set *models.StorageEntitySet)) {
	for _, esm := range a.Model.Mapping.EntitySetMappings {
		for _, etm := range esm.TypeMappings {
			et := a.LookupEntityType(etm.TypeName)
			if et == nil {
				continue
			}
			for _, frag := range etm.Fragments {
				if set := a.entitySets[frag.StoreEntitySet]; set != nil {
					fn(et, set)
				}
			}
		}
	}
}

// MappedColumns returns every storage column the property is mapped to across
// all mapping fragments, in first-seen order without duplicates. Inherited
// properties are resolved to their declaring type first.
func (a *Artifact) MappedColumns(et *models.EntityType, property string) []ColumnRef {
	decl := a.DeclaringType(et, property)
	if decl == nil {
		return nil
	}
	return a.propertyColumns[propertyKey{a.EntityTypeName(decl), property}]
}

func (a *Artifact) buildIndexes() error {
	m := a.Model
	a.entityTypes = make(map[string]*models.EntityType, len(m.Conceptual.EntityTypes))
	a.associations = make(map[string]*models.Association, len(m.Conceptual.Associations))
	a.entitySets = make(map[string]*models.StorageEntitySet, len(m.Storage.EntitySets))
	a.asmByAssociation = make(map[string]*models.AssociationSetMapping)
	a.propertyColumns = make(map[propertyKey][]ColumnRef)

	for i := range m.Conceptual.EntityTypes {
		et := &m.Conceptual.EntityTypes[i]
		name := a.EntityTypeName(et)
		if _, dup := a.entityTypes[name]; dup {
			return fmt.Errorf("%w: duplicate entity type %q", ErrInvalidModel, name)
		}
		a.entityTypes[name] = et
	}
	for i := range m.Conceptual.Associations {
		assoc := &m.Conceptual.Associations[i]
		a.associations[a.AssociationName(assoc)] = assoc
	}
	for i := range m.Storage.EntitySets {
		set := &m.Storage.EntitySets[i]
		a.entitySets[set.Name] = set
	}

	if err := a.validateConceptual(); err != nil {
		return err
	}

	for ei := range m.Mapping.EntitySetMappings {
		esm := &m.Mapping.EntitySetMappings[ei]
		for ti := range esm.TypeMappings {
			etm := &esm.TypeMappings[ti]
			et := a.LookupEntityType(etm.TypeName)
			if et == nil {
				return fmt.Errorf("%w: entity set mapping %q: unknown entity type %q", ErrInvalidModel, esm.Name, etm.TypeName)
			}
			for _, frag := range etm.Fragments {
				set := a.entitySets[frag.StoreEntitySet]
				if set == nil {
					return fmt.Errorf("%w: mapping of %q: unknown store entity set %q", ErrInvalidModel, etm.TypeName, frag.StoreEntitySet)
				}
				for _, sp := range frag.ScalarProperties {
					decl := a.DeclaringType(et, sp.Name)
					if decl == nil {
						return fmt.Errorf("%w: mapping of %q: unknown property %q", ErrInvalidModel, etm.TypeName, sp.Name)
					}
					key := propertyKey{a.EntityTypeName(decl), sp.Name}
					if !containsColumnRef(a.propertyColumns[key], set, sp.Column) {
						a.propertyColumns[key] = append(a.propertyColumns[key], ColumnRef{EntitySet: set, Column: sp.Column})
					}
				}
			}
		}
	}

	for i := range m.Mapping.AssociationSetMappings {
		asm := &m.Mapping.AssociationSetMappings[i]
		assoc := a.Association(asm.Association)
		if assoc == nil {
			return fmt.Errorf("%w: association set mapping %q: unknown association %q", ErrInvalidModel, asm.Name, asm.Association)
		}
		if a.entitySets[asm.StoreEntitySet] == nil {
			return fmt.Errorf("%w: association set mapping %q: unknown store entity set %q", ErrInvalidModel, asm.Name, asm.StoreEntitySet)
		}
		for _, end := range asm.Ends {
			if assoc.End(end.Role) == nil {
				return fmt.Errorf("%w: association set mapping %q: unknown role %q", ErrInvalidModel, asm.Name, end.Role)
			}
		}
		a.asmByAssociation[a.AssociationName(assoc)] = asm
	}
	return nil
}

func (a *Artifact) validateConceptual() error {
	for _, et := range a.EntityTypes() {
		seen := map[*models.EntityType]bool{}
		for t := et; t != nil; t = a.BaseType(t) {
			if seen[t] {
				return fmt.Errorf("%w: entity type %q has a cyclic base type chain", ErrInvalidModel, et.Name)
			}
			seen[t] = true
			if t.BaseType != "" && a.BaseType(t) == nil {
				return fmt.Errorf("%w: entity type %q: unknown base type %q", ErrInvalidModel, t.Name, t.BaseType)
			}
		}
	}

	for _, assoc := range a.Associations() {
		for _, end := range assoc.Ends {
			if a.LookupEntityType(end.Type) == nil {
				return fmt.Errorf("%w: association %q: unknown end type %q", ErrInvalidModel, assoc.Name, end.Type)
			}
		}
		rc := assoc.ReferentialConstraint
		if rc == nil {
			continue
		}
		if len(rc.Principal.Properties) != len(rc.Dependent.Properties) {
			return fmt.Errorf("%w: association %q has %d principal and %d dependent properties",
				ErrConstraintArity, assoc.Name, len(rc.Principal.Properties), len(rc.Dependent.Properties))
		}
		for _, role := range []models.ConstraintRole{rc.Principal, rc.Dependent} {
			et := a.EndType(assoc, role.Role)
			if et == nil {
				return fmt.Errorf("%w: association %q: referential constraint names unknown role %q", ErrInvalidModel, assoc.Name, role.Role)
			}
			for _, p := range role.Properties {
				if a.DeclaringType(et, p) == nil {
					return fmt.Errorf("%w: association %q: unknown property %q on %q", ErrInvalidModel, assoc.Name, p, et.Name)
				}
			}
		}
	}
	return nil
}

func containsColumnRef(refs []ColumnRef, set *models.StorageEntitySet, column string) bool {
	for _, r := range refs {
		if r.EntitySet == set && r.Column == column {
			return true
		}
	}
	return false
}
