package models

import "strings"

// Model file versions. Version 1 models cannot carry referential constraints
// on associations; their relationships are expressed purely through
// association set mappings.
const (
	VersionLegacy  = 1
	VersionCurrent = 3
)

// Association end multiplicities
const (
	MultiplicityOne  = "1"
	MultiplicityZero = "0..1"
	MultiplicityMany = "*"
)

// Storage entity set kinds
const (
	KindTable = "table"
	KindView  = "view"
)

// Model is the on-disk representation of a conceptual model, a storage model
// and the mapping between them
type Model struct {
	Version    int             `yaml:"version"`
	Conceptual ConceptualModel `yaml:"conceptual"`
	Storage    StorageModel    `yaml:"storage"`
	Mapping    MappingModel    `yaml:"mapping"`
}

// ForeignKeysInModel reports whether associations may carry referential constraints
func (m *Model) ForeignKeysInModel() bool {
	return m.Version > VersionLegacy
}

// ConceptualModel holds the C-side entity types and associations
type ConceptualModel struct {
	Namespace    string        `yaml:"namespace"`
	EntityTypes  []EntityType  `yaml:"entityTypes,omitempty"`
	Associations []Association `yaml:"associations,omitempty"`
}

// EntityType is a conceptual entity type
type EntityType struct {
	Name       string     `yaml:"name"`
	BaseType   string     `yaml:"baseType,omitempty"`
	Key        []string   `yaml:"key,omitempty"`
	Properties []Property `yaml:"properties,omitempty"`
}

// Property returns the property declared directly on the type, or nil
func (et *EntityType) Property(name string) *Property {
	for i := range et.Properties {
		if et.Properties[i].Name == name {
			return &et.Properties[i]
		}
	}
	return nil
}

// Property is a scalar property of a conceptual entity type
type Property struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type,omitempty"`
	Nullable bool   `yaml:"nullable,omitempty"`
}

// Association relates two conceptual entity types
type Association struct {
	Name                  string                 `yaml:"name"`
	Ends                  []AssociationEnd       `yaml:"ends"`
	ReferentialConstraint *ReferentialConstraint `yaml:"referentialConstraint,omitempty"`
}

// End returns the end with the given role, or nil
func (a *Association) End(role string) *AssociationEnd {
	for i := range a.Ends {
		if a.Ends[i].Role == role {
			return &a.Ends[i]
		}
	}
	return nil
}

// IsManyToMany reports whether both ends have many multiplicity
func (a *Association) IsManyToMany() bool {
	if len(a.Ends) != 2 {
		return false
	}
	return a.Ends[0].Multiplicity == MultiplicityMany && a.Ends[1].Multiplicity == MultiplicityMany
}

// AssociationEnd is one end of an association
type AssociationEnd struct {
	Role         string `yaml:"role"`
	Type         string `yaml:"type"`
	Multiplicity string `yaml:"multiplicity"`
}

// ReferentialConstraint is a C-side foreign key between two association ends
type ReferentialConstraint struct {
	Principal ConstraintRole `yaml:"principal"`
	Dependent ConstraintRole `yaml:"dependent"`
}

// ConstraintRole names an end and the ordered properties participating in a constraint
type ConstraintRole struct {
	Role       string   `yaml:"role"`
	Properties []string `yaml:"properties"`
}

// StorageModel holds the S-side tables, views and functions
type StorageModel struct {
	Namespace   string              `yaml:"namespace"`
	Provider    string              `yaml:"provider,omitempty"`
	EntitySets  []StorageEntitySet  `yaml:"entitySets,omitempty"`
	Functions   []Function          `yaml:"functions,omitempty"`
	ForeignKeys []StorageForeignKey `yaml:"foreignKeys,omitempty"`
}

// StorageEntitySet is a table or view in the storage model
type StorageEntitySet struct {
	Name    string          `yaml:"name"`
	Schema  string          `yaml:"schema,omitempty"`
	Table   string          `yaml:"table,omitempty"`
	Kind    string          `yaml:"kind,omitempty"`
	Key     []string        `yaml:"key,omitempty"`
	Columns []StorageColumn `yaml:"columns,omitempty"`
}

// TableName returns the database name of the set, defaulting to the set name
func (es *StorageEntitySet) TableName() string {
	if es.Table != "" {
		return es.Table
	}
	return es.Name
}

// IsView reports whether the set is backed by a view
func (es *StorageEntitySet) IsView() bool {
	return strings.EqualFold(es.Kind, KindView)
}

// Column returns the named column, or nil
func (es *StorageEntitySet) Column(name string) *StorageColumn {
	for i := range es.Columns {
		if es.Columns[i].Name == name {
			return &es.Columns[i]
		}
	}
	return nil
}

// StorageColumn is a column of a storage entity set
type StorageColumn struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type,omitempty"`
	Nullable bool   `yaml:"nullable,omitempty"`
}

// Function is a storage-side function or stored procedure
type Function struct {
	Name              string `yaml:"name"`
	Schema            string `yaml:"schema,omitempty"`
	StoreFunctionName string `yaml:"storeFunctionName,omitempty"`
	IsComposable      bool   `yaml:"isComposable,omitempty"`
}

// DatabaseName returns the database name of the function
func (f *Function) DatabaseName() string {
	if f.StoreFunctionName != "" {
		return f.StoreFunctionName
	}
	return f.Name
}

// StorageForeignKey is a database foreign key between two storage entity sets
type StorageForeignKey struct {
	Name             string   `yaml:"name"`
	PrincipalSet     string   `yaml:"principalSet"`
	PrincipalColumns []string `yaml:"principalColumns"`
	DependentSet     string   `yaml:"dependentSet"`
	DependentColumns []string `yaml:"dependentColumns"`
}

// MappingModel maps conceptual entity types and associations onto storage sets
type MappingModel struct {
	EntitySetMappings      []EntitySetMapping      `yaml:"entitySetMappings,omitempty"`
	AssociationSetMappings []AssociationSetMapping `yaml:"associationSetMappings,omitempty"`
}

// EntitySetMapping groups the type mappings of one conceptual entity set
type EntitySetMapping struct {
	Name         string              `yaml:"name"`
	TypeMappings []EntityTypeMapping `yaml:"typeMappings"`
}

// EntityTypeMapping maps one entity type through one or more fragments
type EntityTypeMapping struct {
	TypeName  string            `yaml:"typeName"`
	IsTypeOf  bool              `yaml:"isTypeOf,omitempty"`
	Fragments []MappingFragment `yaml:"fragments"`
}

// MappingFragment maps properties onto the columns of a single storage set
type MappingFragment struct {
	StoreEntitySet   string           `yaml:"storeEntitySet"`
	ScalarProperties []ScalarProperty `yaml:"scalarProperties"`
}

// ScalarProperty maps a property name to a column name
type ScalarProperty struct {
	Name   string `yaml:"name"`
	Column string `yaml:"column"`
}

// AssociationSetMapping maps an association onto a storage set
type AssociationSetMapping struct {
	Name           string        `yaml:"name"`
	Association    string        `yaml:"association"`
	StoreEntitySet string        `yaml:"storeEntitySet"`
	Ends           []EndProperty `yaml:"ends"`
}

// EndProperty maps the key properties of one association end
type EndProperty struct {
	Role             string           `yaml:"role"`
	ScalarProperties []ScalarProperty `yaml:"scalarProperties"`
}
