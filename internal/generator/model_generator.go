package generator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/iancoleman/strcase"
	"github.com/jinzhu/inflection"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/edmsync/pkg/models"
)

// ModelGenerator reverse engineers an introspected database schema into a model
type ModelGenerator struct {
	Namespace string
	Logger    *logrus.Logger
}

// NewModelGenerator creates a new model generator. An empty namespace is
// derived from the schema name at generation time.
func NewModelGenerator(namespace string, logger *logrus.Logger) *ModelGenerator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ModelGenerator{Namespace: namespace, Logger: logger}
}

// generation holds the per-run name tables
type generation struct {
	schema     *models.DatabaseSchema
	model      *models.Model
	typeNames  map[string]string            // table -> entity type name
	propNames  map[string]map[string]string // table -> column -> property name
	usedTypes  map[string]bool
	usedAssocs map[string]bool
}

// Generate builds a current-version model with one entity type per table or
// view, an association with a referential constraint per foreign key, and a
// many-to-many association per join table
func (mg *ModelGenerator) Generate(schema *models.DatabaseSchema) (*models.Model, error) {
	if schema == nil {
		return nil, fmt.Errorf("cannot generate a model from a nil schema")
	}

	namespace := mg.Namespace
	if namespace == "" {
		namespace = pascalCase(schema.Schema) + "Model"
	}

	g := &generation{
		schema: schema,
		model: &models.Model{
			Version:    models.VersionCurrent,
			Conceptual: models.ConceptualModel{Namespace: namespace},
			Storage: models.StorageModel{
				Namespace: namespace + ".Store",
				Provider:  schema.Driver,
			},
		},
		typeNames:  make(map[string]string),
		propNames:  make(map[string]map[string]string),
		usedTypes:  make(map[string]bool),
		usedAssocs: make(map[string]bool),
	}

	for _, table := range schema.Tables {
		g.addEntitySet(table, models.KindTable)
	}
	for _, view := range schema.Views {
		g.addEntitySet(view, models.KindView)
	}

	for _, table := range schema.Tables {
		if schema.ManyToManyTables[table] {
			continue
		}
		g.addEntityType(table)
	}
	for _, view := range schema.Views {
		g.addEntityType(view)
	}

	for _, table := range schema.Tables {
		fks := schema.ForeignKeys[table]
		for _, fk := range fks {
			g.addStorageForeignKey(fk)
		}
		if schema.ManyToManyTables[table] {
			if err := g.addManyToMany(table); err != nil {
				mg.Logger.Warningf("Skipping join table %s: %v", table, err)
			}
			continue
		}
		for _, fk := range fks {
			if err := g.addForeignKeyAssociation(fk); err != nil {
				mg.Logger.Warningf("Skipping foreign key %s on %s: %v", fk.ConstraintName, table, err)
			}
		}
	}

	for _, r := range schema.Routines {
		g.model.Storage.Functions = append(g.model.Storage.Functions, models.Function{
			Name:              pascalCase(r.Name),
			Schema:            schema.Schema,
			StoreFunctionName: r.Name,
			IsComposable:      strings.EqualFold(r.Type, "FUNCTION"),
		})
	}

	mg.Logger.WithFields(logrus.Fields{
		"namespace":    namespace,
		"entity_types": len(g.model.Conceptual.EntityTypes),
		"associations": len(g.model.Conceptual.Associations),
		"entity_sets":  len(g.model.Storage.EntitySets),
		"functions":    len(g.model.Storage.Functions),
	}).Info("Generated model from database schema")
	return g.model, nil
}

func (g *generation) addEntitySet(table, kind string) {
	set := models.StorageEntitySet{
		Name:   table,
		Schema: g.schema.Schema,
		Table:  table,
		Kind:   kind,
		Key:    g.keyColumns(table),
	}
	for _, col := range g.schema.TableColumns[table] {
		set.Columns = append(set.Columns, models.StorageColumn{
			Name:     col.Name,
			Type:     storeType(col),
			Nullable: col.IsNullable,
		})
	}
	g.model.Storage.EntitySets = append(g.model.Storage.EntitySets, set)
}

// keyColumns returns the primary key, or for key-less tables and views every non-nullable column
func (g *generation) keyColumns(table string) []string {
	if pk := g.schema.PrimaryKeys[table]; len(pk) > 0 {
		return append([]string(nil), pk...)
	}
	var key []string
	for _, col := range g.schema.TableColumns[table] {
		if !col.IsNullable {
			key = append(key, col.Name)
		}
	}
	return key
}

func (g *generation) addEntityType(table string) {
	name := uniqueName(pascalCase(inflection.Singular(table)), g.usedTypes)
	g.typeNames[table] = name

	props := make(map[string]string)
	used := make(map[string]bool)
	et := models.EntityType{Name: name}
	fragment := models.MappingFragment{StoreEntitySet: table}
	for _, col := range g.schema.TableColumns[table] {
		propName := uniqueName(pascalCase(col.Name), used)
		props[col.Name] = propName
		et.Properties = append(et.Properties, models.Property{
			Name:     propName,
			Type:     conceptualType(col),
			Nullable: col.IsNullable,
		})
		fragment.ScalarProperties = append(fragment.ScalarProperties, models.ScalarProperty{Name: propName, Column: col.Name})
	}
	for _, col := range g.keyColumns(table) {
		if p, ok := props[col]; ok {
			et.Key = append(et.Key, p)
		}
	}
	g.propNames[table] = props

	g.model.Conceptual.EntityTypes = append(g.model.Conceptual.EntityTypes, et)
	g.model.Mapping.EntitySetMappings = append(g.model.Mapping.EntitySetMappings, models.EntitySetMapping{
		Name: name,
		TypeMappings: []models.EntityTypeMapping{{
			TypeName:  g.model.Conceptual.Namespace + "." + name,
			Fragments: []models.MappingFragment{fragment},
		}},
	})
}

func (g *generation) addStorageForeignKey(fk models.ForeignKey) {
	g.model.Storage.ForeignKeys = append(g.model.Storage.ForeignKeys, models.StorageForeignKey{
		Name:             fk.ConstraintName,
		PrincipalSet:     fk.ReferencedTable,
		PrincipalColumns: append([]string(nil), fk.ReferencedColumns...),
		DependentSet:     fk.Table,
		DependentColumns: append([]string(nil), fk.Columns...),
	})
}

func (g *generation) addForeignKeyAssociation(fk models.ForeignKey) error {
	principalType, ok := g.typeNames[fk.ReferencedTable]
	if !ok {
		return fmt.Errorf("referenced table %s has no entity type", fk.ReferencedTable)
	}
	dependentType := g.typeNames[fk.Table]
	if len(fk.Columns) != len(fk.ReferencedColumns) {
		return fmt.Errorf("foreign key has %d columns but references %d", len(fk.Columns), len(fk.ReferencedColumns))
	}

	principalProps, err := g.properties(fk.ReferencedTable, fk.ReferencedColumns)
	if err != nil {
		return err
	}
	dependentProps, err := g.properties(fk.Table, fk.Columns)
	if err != nil {
		return err
	}

	principalRole, dependentRole := roles(principalType, dependentType)
	principalMultiplicity := models.MultiplicityOne
	if fk.IsNullable {
		principalMultiplicity = models.MultiplicityZero
	}

	g.model.Conceptual.Associations = append(g.model.Conceptual.Associations, models.Association{
		Name: g.associationName(fk.ConstraintName, dependentType+"_"+principalType),
		Ends: []models.AssociationEnd{
			{Role: principalRole, Type: principalType, Multiplicity: principalMultiplicity},
			{Role: dependentRole, Type: dependentType, Multiplicity: models.MultiplicityMany},
		},
		ReferentialConstraint: &models.ReferentialConstraint{
			Principal: models.ConstraintRole{Role: principalRole, Properties: principalProps},
			Dependent: models.ConstraintRole{Role: dependentRole, Properties: dependentProps},
		},
	})
	return nil
}

// addManyToMany turns a pure join table into a many-to-many association whose
// set mapping points each end's key properties at the join table columns
func (g *generation) addManyToMany(table string) error {
	fks := g.schema.ForeignKeys[table]
	if len(fks) != 2 {
		return fmt.Errorf("expected 2 foreign keys, found %d", len(fks))
	}

	var ends []models.AssociationEnd
	var mappings []models.EndProperty
	for i, fk := range fks {
		endType, ok := g.typeNames[fk.ReferencedTable]
		if !ok {
			return fmt.Errorf("referenced table %s has no entity type", fk.ReferencedTable)
		}
		props, err := g.properties(fk.ReferencedTable, fk.ReferencedColumns)
		if err != nil {
			return err
		}
		role := endType
		if i == 1 && role == ends[0].Role {
			ends[0].Role = role + "1"
			mappings[0].Role = role + "1"
			role += "2"
		}
		end := models.EndProperty{Role: role}
		for j, p := range props {
			end.ScalarProperties = append(end.ScalarProperties, models.ScalarProperty{Name: p, Column: fk.Columns[j]})
		}
		ends = append(ends, models.AssociationEnd{Role: role, Type: endType, Multiplicity: models.MultiplicityMany})
		mappings = append(mappings, end)
	}

	name := g.associationName(pascalCase(table), ends[0].Type+"_"+ends[1].Type)
	g.model.Conceptual.Associations = append(g.model.Conceptual.Associations, models.Association{
		Name: name,
		Ends: ends,
	})
	g.model.Mapping.AssociationSetMappings = append(g.model.Mapping.AssociationSetMappings, models.AssociationSetMapping{
		Name:           name,
		Association:    g.model.Conceptual.Namespace + "." + name,
		StoreEntitySet: table,
		Ends:           mappings,
	})
	return nil
}

func (g *generation) properties(table string, columns []string) ([]string, error) {
	props := make([]string, 0, len(columns))
	for _, col := range columns {
		p, ok := g.propNames[table][col]
		if !ok {
			return nil, fmt.Errorf("column %s.%s is not mapped to a property", table, col)
		}
		props = append(props, p)
	}
	return props, nil
}

func (g *generation) associationName(preferred, fallback string) string {
	name := pascalCase(preferred)
	if name == "" {
		name = fallback
	}
	return uniqueName(name, g.usedAssocs)
}

// roles names the ends after their types, disambiguating self references
func roles(principalType, dependentType string) (string, string) {
	if principalType == dependentType {
		return principalType, dependentType + "1"
	}
	return principalType, dependentType
}

func uniqueName(name string, used map[string]bool) string {
	if name == "" {
		name = "Item"
	}
	candidate := name
	for i := 1; used[candidate]; i++ {
		candidate = name + strconv.Itoa(i)
	}
	used[candidate] = true
	return candidate
}

// pascalCase converts snake_case, kebab-case and space separated names
func pascalCase(s string) string {
	out := strcase.ToCamel(s)
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "T" + out
	}
	return out
}

func storeType(col models.Column) string {
	if col.ColumnType != "" {
		return col.ColumnType
	}
	return col.DataType
}

// conceptualType maps a database data type to a conceptual primitive type
func conceptualType(col models.Column) string {
	dataType := strings.ToLower(col.DataType)
	switch dataType {
	case "varchar", "char", "text", "tinytext", "mediumtext", "longtext",
		"character varying", "character", "enum", "set", "json", "jsonb", "xml", "citext":
		return "String"
	case "tinyint":
		if strings.EqualFold(col.ColumnType, "tinyint(1)") {
			return "Boolean"
		}
		return "Byte"
	case "smallint", "year":
		return "Int16"
	case "int", "integer", "mediumint", "serial":
		return "Int32"
	case "bigint", "bigserial":
		return "Int64"
	case "float", "real":
		return "Single"
	case "double", "double precision":
		return "Double"
	case "decimal", "numeric", "money":
		return "Decimal"
	case "date", "datetime", "timestamp", "timestamp without time zone":
		return "DateTime"
	case "timestamp with time zone", "timestamptz":
		return "DateTimeOffset"
	case "time", "time without time zone", "interval":
		return "Time"
	case "boolean", "bool", "bit":
		return "Boolean"
	case "binary", "varbinary", "blob", "tinyblob", "mediumblob", "longblob", "bytea":
		return "Binary"
	case "uuid":
		return "Guid"
	case "point", "linestring", "polygon", "geometry", "multipoint", "multilinestring", "multipolygon", "geometrycollection":
		return "Geometry"
	}
	return "String"
}
