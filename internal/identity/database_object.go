package identity

import (
	"cmp"

	"github.com/vitebski/edmsync/internal/artifact"
	"github.com/vitebski/edmsync/pkg/models"
)

// DatabaseObject identifies a table, view or function by schema and name
type DatabaseObject struct {
	Schema string
	Name   string
}

// NewDatabaseObject creates a database object identity
func NewDatabaseObject(schema, name string) DatabaseObject {
	return DatabaseObject{Schema: schema, Name: name}
}

// DatabaseObjectFromEntitySet identifies the table or view behind a storage entity set
func DatabaseObjectFromEntitySet(set *models.StorageEntitySet) DatabaseObject {
	return DatabaseObject{Schema: set.Schema, Name: set.TableName()}
}

// DatabaseObjectFromFunction identifies a storage function
func DatabaseObjectFromFunction(f *models.Function) DatabaseObject {
	return DatabaseObject{Schema: f.Schema, Name: f.DatabaseName()}
}

// Compare orders objects by schema, then name
func (o DatabaseObject) Compare(other DatabaseObject) int {
	if c := cmp.Compare(o.Schema, other.Schema); c != 0 {
		return c
	}
	return cmp.Compare(o.Name, other.Name)
}

func (o DatabaseObject) String() string {
	if o.Schema == "" {
		return o.Name
	}
	return o.Schema + "." + o.Name
}

// CompareDatabaseObjects is DatabaseObject.Compare as a function value
func CompareDatabaseObjects(a, b DatabaseObject) int {
	return a.Compare(b)
}

// DatabaseColumn identifies a column of a table or view
type DatabaseColumn struct {
	Object DatabaseObject
	Column string
}

// NewDatabaseColumn creates a column identity
func NewDatabaseColumn(schema, table, column string) DatabaseColumn {
	return DatabaseColumn{Object: NewDatabaseObject(schema, table), Column: column}
}

// DatabaseColumnFromRef identifies the column reached through a mapping
func DatabaseColumnFromRef(ref artifact.ColumnRef) DatabaseColumn {
	return DatabaseColumn{Object: DatabaseObjectFromEntitySet(ref.EntitySet), Column: ref.Column}
}

// Compare orders columns by schema, table, then column name
func (c DatabaseColumn) Compare(other DatabaseColumn) int {
	if r := c.Object.Compare(other.Object); r != 0 {
		return r
	}
	return cmp.Compare(c.Column, other.Column)
}

func (c DatabaseColumn) String() string {
	return c.Object.String() + "." + c.Column
}

// CompareDatabaseColumns is DatabaseColumn.Compare as a function value
func CompareDatabaseColumns(a, b DatabaseColumn) int {
	return a.Compare(b)
}

func columnsFromRefs(refs []artifact.ColumnRef) []DatabaseColumn {
	cols := make([]DatabaseColumn, 0, len(refs))
	for _, ref := range refs {
		cols = append(cols, DatabaseColumnFromRef(ref))
	}
	return cols
}
