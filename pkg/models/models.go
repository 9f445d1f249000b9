package models

// Column represents a database column with its properties
type Column struct {
	Name             string
	DataType         string
	ColumnType       string
	CharMaxLength    *int64
	NumericPrecision *int64
	NumericScale     *int64
	IsNullable       bool
	ColumnKey        string
	Extra            string
	ColumnComment    string
}

// ForeignKey represents a foreign key constraint, possibly spanning several columns
type ForeignKey struct {
	Table             string
	Columns           []string
	ReferencedTable   string
	ReferencedColumns []string
	IsNullable        bool
	ConstraintName    string
}

// Routine represents a stored procedure or function
type Routine struct {
	Name string
	Type string
}

// TableCategory represents the category of a table
type TableCategory int

const (
	Standalone TableCategory = iota
	Dependent
	ManyToMany
	View
)

// String returns the display name of the category
func (c TableCategory) String() string {
	switch c {
	case Dependent:
		return "Dependent"
	case ManyToMany:
		return "Many-to-Many"
	case View:
		return "View"
	default:
		return "Standalone"
	}
}

// DatabaseSchema represents an introspected database schema
type DatabaseSchema struct {
	Driver           string
	Schema           string
	Tables           []string
	Views            []string
	TableColumns     map[string][]Column
	PrimaryKeys      map[string][]string
	ForeignKeys      map[string][]ForeignKey
	ManyToManyTables map[string]bool
	Routines         []Routine
}

// NewDatabaseSchema creates an empty schema with initialized maps
func NewDatabaseSchema(driver, schema string) *DatabaseSchema {
	return &DatabaseSchema{
		Driver:           driver,
		Schema:           schema,
		TableColumns:     make(map[string][]Column),
		PrimaryKeys:      make(map[string][]string),
		ForeignKeys:      make(map[string][]ForeignKey),
		ManyToManyTables: make(map[string]bool),
	}
}

// Category returns the category of a table or view
func (s *DatabaseSchema) Category(table string) TableCategory {
	for _, v := range s.Views {
		if v == table {
			return View
		}
	}
	if s.ManyToManyTables[table] {
		return ManyToMany
	}
	if len(s.ForeignKeys[table]) > 0 {
		return Dependent
	}
	return Standalone
}

// Column returns the named column of a table, or nil
func (s *DatabaseSchema) Column(table, name string) *Column {
	cols := s.TableColumns[table]
	for i := range cols {
		if cols[i].Name == name {
			return &cols[i]
		}
	}
	return nil
}
