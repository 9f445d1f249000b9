package migrations

import (
	"fmt"
	"strings"

	"github.com/vitebski/edmsync/internal/identity"
	"github.com/vitebski/edmsync/pkg/models"
)

// Operation is one step of a migration between two storage models
type Operation interface {
	// Table is the table the operation changes
	Table() identity.DatabaseObject
	String() string
}

// ForeignKey is a foreign key resolved to database objects
type ForeignKey struct {
	Name             string
	Dependent        identity.DatabaseObject
	DependentColumns []string
	Principal        identity.DatabaseObject
	PrincipalColumns []string
}

func (fk ForeignKey) signature() string {
	return fmt.Sprintf("%s|%s(%s)|%s(%s)", fk.Name,
		fk.Dependent, strings.Join(fk.DependentColumns, ","),
		fk.Principal, strings.Join(fk.PrincipalColumns, ","))
}

// RenameTable renames a table within its schema
type RenameTable struct {
	Object  identity.DatabaseObject
	NewName string
}

func (op RenameTable) Table() identity.DatabaseObject { return op.Object }

func (op RenameTable) String() string {
	return fmt.Sprintf("RenameTable %s -> %s", op.Object, op.NewName)
}

// MoveTable moves a table to another schema
type MoveTable struct {
	Object    identity.DatabaseObject
	NewSchema string
}

func (op MoveTable) Table() identity.DatabaseObject { return op.Object }

func (op MoveTable) String() string {
	return fmt.Sprintf("MoveTable %s -> %s", op.Object, op.NewSchema)
}

// RenameColumn renames a column of a table
type RenameColumn struct {
	Object  identity.DatabaseObject
	Column  string
	NewName string
}

func (op RenameColumn) Table() identity.DatabaseObject { return op.Object }

func (op RenameColumn) String() string {
	return fmt.Sprintf("RenameColumn %s.%s -> %s", op.Object, op.Column, op.NewName)
}

// DropForeignKey removes a foreign key
type DropForeignKey struct {
	ForeignKey ForeignKey
}

func (op DropForeignKey) Table() identity.DatabaseObject { return op.ForeignKey.Dependent }

func (op DropForeignKey) String() string {
	return fmt.Sprintf("DropForeignKey %s on %s", op.ForeignKey.Name, op.ForeignKey.Dependent)
}

// DropPrimaryKey removes the primary key of a table
type DropPrimaryKey struct {
	Object  identity.DatabaseObject
	Columns []string
}

func (op DropPrimaryKey) Table() identity.DatabaseObject { return op.Object }

func (op DropPrimaryKey) String() string {
	return fmt.Sprintf("DropPrimaryKey %s (%s)", op.Object, strings.Join(op.Columns, ", "))
}

// CreateTable creates a table with its columns and primary key
type CreateTable struct {
	Object     identity.DatabaseObject
	Columns    []models.StorageColumn
	PrimaryKey []string
}

func (op CreateTable) Table() identity.DatabaseObject { return op.Object }

func (op CreateTable) String() string {
	cols := make([]string, 0, len(op.Columns))
	for _, c := range op.Columns {
		cols = append(cols, describeColumn(c))
	}
	return fmt.Sprintf("CreateTable %s (%s) key (%s)", op.Object, strings.Join(cols, ", "), strings.Join(op.PrimaryKey, ", "))
}

// AddColumn adds a column to an existing table
type AddColumn struct {
	Object identity.DatabaseObject
	Column models.StorageColumn
}

func (op AddColumn) Table() identity.DatabaseObject { return op.Object }

func (op AddColumn) String() string {
	return fmt.Sprintf("AddColumn %s.%s", op.Object, describeColumn(op.Column))
}

// AlterColumn changes the type or nullability of a column
type AlterColumn struct {
	Object   identity.DatabaseObject
	Column   models.StorageColumn
	Previous models.StorageColumn
}

func (op AlterColumn) Table() identity.DatabaseObject { return op.Object }

func (op AlterColumn) String() string {
	return fmt.Sprintf("AlterColumn %s.%s -> %s", op.Object, describeColumn(op.Previous), describeColumn(op.Column))
}

// AddPrimaryKey adds a primary key to an existing table
type AddPrimaryKey struct {
	Object  identity.DatabaseObject
	Columns []string
}

func (op AddPrimaryKey) Table() identity.DatabaseObject { return op.Object }

func (op AddPrimaryKey) String() string {
	return fmt.Sprintf("AddPrimaryKey %s (%s)", op.Object, strings.Join(op.Columns, ", "))
}

// AddForeignKey adds a foreign key
type AddForeignKey struct {
	ForeignKey ForeignKey
}

func (op AddForeignKey) Table() identity.DatabaseObject { return op.ForeignKey.Dependent }

func (op AddForeignKey) String() string {
	fk := op.ForeignKey
	return fmt.Sprintf("AddForeignKey %s %s(%s) -> %s(%s)", fk.Name,
		fk.Dependent, strings.Join(fk.DependentColumns, ", "),
		fk.Principal, strings.Join(fk.PrincipalColumns, ", "))
}

// DropColumn removes a column
type DropColumn struct {
	Object identity.DatabaseObject
	Column string
}

func (op DropColumn) Table() identity.DatabaseObject { return op.Object }

func (op DropColumn) String() string {
	return fmt.Sprintf("DropColumn %s.%s", op.Object, op.Column)
}

// DropTable removes a table
type DropTable struct {
	Object identity.DatabaseObject
}

func (op DropTable) Table() identity.DatabaseObject { return op.Object }

func (op DropTable) String() string {
	return fmt.Sprintf("DropTable %s", op.Object)
}

func describeColumn(c models.StorageColumn) string {
	s := c.Name
	if c.Type != "" {
		s += " " + c.Type
	}
	if c.Nullable {
		s += " null"
	} else {
		s += " not null"
	}
	return s
}
