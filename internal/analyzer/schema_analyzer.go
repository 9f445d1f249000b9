package analyzer

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/edmsync/internal/connector"
	"github.com/vitebski/edmsync/pkg/models"
	"github.com/yourbasic/graph"
)

// Introspector reads the schema of a live database
type Introspector interface {
	AnalyzeSchema(ctx context.Context) (*models.DatabaseSchema, error)
}

// SchemaAnalyzer introspects a MySQL database through information_schema
type SchemaAnalyzer struct {
	DB     *connector.DatabaseConnector
	Schema *models.DatabaseSchema
	Logger *logrus.Logger
}

// NewSchemaAnalyzer creates a new MySQL schema analyzer
func NewSchemaAnalyzer(db *connector.DatabaseConnector, logger *logrus.Logger) *SchemaAnalyzer {
	return &SchemaAnalyzer{
		DB:     db,
		Schema: models.NewDatabaseSchema("mysql", db.Database),
		Logger: logger,
	}
}

// AnalyzeSchema reads tables, views, columns, keys, foreign keys and routines
func (sa *SchemaAnalyzer) AnalyzeSchema(ctx context.Context) (*models.DatabaseSchema, error) {
	s := models.NewDatabaseSchema("mysql", sa.DB.Database)
	sa.Schema = s

	// Get all tables and views
	tablesQuery := `
		SELECT table_name, table_type
		FROM information_schema.tables
		WHERE table_schema = ?
		ORDER BY table_name
	`
	tablesResult, err := sa.DB.ExecuteQuery(ctx, tablesQuery, sa.DB.Database)
	if err != nil {
		sa.Logger.Errorf("Error getting tables: %v", err)
		return nil, fmt.Errorf("getting tables: %w", err)
	}
	for _, row := range tablesResult {
		name := row.String("table_name")
		if row.String("table_type") == "VIEW" {
			s.Views = append(s.Views, name)
		} else {
			s.Tables = append(s.Tables, name)
		}
	}

	// Get all columns in one pass
	columnsQuery := `
		SELECT
			table_name,
			column_name,
			data_type,
			column_type,
			character_maximum_length,
			numeric_precision,
			numeric_scale,
			is_nullable,
			column_key,
			extra,
			column_comment
		FROM information_schema.columns
		WHERE table_schema = ?
		ORDER BY table_name, ordinal_position
	`
	columnsResult, err := sa.DB.ExecuteQuery(ctx, columnsQuery, sa.DB.Database)
	if err != nil {
		sa.Logger.Errorf("Error getting columns: %v", err)
		return nil, fmt.Errorf("getting columns: %w", err)
	}
	for _, row := range columnsResult {
		table := row.String("table_name")
		column := models.Column{
			Name:             row.String("column_name"),
			DataType:         row.String("data_type"),
			ColumnType:       row.String("column_type"),
			CharMaxLength:    row.Int64("character_maximum_length"),
			NumericPrecision: row.Int64("numeric_precision"),
			NumericScale:     row.Int64("numeric_scale"),
			IsNullable:       row.String("is_nullable") == "YES",
			ColumnKey:        row.String("column_key"),
			Extra:            row.String("extra"),
			ColumnComment:    row.String("column_comment"),
		}
		s.TableColumns[table] = append(s.TableColumns[table], column)
		if column.ColumnKey == "PRI" {
			s.PrimaryKeys[table] = append(s.PrimaryKeys[table], column.Name)
		}
	}

	// Get all foreign keys, one row per column
	fkQuery := `
		SELECT
			table_name,
			column_name,
			referenced_table_name,
			referenced_column_name,
			constraint_name
		FROM information_schema.key_column_usage
		WHERE table_schema = ?
		AND referenced_table_name IS NOT NULL
		ORDER BY table_name, constraint_name, ordinal_position
	`
	fkResult, err := sa.DB.ExecuteQuery(ctx, fkQuery, sa.DB.Database)
	if err != nil {
		sa.Logger.Errorf("Error getting foreign keys: %v", err)
		return nil, fmt.Errorf("getting foreign keys: %w", err)
	}
	var fkRows []foreignKeyRow
	for _, row := range fkResult {
		fkRows = append(fkRows, foreignKeyRow{
			table:            row.String("table_name"),
			constraint:       row.String("constraint_name"),
			column:           row.String("column_name"),
			referencedTable:  row.String("referenced_table_name"),
			referencedColumn: row.String("referenced_column_name"),
		})
	}
	groupForeignKeys(s, fkRows)

	// Routines are optional; older servers may restrict access
	routinesQuery := `
		SELECT routine_name, routine_type
		FROM information_schema.routines
		WHERE routine_schema = ?
		ORDER BY routine_name
	`
	routinesResult, err := sa.DB.ExecuteQuery(ctx, routinesQuery, sa.DB.Database)
	if err != nil {
		sa.Logger.Warningf("Error getting routines, continuing without them: %v", err)
	} else {
		for _, row := range routinesResult {
			s.Routines = append(s.Routines, models.Routine{
				Name: row.String("routine_name"),
				Type: row.String("routine_type"),
			})
		}
	}

	detectManyToManyTables(s)
	sa.Logger.Infof("Analyzed %d tables, %d views, %d routines", len(s.Tables), len(s.Views), len(s.Routines))
	return s, nil
}

type foreignKeyRow struct {
	table, constraint, column, referencedTable, referencedColumn string
}

// groupForeignKeys folds one-row-per-column results into multi-column constraints
func groupForeignKeys(s *models.DatabaseSchema, rows []foreignKeyRow) {
	type fkKey struct{ table, constraint string }
	grouped := make(map[fkKey]*models.ForeignKey)
	var order []fkKey

	for _, r := range rows {
		k := fkKey{r.table, r.constraint}
		fk, exists := grouped[k]
		if !exists {
			fk = &models.ForeignKey{
				Table:           r.table,
				ReferencedTable: r.referencedTable,
				ConstraintName:  r.constraint,
			}
			grouped[k] = fk
			order = append(order, k)
		}
		fk.Columns = append(fk.Columns, r.column)
		fk.ReferencedColumns = append(fk.ReferencedColumns, r.referencedColumn)
	}

	for _, k := range order {
		fk := grouped[k]
		fk.IsNullable = true
		for _, col := range fk.Columns {
			if c := s.Column(fk.Table, col); c != nil && !c.IsNullable {
				fk.IsNullable = false
				break
			}
		}
		s.ForeignKeys[k.table] = append(s.ForeignKeys[k.table], *fk)
	}
}

// detectManyToManyTables marks pure join tables: two foreign keys, and every
// column belongs to both a foreign key and the primary key
func detectManyToManyTables(s *models.DatabaseSchema) {
	for _, table := range s.Tables {
		fks := s.ForeignKeys[table]
		if len(fks) != 2 {
			continue
		}
		columns := s.TableColumns[table]
		pk := s.PrimaryKeys[table]
		if len(columns) == 0 || len(pk) != len(columns) {
			continue
		}

		fkColumns := make(map[string]bool)
		for _, fk := range fks {
			for _, c := range fk.Columns {
				fkColumns[c] = true
			}
		}
		isJoin := true
		for _, col := range columns {
			if !fkColumns[col.Name] {
				isJoin = false
				break
			}
		}
		if isJoin {
			s.ManyToManyTables[table] = true
		}
	}
}

// DependencyGraph builds a graph with an edge from each table to every table it references.
// The returned index maps table names to vertices.
func DependencyGraph(s *models.DatabaseSchema) (*graph.Mutable, map[string]int) {
	index := make(map[string]int, len(s.Tables))
	for i, table := range s.Tables {
		index[table] = i
	}
	g := graph.New(len(s.Tables))
	for _, table := range s.Tables {
		for _, fk := range s.ForeignKeys[table] {
			// Use weight=1 for mandatory (NOT NULL) foreign keys
			// Use weight=2 for optional (nullable) foreign keys
			weight := int64(2)
			if !fk.IsNullable {
				weight = 1
			}
			if dest, ok := index[fk.ReferencedTable]; ok {
				g.AddCost(index[table], dest, weight)
			}
		}
	}
	return g, index
}

// GetCircularTables returns the groups of tables that reference each other,
// directly or through other tables, including self-referencing tables
func GetCircularTables(s *models.DatabaseSchema) [][]string {
	g, _ := DependencyGraph(s)
	var groups [][]string
	for _, component := range graph.StrongComponents(g) {
		if len(component) == 1 && !g.Edge(component[0], component[0]) {
			continue
		}
		group := make([]string, 0, len(component))
		for _, v := range component {
			group = append(group, s.Tables[v])
		}
		sort.Strings(group)
		groups = append(groups, group)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })
	return groups
}
