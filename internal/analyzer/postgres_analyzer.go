package analyzer

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/edmsync/pkg/models"
)

// Querier runs a query on a PostgreSQL connection or pool
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresAnalyzer introspects one PostgreSQL schema through information_schema
// and pg_catalog
type PostgresAnalyzer struct {
	Pool   Querier
	Schema string
	Logger *logrus.Logger
}

// NewPostgresAnalyzer creates a new PostgreSQL schema analyzer
func NewPostgresAnalyzer(pool Querier, schema string, logger *logrus.Logger) *PostgresAnalyzer {
	if schema == "" {
		schema = "public"
	}
	return &PostgresAnalyzer{Pool: pool, Schema: schema, Logger: logger}
}

// AnalyzeSchema reads tables, views, columns, keys, foreign keys and routines
func (pa *PostgresAnalyzer) AnalyzeSchema(ctx context.Context) (*models.DatabaseSchema, error) {
	s := models.NewDatabaseSchema("postgres", pa.Schema)

	steps := []struct {
		name string
		fn   func(context.Context, *models.DatabaseSchema) error
	}{
		{"tables", pa.discoverTables},
		{"columns", pa.discoverColumns},
		{"primary keys", pa.discoverPrimaryKeys},
		{"foreign keys", pa.discoverForeignKeys},
	}
	for _, step := range steps {
		if err := step.fn(ctx, s); err != nil {
			pa.Logger.Errorf("Error getting %s: %v", step.name, err)
			return nil, fmt.Errorf("getting %s: %w", step.name, err)
		}
	}
	if err := pa.discoverRoutines(ctx, s); err != nil {
		pa.Logger.Warningf("Error getting routines, continuing without them: %v", err)
	}

	detectManyToManyTables(s)
	pa.Logger.Infof("Analyzed %d tables, %d views, %d routines", len(s.Tables), len(s.Views), len(s.Routines))
	return s, nil
}

func (pa *PostgresAnalyzer) discoverTables(ctx context.Context, s *models.DatabaseSchema) error {
	query := `
		SELECT table_name::text, table_type::text
		FROM information_schema.tables
		WHERE table_schema = $1
		  AND table_type IN ('BASE TABLE', 'VIEW')
		ORDER BY table_name`

	rows, err := pa.Pool.Query(ctx, query, pa.Schema)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var name, kind string
		if err := rows.Scan(&name, &kind); err != nil {
			return err
		}
		if kind == "VIEW" {
			s.Views = append(s.Views, name)
		} else {
			s.Tables = append(s.Tables, name)
		}
	}
	return rows.Err()
}

func (pa *PostgresAnalyzer) discoverColumns(ctx context.Context, s *models.DatabaseSchema) error {
	query := `
		SELECT
			table_name::text,
			column_name::text,
			data_type::text,
			udt_name::text,
			is_nullable::text,
			COALESCE(column_default, '')::text,
			character_maximum_length::bigint,
			numeric_precision::bigint,
			numeric_scale::bigint
		FROM information_schema.columns
		WHERE table_schema = $1
		ORDER BY table_name, ordinal_position`

	rows, err := pa.Pool.Query(ctx, query, pa.Schema)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			table, name, dataType, udtName, nullable, def string
			maxLen, precision, scale                     *int64
		)
		if err := rows.Scan(&table, &name, &dataType, &udtName, &nullable, &def, &maxLen, &precision, &scale); err != nil {
			return err
		}
		columnType := udtName
		if maxLen != nil {
			columnType = udtName + "(" + strconv.FormatInt(*maxLen, 10) + ")"
		}
		s.TableColumns[table] = append(s.TableColumns[table], models.Column{
			Name:             name,
			DataType:         dataType,
			ColumnType:       columnType,
			CharMaxLength:    maxLen,
			NumericPrecision: precision,
			NumericScale:     scale,
			IsNullable:       nullable == "YES",
			Extra:            def,
		})
	}
	return rows.Err()
}

func (pa *PostgresAnalyzer) discoverPrimaryKeys(ctx context.Context, s *models.DatabaseSchema) error {
	query := `
		SELECT
			tc.table_name::text,
			kcu.column_name::text
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		  AND tc.table_schema = kcu.table_schema
		  AND tc.table_name = kcu.table_name
		WHERE tc.constraint_type = 'PRIMARY KEY'
		  AND tc.table_schema = $1
		ORDER BY tc.table_name, kcu.ordinal_position`

	rows, err := pa.Pool.Query(ctx, query, pa.Schema)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return err
		}
		s.PrimaryKeys[table] = append(s.PrimaryKeys[table], column)
		if c := s.Column(table, column); c != nil {
			c.ColumnKey = "PRI"
		}
	}
	return rows.Err()
}

// discoverForeignKeys pairs each referencing column with the referenced column
// at the same position, so composite keys keep their column order. Constraint
// names are only unique per table, so constraints are read from pg_constraint.
func (pa *PostgresAnalyzer) discoverForeignKeys(ctx context.Context, s *models.DatabaseSchema) error {
	query := `
		SELECT
			src.relname::text,
			con.conname::text,
			sa.attname::text,
			ref.relname::text,
			ra.attname::text
		FROM pg_constraint con
		JOIN pg_class src ON src.oid = con.conrelid
		JOIN pg_namespace ns ON ns.oid = src.relnamespace
		JOIN pg_class ref ON ref.oid = con.confrelid
		CROSS JOIN LATERAL unnest(con.conkey, con.confkey) WITH ORDINALITY AS k(src_attnum, ref_attnum, position)
		JOIN pg_attribute sa ON sa.attrelid = con.conrelid AND sa.attnum = k.src_attnum
		JOIN pg_attribute ra ON ra.attrelid = con.confrelid AND ra.attnum = k.ref_attnum
		WHERE con.contype = 'f'
		  AND ns.nspname = $1
		ORDER BY src.relname, con.conname, k.position`

	rows, err := pa.Pool.Query(ctx, query, pa.Schema)
	if err != nil {
		return err
	}
	defer rows.Close()

	var fkRows []foreignKeyRow
	for rows.Next() {
		var r foreignKeyRow
		if err := rows.Scan(&r.table, &r.constraint, &r.column, &r.referencedTable, &r.referencedColumn); err != nil {
			return err
		}
		fkRows = append(fkRows, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	groupForeignKeys(s, fkRows)
	return nil
}

func (pa *PostgresAnalyzer) discoverRoutines(ctx context.Context, s *models.DatabaseSchema) error {
	query := `
		SELECT routine_name::text, COALESCE(routine_type, 'FUNCTION')::text
		FROM information_schema.routines
		WHERE routine_schema = $1
		ORDER BY routine_name`

	rows, err := pa.Pool.Query(ctx, query, pa.Schema)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var r models.Routine
		if err := rows.Scan(&r.Name, &r.Type); err != nil {
			return err
		}
		s.Routines = append(s.Routines, r)
	}
	return rows.Err()
}
