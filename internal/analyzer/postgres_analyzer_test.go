package analyzer

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Ptr(v int64) *int64 { return &v }

var pgColumnDefs = []string{
	"table_name", "column_name", "data_type", "udt_name", "is_nullable",
	"column_default", "character_maximum_length", "numeric_precision", "numeric_scale",
}

func intColumn(table, name, nullable string) []any {
	return []any{table, name, "integer", "int4", nullable, "", nil, nil, nil}
}

func expectShopSchema(mock pgxmock.PgxPoolIface) {
	mock.ExpectQuery(`FROM information_schema.tables`).WithArgs("public").WillReturnRows(
		pgxmock.NewRows([]string{"table_name", "table_type"}).
			AddRow("customers", "BASE TABLE").
			AddRow("order_lines", "BASE TABLE").
			AddRow("product_summary", "VIEW").
			AddRow("product_tags", "BASE TABLE").
			AddRow("products", "BASE TABLE").
			AddRow("shipments", "BASE TABLE").
			AddRow("tags", "BASE TABLE"))

	columns := pgxmock.NewRows(pgColumnDefs).
		AddRow(intColumn("customers", "id", "NO")...).
		AddRow("customers", "name", "character varying", "varchar", "NO", "", int64Ptr(100), nil, nil).
		AddRow(intColumn("order_lines", "order_id", "NO")...).
		AddRow(intColumn("order_lines", "line_no", "NO")...).
		AddRow(intColumn("order_lines", "product_id", "NO")...).
		AddRow(intColumn("product_summary", "product_id", "YES")...).
		AddRow(intColumn("product_tags", "product_id", "NO")...).
		AddRow(intColumn("product_tags", "tag_id", "NO")...).
		AddRow(intColumn("products", "id", "NO")...).
		AddRow(intColumn("shipments", "id", "NO")...).
		AddRow(intColumn("shipments", "order_id", "NO")...).
		AddRow(intColumn("shipments", "line_no", "YES")...).
		AddRow(intColumn("tags", "id", "NO")...)
	mock.ExpectQuery(`FROM information_schema.columns`).WithArgs("public").WillReturnRows(columns)

	mock.ExpectQuery(`FROM information_schema.table_constraints`).WithArgs("public").WillReturnRows(
		pgxmock.NewRows([]string{"table_name", "column_name"}).
			AddRow("customers", "id").
			AddRow("order_lines", "order_id").
			AddRow("order_lines", "line_no").
			AddRow("product_tags", "product_id").
			AddRow("product_tags", "tag_id").
			AddRow("products", "id").
			AddRow("shipments", "id").
			AddRow("tags", "id"))

	// fk_product exists on two tables
	mock.ExpectQuery(`FROM pg_constraint`).WithArgs("public").WillReturnRows(
		pgxmock.NewRows([]string{"table_name", "constraint_name", "column_name", "referenced_table", "referenced_column"}).
			AddRow("order_lines", "fk_product", "product_id", "products", "id").
			AddRow("product_tags", "fk_product", "product_id", "products", "id").
			AddRow("product_tags", "fk_tag", "tag_id", "tags", "id").
			AddRow("shipments", "fk_shipment_line", "order_id", "order_lines", "order_id").
			AddRow("shipments", "fk_shipment_line", "line_no", "order_lines", "line_no"))
}

func TestPostgresAnalyzerAnalyzeSchema(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectShopSchema(mock)
	mock.ExpectQuery(`FROM information_schema.routines`).WithArgs("public").WillReturnRows(
		pgxmock.NewRows([]string{"routine_name", "routine_type"}).AddRow("refresh_summary", "FUNCTION"))

	s, err := NewPostgresAnalyzer(mock, "", testLogger()).AnalyzeSchema(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, "postgres", s.Driver)
	assert.Equal(t, "public", s.Schema)
	assert.Equal(t, []string{"customers", "order_lines", "product_tags", "products", "shipments", "tags"}, s.Tables)
	assert.Equal(t, []string{"product_summary"}, s.Views)

	assert.Equal(t, []string{"order_id", "line_no"}, s.PrimaryKeys["order_lines"])
	require.NotNil(t, s.Column("order_lines", "line_no"))
	assert.Equal(t, "PRI", s.Column("order_lines", "line_no").ColumnKey)

	name := s.Column("customers", "name")
	require.NotNil(t, name)
	assert.Equal(t, "varchar(100)", name.ColumnType)
	require.NotNil(t, name.CharMaxLength)
	assert.EqualValues(t, 100, *name.CharMaxLength)

	require.Len(t, s.ForeignKeys["shipments"], 1)
	line := s.ForeignKeys["shipments"][0]
	assert.Equal(t, "order_lines", line.ReferencedTable)
	assert.Equal(t, []string{"order_id", "line_no"}, line.Columns)
	assert.Equal(t, []string{"order_id", "line_no"}, line.ReferencedColumns)
	assert.False(t, line.IsNullable, "order_id is not nullable")

	require.Len(t, s.ForeignKeys["order_lines"], 1)
	assert.Equal(t, []string{"product_id"}, s.ForeignKeys["order_lines"][0].Columns)
	require.Len(t, s.ForeignKeys["product_tags"], 2)
	assert.Equal(t, []string{"product_id"}, s.ForeignKeys["product_tags"][0].Columns)

	assert.True(t, s.ManyToManyTables["product_tags"])
	assert.False(t, s.ManyToManyTables["order_lines"])
	assert.False(t, s.ManyToManyTables["shipments"])

	require.Len(t, s.Routines, 1)
	assert.Equal(t, "refresh_summary", s.Routines[0].Name)
}

func TestPostgresAnalyzerRoutinesAreOptional(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectShopSchema(mock)
	mock.ExpectQuery(`FROM information_schema.routines`).WithArgs("public").WillReturnError(errors.New("permission denied"))

	s, err := NewPostgresAnalyzer(mock, "public", testLogger()).AnalyzeSchema(context.Background())
	require.NoError(t, err)
	assert.Empty(t, s.Routines)
	assert.Len(t, s.Tables, 6)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAnalyzerQueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`FROM information_schema.tables`).WithArgs("sales").WillReturnError(errors.New("connection reset"))

	_, err = NewPostgresAnalyzer(mock, "sales", testLogger()).AnalyzeSchema(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "getting tables")
	assert.NoError(t, mock.ExpectationsWereMet())
}
