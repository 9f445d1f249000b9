package analyzer

import (
	"context"
	"os"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitebski/edmsync/internal/connector"
	"github.com/vitebski/edmsync/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel) // Suppress log output during tests
	return logger
}

func TestNewSchemaAnalyzer(t *testing.T) {
	logger := testLogger()
	db := &connector.DatabaseConnector{
		Host:     "localhost",
		User:     "user",
		Password: "password",
		Database: "shop",
		Port:     "3306",
		Logger:   logger,
	}

	analyzer := NewSchemaAnalyzer(db, logger)

	require.NotNil(t, analyzer)
	assert.Same(t, db, analyzer.DB)
	assert.Same(t, logger, analyzer.Logger)
	require.NotNil(t, analyzer.Schema)
	assert.Equal(t, "mysql", analyzer.Schema.Driver)
	assert.Equal(t, "shop", analyzer.Schema.Schema)
	assert.NotNil(t, analyzer.Schema.TableColumns)
	assert.NotNil(t, analyzer.Schema.ForeignKeys)
	assert.NotNil(t, analyzer.Schema.ManyToManyTables)
}

func TestAnalyzeSchema(t *testing.T) {
	logger := testLogger()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	conn := &connector.DatabaseConnector{Database: "shop", DB: db, Logger: logger}

	mock.ExpectQuery(`FROM information_schema.tables`).
		WithArgs("shop").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "table_type"}).
			AddRow("customers", "BASE TABLE").
			AddRow("order_products", "BASE TABLE").
			AddRow("order_totals", "VIEW").
			AddRow("orders", "BASE TABLE").
			AddRow("products", "BASE TABLE"))

	columns := []string{
		"table_name", "column_name", "data_type", "column_type", "character_maximum_length",
		"numeric_precision", "numeric_scale", "is_nullable", "column_key", "extra", "column_comment",
	}
	mock.ExpectQuery(`FROM information_schema.columns`).
		WithArgs("shop").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("customers", "id", "int", "int", nil, 10, 0, "NO", "PRI", "auto_increment", "").
			AddRow("customers", "name", "varchar", "varchar(100)", 100, nil, nil, "NO", "", "", "").
			AddRow("order_products", "order_id", "int", "int", nil, 10, 0, "NO", "PRI", "", "").
			AddRow("order_products", "product_id", "int", "int", nil, 10, 0, "NO", "PRI", "", "").
			AddRow("order_totals", "order_id", "int", "int", nil, 10, 0, "NO", "", "", "").
			AddRow("orders", "id", "int", "int", nil, 10, 0, "NO", "PRI", "auto_increment", "").
			AddRow("orders", "customer_id", "int", "int", nil, 10, 0, "NO", "MUL", "", "").
			AddRow("products", "id", "int", "int", nil, 10, 0, "NO", "PRI", "auto_increment", ""))

	mock.ExpectQuery(`FROM information_schema.key_column_usage`).
		WithArgs("shop").
		WillReturnRows(sqlmock.NewRows([]string{
			"table_name", "column_name", "referenced_table_name", "referenced_column_name", "constraint_name",
		}).
			AddRow("order_products", "order_id", "orders", "id", "fk_op_order").
			AddRow("order_products", "product_id", "products", "id", "fk_op_product").
			AddRow("orders", "customer_id", "customers", "id", "fk_orders_customer"))

	mock.ExpectQuery(`FROM information_schema.routines`).
		WithArgs("shop").
		WillReturnRows(sqlmock.NewRows([]string{"routine_name", "routine_type"}).
			AddRow("customer_orders", "PROCEDURE"))

	analyzer := NewSchemaAnalyzer(conn, logger)
	schema, err := analyzer.AnalyzeSchema(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, []string{"customers", "order_products", "orders", "products"}, schema.Tables)
	assert.Equal(t, []string{"order_totals"}, schema.Views)
	assert.Equal(t, []string{"id"}, schema.PrimaryKeys["customers"])
	assert.Equal(t, []string{"order_id", "product_id"}, schema.PrimaryKeys["order_products"])

	name := schema.Column("customers", "name")
	require.NotNil(t, name)
	require.NotNil(t, name.CharMaxLength)
	assert.EqualValues(t, 100, *name.CharMaxLength)
	assert.False(t, name.IsNullable)

	require.Len(t, schema.ForeignKeys["orders"], 1)
	fk := schema.ForeignKeys["orders"][0]
	assert.Equal(t, []string{"customer_id"}, fk.Columns)
	assert.Equal(t, "customers", fk.ReferencedTable)
	assert.Equal(t, []string{"id"}, fk.ReferencedColumns)
	assert.False(t, fk.IsNullable)

	assert.True(t, schema.ManyToManyTables["order_products"])
	assert.Equal(t, models.ManyToMany, schema.Category("order_products"))
	assert.Equal(t, models.Dependent, schema.Category("orders"))
	assert.Equal(t, models.Standalone, schema.Category("customers"))
	assert.Equal(t, models.View, schema.Category("order_totals"))
	assert.Equal(t, []models.Routine{{Name: "customer_orders", Type: "PROCEDURE"}}, schema.Routines)
}

func TestAnalyzeSchemaToleratesRoutineFailure(t *testing.T) {
	logger := testLogger()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	conn := &connector.DatabaseConnector{Database: "shop", DB: db, Logger: logger}
	mock.ExpectQuery(`FROM information_schema.tables`).WillReturnRows(
		sqlmock.NewRows([]string{"table_name", "table_type"}).AddRow("customers", "BASE TABLE"))
	mock.ExpectQuery(`FROM information_schema.columns`).WillReturnRows(
		sqlmock.NewRows([]string{
			"table_name", "column_name", "data_type", "column_type", "character_maximum_length",
			"numeric_precision", "numeric_scale", "is_nullable", "column_key", "extra", "column_comment",
		}).AddRow("customers", "id", "int", "int", nil, 10, 0, "NO", "PRI", "", ""))
	mock.ExpectQuery(`FROM information_schema.key_column_usage`).WillReturnRows(
		sqlmock.NewRows([]string{"table_name", "column_name", "referenced_table_name", "referenced_column_name", "constraint_name"}))
	mock.ExpectQuery(`FROM information_schema.routines`).WillReturnError(assert.AnError)

	schema, err := NewSchemaAnalyzer(conn, logger).AnalyzeSchema(context.Background())
	require.NoError(t, err)
	assert.Empty(t, schema.Routines)
	assert.Equal(t, []string{"customers"}, schema.Tables)
}

func TestAnalyzeSchemaFailsOnTableQuery(t *testing.T) {
	logger := testLogger()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	conn := &connector.DatabaseConnector{Database: "shop", DB: db, Logger: logger}
	mock.ExpectQuery(`FROM information_schema.tables`).WillReturnError(assert.AnError)

	_, err = NewSchemaAnalyzer(conn, logger).AnalyzeSchema(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestDetectManyToManyTables(t *testing.T) {
	s := models.NewDatabaseSchema("mysql", "shop")
	s.Tables = []string{"users", "posts", "user_posts", "user_likes"}
	s.ForeignKeys = map[string][]models.ForeignKey{
		"user_posts": {
			{Table: "user_posts", Columns: []string{"user_id"}, ReferencedTable: "users", ReferencedColumns: []string{"id"}},
			{Table: "user_posts", Columns: []string{"post_id"}, ReferencedTable: "posts", ReferencedColumns: []string{"id"}},
		},
		"user_likes": {
			{Table: "user_likes", Columns: []string{"user_id"}, ReferencedTable: "users", ReferencedColumns: []string{"id"}},
			{Table: "user_likes", Columns: []string{"post_id"}, ReferencedTable: "posts", ReferencedColumns: []string{"id"}},
		},
	}
	s.TableColumns = map[string][]models.Column{
		"user_posts": {{Name: "user_id", ColumnKey: "PRI"}, {Name: "post_id", ColumnKey: "PRI"}},
		"user_likes": {{Name: "id", ColumnKey: "PRI"}, {Name: "user_id"}, {Name: "post_id"}},
	}
	s.PrimaryKeys = map[string][]string{
		"user_posts": {"user_id", "post_id"},
		"user_likes": {"id"},
	}

	detectManyToManyTables(s)

	assert.True(t, s.ManyToManyTables["user_posts"])
	assert.False(t, s.ManyToManyTables["user_likes"], "a surrogate key carries payload and is not a pure join table")
}

func TestGetCircularTables(t *testing.T) {
	s := models.NewDatabaseSchema("mysql", "shop")
	s.Tables = []string{"departments", "employees", "categories", "products"}
	s.ForeignKeys = map[string][]models.ForeignKey{
		"departments": {{Table: "departments", Columns: []string{"manager_id"}, ReferencedTable: "employees", IsNullable: true}},
		"employees":   {{Table: "employees", Columns: []string{"department_id"}, ReferencedTable: "departments"}},
		"categories":  {{Table: "categories", Columns: []string{"parent_id"}, ReferencedTable: "categories", IsNullable: true}},
		"products":    {{Table: "products", Columns: []string{"category_id"}, ReferencedTable: "categories"}},
	}

	groups := GetCircularTables(s)

	assert.Equal(t, [][]string{{"categories"}, {"departments", "employees"}}, groups)
}

func TestDependencyGraph(t *testing.T) {
	s := models.NewDatabaseSchema("mysql", "shop")
	s.Tables = []string{"customers", "orders"}
	s.ForeignKeys["orders"] = []models.ForeignKey{
		{Table: "orders", Columns: []string{"customer_id"}, ReferencedTable: "customers"},
		{Table: "orders", Columns: []string{"warehouse_id"}, ReferencedTable: "warehouses"},
	}

	g, index := DependencyGraph(s)

	assert.Equal(t, 2, g.Order())
	assert.True(t, g.Edge(index["orders"], index["customers"]))
	assert.False(t, g.Edge(index["customers"], index["orders"]))
	assert.EqualValues(t, 1, g.Cost(index["orders"], index["customers"]))
}

func TestPostgresAnalyzerLive(t *testing.T) {
	if os.Getenv("EDMSYNC_PG_TEST") == "" {
		t.Skip("set EDMSYNC_PG_TEST and DB_* variables to run against a live PostgreSQL database")
	}
	logger := testLogger()
	pc := connector.NewPostgresConnector("", "", "", "", "", "", logger)
	ctx := context.Background()
	require.NoError(t, pc.Connect(ctx))
	defer pc.Disconnect()

	schema, err := NewPostgresAnalyzer(pc.Pool, pc.Schema, logger).AnalyzeSchema(ctx)
	require.NoError(t, err)
	assert.Equal(t, "postgres", schema.Driver)
	for table, fks := range schema.ForeignKeys {
		for _, fk := range fks {
			assert.Len(t, fk.ReferencedColumns, len(fk.Columns), "foreign key %s on %s", fk.ConstraintName, table)
		}
	}
}
