package connector

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
)

func TestNewDatabaseConnector(t *testing.T) {
	// Set environment variables for testing
	t.Setenv("DB_HOST", "test-host")
	t.Setenv("DB_USER", "test-user")
	t.Setenv("DB_PASSWORD", "test-password")
	t.Setenv("DB_NAME", "test-database")
	t.Setenv("DB_PORT", "3307")

	logger := createTestLogger()

	db := NewDatabaseConnector("", "", "", "", "", logger)

	// Check that environment variables were used
	if db.Host != "test-host" {
		t.Errorf("Expected host to be 'test-host', got '%s'", db.Host)
	}
	if db.User != "test-user" {
		t.Errorf("Expected user to be 'test-user', got '%s'", db.User)
	}
	if db.Password != "test-password" {
		t.Errorf("Expected password to be 'test-password', got '%s'", db.Password)
	}
	if db.Database != "test-database" {
		t.Errorf("Expected database to be 'test-database', got '%s'", db.Database)
	}
	if db.Port != "3307" {
		t.Errorf("Expected port to be '3307', got '%s'", db.Port)
	}

	// Test with explicit parameters
	db = NewDatabaseConnector("explicit-host", "explicit-user", "explicit-password", "explicit-database", "3308", logger)

	if db.Host != "explicit-host" {
		t.Errorf("Expected host to be 'explicit-host', got '%s'", db.Host)
	}
	if db.User != "explicit-user" {
		t.Errorf("Expected user to be 'explicit-user', got '%s'", db.User)
	}
	if db.Database != "explicit-database" {
		t.Errorf("Expected database to be 'explicit-database', got '%s'", db.Database)
	}
	if db.Port != "3308" {
		t.Errorf("Expected port to be '3308', got '%s'", db.Port)
	}
}

func TestNewPostgresConnectorDefaults(t *testing.T) {
	t.Setenv("DB_NAME", "inventory")

	pc := NewPostgresConnector("", "", "", "", "", "", createTestLogger())

	if pc.Port != "5432" {
		t.Errorf("Expected port to be '5432', got '%s'", pc.Port)
	}
	if pc.Schema != "public" {
		t.Errorf("Expected schema to be 'public', got '%s'", pc.Schema)
	}
	if pc.Database != "inventory" {
		t.Errorf("Expected database to be 'inventory', got '%s'", pc.Database)
	}
}

func TestConnectRequiresDatabase(t *testing.T) {
	t.Setenv("DB_NAME", "")

	db := NewDatabaseConnector("localhost", "root", "", "", "3306", createTestLogger())
	if err := db.Connect(context.Background()); err == nil {
		t.Error("Expected an error when no database name is configured")
	}

	pc := NewPostgresConnector("localhost", "postgres", "", "", "5432", "public", createTestLogger())
	if err := pc.Connect(context.Background()); err == nil {
		t.Error("Expected an error when no database name is configured")
	}
}

func TestExecuteQuery(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}

	db := &DatabaseConnector{Database: "shop", DB: sqlDB, Logger: createTestLogger()}
	mock.ExpectQuery("SELECT table_name").
		WithArgs("shop").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "row_count"}).
			AddRow([]byte("customers"), int64(3)).
			AddRow([]byte("orders"), nil))
	mock.ExpectClose()

	rows, err := db.ExecuteQuery(context.Background(), "SELECT table_name, row_count FROM t WHERE s = ?", "shop")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	if name, ok := rows[0]["table_name"].(string); !ok || name != "customers" {
		t.Errorf("Expected byte values to be converted to string 'customers', got %#v", rows[0]["table_name"])
	}
	if rows[1]["row_count"] != nil {
		t.Errorf("Expected NULL to stay nil, got %#v", rows[1]["row_count"])
	}

	db.Disconnect()
	if db.DB != nil {
		t.Error("Expected DB to be cleared after Disconnect")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestRowAccessors(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	defer sqlDB.Close()

	db := &DatabaseConnector{Database: "shop", DB: sqlDB, Logger: createTestLogger()}
	mock.ExpectQuery("SELECT TABLE_NAME").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "CHARACTER_MAXIMUM_LENGTH", "NUMERIC_SCALE"}).
			AddRow([]byte("customers"), []byte("255"), nil))

	rows, err := db.ExecuteQuery(context.Background(), "SELECT TABLE_NAME FROM information_schema.columns")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(rows))
	}
	row := rows[0]
	if got := row.String("table_name"); got != "customers" {
		t.Errorf("Expected upper-case columns to be readable in lower case, got %q", got)
	}
	if got := row.Int64("CHARACTER_MAXIMUM_LENGTH"); got == nil || *got != 255 {
		t.Errorf("Expected length 255, got %v", got)
	}
	if got := row.Int64("numeric_scale"); got != nil {
		t.Errorf("Expected NULL scale to be nil, got %v", *got)
	}
	if got := row.String("missing"); got != "" {
		t.Errorf("Expected missing column to read as empty, got %q", got)
	}
	if got := (Row{"flag": true}).Int64("flag"); got != nil {
		t.Errorf("Expected non-numeric value to be nil, got %v", *got)
	}
}

// Helper function to create a test logger
func createTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel) // Suppress log output during tests
	return logger
}
