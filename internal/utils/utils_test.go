package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitebski/edmsync/internal/identity"
	"github.com/vitebski/edmsync/internal/migrations"
	"github.com/vitebski/edmsync/internal/updater"
	"github.com/vitebski/edmsync/pkg/models"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel) // Suppress log output during tests
	return logger
}

func TestSetupLogging(t *testing.T) {
	t.Setenv("EDMSYNC_LOG_LEVEL", "")

	// Test with default log level
	logger := SetupLogging("")
	if logger == nil {
		t.Fatal("Expected logger to be created, got nil")
	}
	if logger.Level != logrus.InfoLevel {
		t.Errorf("Expected default log level to be info, got %s", logger.Level)
	}

	logger = SetupLogging("debug")
	if logger.Level != logrus.DebugLevel {
		t.Errorf("Expected log level to be debug, got %s", logger.Level)
	}

	logger = SetupLogging("warn")
	if logger.Level != logrus.WarnLevel {
		t.Errorf("Expected log level to be warn, got %s", logger.Level)
	}

	// Test with invalid log level (should default to info)
	logger = SetupLogging("invalid")
	if logger.Level != logrus.InfoLevel {
		t.Errorf("Expected log level to be info for invalid input, got %s", logger.Level)
	}

	// The environment is used when no level is given
	t.Setenv("EDMSYNC_LOG_LEVEL", "error")
	logger = SetupLogging("")
	if logger.Level != logrus.ErrorLevel {
		t.Errorf("Expected log level from environment to be error, got %s", logger.Level)
	}
}

func TestLoadEnvironmentVariables(t *testing.T) {
	for _, v := range []string{"DB_HOST", "DB_USER", "DB_NAME", "DB_PASSWORD"} {
		t.Setenv(v, "")
		os.Unsetenv(v)
	}

	envFile := filepath.Join(t.TempDir(), ".env")
	if LoadEnvironmentVariables(envFile, quietLogger()) {
		t.Error("Expected missing variables to be reported")
	}

	content := "DB_HOST=db.internal\nDB_USER=reader\nDB_NAME=shop\nDB_PASSWORD=secret\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o600))
	if !LoadEnvironmentVariables(envFile, quietLogger()) {
		t.Error("Expected variables from the .env file to satisfy the requirements")
	}
	if os.Getenv("DB_HOST") != "db.internal" {
		t.Errorf("Expected DB_HOST to be loaded, got %q", os.Getenv("DB_HOST"))
	}
}

func TestValidateConnectionParams(t *testing.T) {
	logger := quietLogger()

	if !ValidateConnectionParams("mysql", "localhost", "user", "database", "3306", logger) {
		t.Error("Expected validation to pass with valid parameters")
	}
	if !ValidateConnectionParams("postgres", "localhost", "user", "database", "5432", logger) {
		t.Error("Expected validation to pass for postgres")
	}
	if ValidateConnectionParams("oracle", "localhost", "user", "database", "1521", logger) {
		t.Error("Expected validation to fail with an unsupported driver")
	}
	if ValidateConnectionParams("mysql", "", "user", "database", "3306", logger) {
		t.Error("Expected validation to fail with missing host")
	}
	if ValidateConnectionParams("mysql", "localhost", "", "database", "3306", logger) {
		t.Error("Expected validation to fail with missing user")
	}
	if ValidateConnectionParams("mysql", "localhost", "user", "", "3306", logger) {
		t.Error("Expected validation to fail with missing database")
	}
	if ValidateConnectionParams("mysql", "localhost", "user", "database", "not-a-port", logger) {
		t.Error("Expected validation to fail with invalid port")
	}
}

func TestPrintSchemaAnalysis(t *testing.T) {
	s := models.NewDatabaseSchema("mysql", "shop")
	s.Tables = []string{"categories", "products"}
	s.Views = []string{"product_counts"}
	s.PrimaryKeys = map[string][]string{"categories": {"id"}, "products": {"id"}}
	s.ForeignKeys = map[string][]models.ForeignKey{
		"categories": {{Table: "categories", Columns: []string{"parent_id"}, ReferencedTable: "categories", ReferencedColumns: []string{"id"}, ConstraintName: "fk_parent"}},
		"products":   {{Table: "products", Columns: []string{"category_id"}, ReferencedTable: "categories", ReferencedColumns: []string{"id"}, ConstraintName: "fk_category"}},
	}

	var buf bytes.Buffer
	PrintSchemaAnalysis(&buf, s)
	out := buf.String()

	assert.Contains(t, out, "Total tables: 2")
	assert.Contains(t, out, "categories (Dependent, circular) key [id]")
	assert.Contains(t, out, "fk_category: (category_id) -> categories(id)")
	assert.Contains(t, out, "product_counts (View)")
	assert.Contains(t, out, "CIRCULAR DEPENDENCIES")
}

func TestPrintUpdatePlan(t *testing.T) {
	var buf bytes.Buffer
	PrintUpdatePlan(&buf, &updater.UpdatePlan{})
	assert.Contains(t, buf.String(), "up to date")

	buf.Reset()
	notes := identity.NewDatabaseObject("shop", "notes")
	PrintUpdatePlan(&buf, &updater.UpdatePlan{
		DroppedTables:       []identity.DatabaseObject{notes},
		AffectedEntityTypes: map[identity.DatabaseObject][]string{notes: {"Shop.Note"}},
		ColumnChanges: []updater.ColumnChange{{
			Object: identity.NewDatabaseObject("shop", "vehicles"), Added: []string{"color"}, Owner: "Fleet.Vehicle", Inherited: true,
		}},
		StaleAssociations: []string{"Shop.FkNotesCustomer"},
	})
	out := buf.String()
	assert.Contains(t, out, "shop.notes (mapped by Shop.Note)")
	assert.Contains(t, out, "shop.vehicles +[color] -[] owner Fleet.Vehicle (base type)")
	assert.Contains(t, out, "Stale associations: 1")
}

func TestPrintMigration(t *testing.T) {
	var buf bytes.Buffer
	PrintMigration(&buf, nil)
	assert.Contains(t, buf.String(), "No changes")

	buf.Reset()
	PrintMigration(&buf, []migrations.Operation{
		migrations.DropTable{Object: identity.NewDatabaseObject("dbo", "Audit")},
	})
	assert.Contains(t, buf.String(), "  1. DropTable dbo.Audit")
}
