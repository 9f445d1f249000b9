package utils

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/edmsync/internal/analyzer"
	"github.com/vitebski/edmsync/internal/identity"
	"github.com/vitebski/edmsync/internal/migrations"
	"github.com/vitebski/edmsync/internal/summary"
	"github.com/vitebski/edmsync/internal/updater"
	"github.com/vitebski/edmsync/pkg/models"
)

// SetupLogging configures the logging system
func SetupLogging(logLevel string) *logrus.Logger {
	logger := logrus.New()

	// Get log level from environment variable or parameter
	levelStr := logLevel
	if levelStr == "" {
		levelStr = os.Getenv("EDMSYNC_LOG_LEVEL")
		if levelStr == "" {
			levelStr = "info"
		}
	}

	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}

	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	// Reports go to stdout, so logs go to stderr
	logger.SetOutput(os.Stderr)

	logger.Debugf("Logging configured with level: %s", level)
	return logger
}

// LoadEnvironmentVariables loads environment variables from a .env file and
// reports whether every required connection variable is set
func LoadEnvironmentVariables(envFile string, logger *logrus.Logger) bool {
	// Check if a sample .env file exists but not the actual .env file
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		sampleEnvFile := envFile + ".sample"
		if _, err := os.Stat(sampleEnvFile); err == nil {
			logger.Infof("No %s file found, but %s exists. Consider copying %s to %s and updating it.",
				envFile, sampleEnvFile, sampleEnvFile, envFile)
		}
	}

	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			logger.Warningf("Error loading %s file: %v", envFile, err)
		} else {
			logger.Infof("Loaded environment variables from %s", envFile)
		}
	} else {
		logger.Debugf("No %s file found, using existing environment variables", envFile)
	}

	requiredVars := []string{"DB_HOST", "DB_USER", "DB_NAME"}
	var missingVars []string
	for _, v := range requiredVars {
		if os.Getenv(v) == "" {
			missingVars = append(missingVars, v)
		}
	}

	if len(missingVars) > 0 {
		logger.Debugf("Missing environment variables: %s", strings.Join(missingVars, ", "))
		return false
	}

	if logger.IsLevelEnabled(logrus.DebugLevel) {
		for _, env := range os.Environ() {
			if strings.HasPrefix(env, "DB_") || strings.HasPrefix(env, "EDMSYNC_") {
				parts := strings.SplitN(env, "=", 2)
				if len(parts) == 2 {
					// Mask password
					if parts[0] == "DB_PASSWORD" {
						logger.Debugf("%s=********", parts[0])
					} else {
						logger.Debugf("%s=%s", parts[0], parts[1])
					}
				}
			}
		}
	}

	return true
}

// ValidateConnectionParams validates database connection parameters
func ValidateConnectionParams(driver, host, user, database, port string, logger *logrus.Logger) bool {
	switch driver {
	case "mysql", "postgres":
	default:
		logger.Errorf("Unsupported database driver: %s", driver)
		return false
	}

	if host == "" {
		logger.Error("Database host is required")
		return false
	}

	if user == "" {
		logger.Error("Database user is required")
		return false
	}

	if database == "" {
		logger.Error("Database name is required")
		return false
	}

	if _, err := strconv.Atoi(port); err != nil {
		logger.Errorf("Invalid port number: %s", port)
		return false
	}

	return true
}

// PrintSchemaAnalysis prints a report of an introspected database schema
func PrintSchemaAnalysis(w io.Writer, schema *models.DatabaseSchema) {
	circular := analyzer.GetCircularTables(schema)
	inCycle := make(map[string]bool)
	for _, group := range circular {
		for _, table := range group {
			inCycle[table] = true
		}
	}

	fmt.Fprintln(w, "\n"+strings.Repeat("=", 80))
	fmt.Fprintln(w, "DATABASE SCHEMA ANALYSIS REPORT")
	fmt.Fprintln(w, strings.Repeat("=", 80))

	fmt.Fprintln(w, "\n1. BASIC STATISTICS")
	fmt.Fprintf(w, "   Driver: %s, schema: %s\n", schema.Driver, schema.Schema)
	fmt.Fprintf(w, "   Total tables: %d\n", len(schema.Tables))
	fmt.Fprintf(w, "   Total views: %d\n", len(schema.Views))
	fmt.Fprintf(w, "   Tables with foreign keys: %d\n", len(schema.ForeignKeys))
	fmt.Fprintf(w, "   Many-to-many relationship tables: %d\n", len(schema.ManyToManyTables))
	fmt.Fprintf(w, "   Routines: %d\n", len(schema.Routines))

	fmt.Fprintln(w, "\n2. TABLES")
	for i, table := range append(append([]string(nil), schema.Tables...), schema.Views...) {
		category := schema.Category(table).String()
		if inCycle[table] {
			category += ", circular"
		}
		fmt.Fprintf(w, "   %3d. %s (%s) key [%s]\n", i+1, table, category, strings.Join(schema.PrimaryKeys[table], ", "))
		for _, fk := range schema.ForeignKeys[table] {
			fmt.Fprintf(w, "        %s: (%s) -> %s(%s)\n", fk.ConstraintName,
				strings.Join(fk.Columns, ", "), fk.ReferencedTable, strings.Join(fk.ReferencedColumns, ", "))
		}
	}

	if len(circular) > 0 {
		fmt.Fprintln(w, "\n3. CIRCULAR DEPENDENCIES")
		for _, group := range circular {
			fmt.Fprintf(w, "   %s\n", strings.Join(group, " <-> "))
		}
	}

	fmt.Fprintln(w, "\n"+strings.Repeat("=", 80))
}

// PrintModelSummary prints the identities recorded for a model
func PrintModelSummary(w io.Writer, s *summary.ExistingModelSummary) {
	fmt.Fprintln(w, "\n"+strings.Repeat("=", 80))
	fmt.Fprintf(w, "MODEL SUMMARY %s\n", s.Artifact().URI)
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "Generation: %s  fingerprint: %016x\n", s.Generation(), s.Artifact().Fingerprint())

	fmt.Fprintln(w, "\nEntity types:")
	for _, name := range s.EntityTypeNames() {
		fmt.Fprintf(w, "  - %s -> %s\n", name, joinObjects(s.EntityTypeIdentity(name).TablesAndViews()))
	}

	fmt.Fprintln(w, "\nTables and views:")
	for _, obj := range s.AllTablesAndViews() {
		local, _ := s.LocalName(obj)
		line := fmt.Sprintf("  - %s (%s)", obj, local)
		if ancestors := s.AncestorTypeTablesAndViews(obj); len(ancestors) > 0 {
			line += " ancestors " + joinObjects(ancestors)
		}
		fmt.Fprintln(w, line)
	}

	assocs := s.AssociationSummary()
	fmt.Fprintf(w, "\nAssociations (%d):\n", assocs.Len())
	for _, name := range assocs.Names() {
		id, _ := assocs.Identity(name)
		fmt.Fprintf(w, "  - %s %s\n", name, id.TraceString())
	}

	if funcs := s.AllFunctions(); len(funcs) > 0 {
		fmt.Fprintln(w, "\nFunctions:")
		for _, obj := range funcs {
			name, _ := s.FunctionName(obj)
			fmt.Fprintf(w, "  - %s (%s)\n", obj, name)
		}
	}
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

// PrintUpdatePlan prints the changes found when comparing a model with the database
func PrintUpdatePlan(w io.Writer, plan *updater.UpdatePlan) {
	fmt.Fprintln(w, "\n"+strings.Repeat("=", 50))
	fmt.Fprintln(w, "UPDATE FROM DATABASE")
	fmt.Fprintln(w, strings.Repeat("=", 50))

	if plan.IsEmpty() {
		fmt.Fprintln(w, "The model is up to date with the database")
		fmt.Fprintln(w, strings.Repeat("=", 50))
		return
	}

	printObjects(w, "New tables and views", plan.NewTables)
	if len(plan.DroppedTables) > 0 {
		fmt.Fprintf(w, "Dropped tables and views: %d\n", len(plan.DroppedTables))
		for _, obj := range plan.DroppedTables {
			fmt.Fprintf(w, "  - %s", obj)
			if types := plan.AffectedEntityTypes[obj]; len(types) > 0 {
				fmt.Fprintf(w, " (mapped by %s)", strings.Join(types, ", "))
			}
			fmt.Fprintln(w)
		}
	}
	if len(plan.ColumnChanges) > 0 {
		fmt.Fprintf(w, "Column changes: %d\n", len(plan.ColumnChanges))
		for _, ch := range plan.ColumnChanges {
			fmt.Fprintf(w, "  - %s +[%s] -[%s]", ch.Object, strings.Join(ch.Added, ", "), strings.Join(ch.Removed, ", "))
			if ch.Owner != "" {
				fmt.Fprintf(w, " owner %s", ch.Owner)
				if ch.Inherited {
					fmt.Fprint(w, " (base type)")
				}
			}
			fmt.Fprintln(w)
		}
	}
	printNames(w, "New entity types", plan.NewEntityTypes)
	if len(plan.MatchedEntityTypes) > 0 {
		fmt.Fprintf(w, "Matched entity types: %d\n", len(plan.MatchedEntityTypes))
		for _, m := range plan.MatchedEntityTypes {
			fmt.Fprintf(w, "  - %s = %s\n", m.Existing, m.Updated)
		}
	}
	printNames(w, "Entity types left to the existing mapping", plan.UnmatchedEntityTypes)
	printNames(w, "New associations", plan.NewAssociations)
	printNames(w, "Kept associations", plan.KeptAssociations)
	printNames(w, "Stale associations", plan.StaleAssociations)
	printObjects(w, "New functions", plan.NewFunctions)
	printObjects(w, "Dropped functions", plan.DroppedFunctions)
	fmt.Fprintln(w, strings.Repeat("=", 50))
}

// PrintMigration prints migration operations in execution order
func PrintMigration(w io.Writer, ops []migrations.Operation) {
	fmt.Fprintln(w, "\n"+strings.Repeat("=", 50))
	fmt.Fprintln(w, "MIGRATION OPERATIONS")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	if len(ops) == 0 {
		fmt.Fprintln(w, "No changes")
	}
	for i, op := range ops {
		fmt.Fprintf(w, "%3d. %s\n", i+1, op)
	}
	fmt.Fprintln(w, strings.Repeat("=", 50))
}

func printNames(w io.Writer, title string, names []string) {
	if len(names) == 0 {
		return
	}
	fmt.Fprintf(w, "%s: %d\n", title, len(names))
	for _, name := range names {
		fmt.Fprintf(w, "  - %s\n", name)
	}
}

func printObjects(w io.Writer, title string, objs []identity.DatabaseObject) {
	if len(objs) == 0 {
		return
	}
	fmt.Fprintf(w, "%s: %d\n", title, len(objs))
	for _, obj := range objs {
		fmt.Fprintf(w, "  - %s\n", obj)
	}
}

func joinObjects(objs []identity.DatabaseObject) string {
	parts := make([]string, 0, len(objs))
	for _, obj := range objs {
		parts = append(parts, obj.String())
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
