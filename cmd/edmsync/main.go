package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vitebski/edmsync/internal/analyzer"
	"github.com/vitebski/edmsync/internal/artifact"
	"github.com/vitebski/edmsync/internal/connector"
	"github.com/vitebski/edmsync/internal/generator"
	"github.com/vitebski/edmsync/internal/migrations"
	"github.com/vitebski/edmsync/internal/summary"
	"github.com/vitebski/edmsync/internal/updater"
	"github.com/vitebski/edmsync/internal/utils"
	"github.com/vitebski/edmsync/pkg/models"
)

// connectionFlags are shared by every command that reads a live database
type connectionFlags struct {
	driver    string
	host      string
	user      string
	password  string
	database  string
	port      string
	schema    string
	namespace string
}

func (c *connectionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&c.driver, "driver", "D", "", "Database driver: mysql or postgres (default: mysql)")
	cmd.Flags().StringVarP(&c.host, "host", "H", "", "Database host (default: localhost)")
	cmd.Flags().StringVarP(&c.user, "user", "u", "", "Database user")
	cmd.Flags().StringVarP(&c.password, "password", "p", "", "Database password")
	cmd.Flags().StringVarP(&c.database, "database", "d", "", "Database name")
	cmd.Flags().StringVarP(&c.port, "port", "P", "", "Database port (default: 3306 for mysql, 5432 for postgres)")
	cmd.Flags().StringVarP(&c.schema, "schema", "s", "", "Schema to introspect (postgres only, default: public)")
	cmd.Flags().StringVarP(&c.namespace, "namespace", "n", "", "Conceptual model namespace")
}

// fillFromEnv fills empty parameters from the environment
func (c *connectionFlags) fillFromEnv() {
	if c.driver == "" {
		c.driver = os.Getenv("DB_DRIVER")
		if c.driver == "" {
			c.driver = "mysql"
		}
	}
	if c.host == "" {
		c.host = os.Getenv("DB_HOST")
		if c.host == "" {
			c.host = "localhost"
		}
	}
	if c.user == "" {
		c.user = os.Getenv("DB_USER")
	}
	if c.password == "" {
		c.password = os.Getenv("DB_PASSWORD")
	}
	if c.database == "" {
		c.database = os.Getenv("DB_NAME")
	}
	if c.port == "" {
		c.port = os.Getenv("DB_PORT")
		if c.port == "" {
			if c.driver == "postgres" {
				c.port = "5432"
			} else {
				c.port = "3306"
			}
		}
	}
}

// introspect connects to the database and reads its schema
func (c *connectionFlags) introspect(ctx context.Context, logger *logrus.Logger) (*models.DatabaseSchema, error) {
	c.fillFromEnv()
	if !utils.ValidateConnectionParams(c.driver, c.host, c.user, c.database, c.port, logger) {
		return nil, fmt.Errorf("invalid connection parameters")
	}

	if c.driver == "postgres" {
		db := connector.NewPostgresConnector(c.host, c.user, c.password, c.database, c.port, c.schema, logger)
		if err := db.Connect(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Disconnect()
		return analyzer.NewPostgresAnalyzer(db.Pool, db.Schema, logger).AnalyzeSchema(ctx)
	}

	db := connector.NewDatabaseConnector(c.host, c.user, c.password, c.database, c.port, logger)
	if err := db.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Disconnect()
	return analyzer.NewSchemaAnalyzer(db, logger).AnalyzeSchema(ctx)
}

// location turns a plain file path into a URL afs understands
func location(path string) string {
	if path == "" || strings.Contains(path, "://") {
		return path
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return "file://" + abs
}

func main() {
	var (
		envFile  string
		logLevel string
		logger   *logrus.Logger
	)

	rootCmd := &cobra.Command{
		Use:   "edmsync",
		Short: "Keep entity data models in sync with their database",
		Long: `EDM Sync

A Go tool that introspects MySQL and PostgreSQL databases into entity data
models, updates existing models from the database without losing their
customizations, and computes migration operations between two models.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = utils.SetupLogging(logLevel)
			utils.LoadEnvironmentVariables(envFile, logger)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&envFile, "env-file", "e", ".env", "Path to .env file")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")

	var (
		introspectConn   connectionFlags
		introspectOutput string
		analyzeOnly      bool
	)
	introspectCmd := &cobra.Command{
		Use:   "introspect",
		Short: "Generate a model from a live database",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			schema, err := introspectConn.introspect(ctx, logger)
			if err != nil {
				return err
			}
			utils.PrintSchemaAnalysis(os.Stdout, schema)
			if analyzeOnly {
				logger.Info("Analyze-only mode, exiting without generating a model")
				return nil
			}

			model, err := generator.NewModelGenerator(introspectConn.namespace, logger).Generate(schema)
			if err != nil {
				return err
			}
			a, err := artifact.New(location(introspectOutput), model, logger)
			if err != nil {
				return err
			}
			if introspectOutput == "" {
				existing, err := summary.NewExistingModelSummary(a, logger)
				if err != nil {
					return err
				}
				utils.PrintModelSummary(os.Stdout, existing)
				return nil
			}
			return a.Save(ctx, location(introspectOutput))
		},
	}
	introspectConn.register(introspectCmd)
	introspectCmd.Flags().StringVarP(&introspectOutput, "output", "o", "", "Where to write the generated model")
	introspectCmd.Flags().BoolVarP(&analyzeOnly, "analyze-only", "a", false, "Only analyze the database schema without generating a model")

	var summarizeModel string
	summarizeCmd := &cobra.Command{
		Use:   "summarize",
		Short: "Print the database identities recorded in a model",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := artifact.Load(cmd.Context(), location(summarizeModel), logger)
			if err != nil {
				return err
			}
			existing, err := summary.NewExistingModelSummary(a, logger)
			if err != nil {
				return err
			}
			logger.WithFields(existing.LogFields()).Debug("Model summary")
			logger.Trace(existing.TraceString())
			utils.PrintModelSummary(os.Stdout, existing)
			return nil
		},
	}
	summarizeCmd.Flags().StringVarP(&summarizeModel, "model", "m", "", "Model file to summarize")
	summarizeCmd.MarkFlagRequired("model")

	var (
		updateConn   connectionFlags
		updateModel  string
		updateOutput string
	)
	updateCmd := &cobra.Command{
		Use:   "update",
		Short: "Update a model from the database it maps to",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			live, err := artifact.Load(ctx, location(updateModel), logger)
			if err != nil {
				return err
			}
			if updateConn.namespace == "" {
				updateConn.namespace = live.Model.Conceptual.Namespace
			}

			schema, err := updateConn.introspect(ctx, logger)
			if err != nil {
				return err
			}
			model, err := generator.NewModelGenerator(updateConn.namespace, logger).Generate(schema)
			if err != nil {
				return err
			}
			generated, err := artifact.New("", model, logger)
			if err != nil {
				return err
			}

			existing, err := summary.NewExistingModelSummary(live, logger)
			if err != nil {
				return err
			}
			updated, err := summary.NewUpdatedModelSummary(generated, logger)
			if err != nil {
				return err
			}

			u := updater.NewUpdater(logger)
			plan, err := u.Reconcile(existing, updated, live)
			if err != nil {
				return err
			}
			utils.PrintUpdatePlan(os.Stdout, plan)
			if updateOutput == "" {
				return nil
			}

			merged, err := u.Apply(plan, live, generated)
			if err != nil {
				return err
			}
			out, err := artifact.New(location(updateOutput), merged, logger)
			if err != nil {
				return err
			}
			return out.Save(ctx, location(updateOutput))
		},
	}
	updateConn.register(updateCmd)
	updateCmd.Flags().StringVarP(&updateModel, "model", "m", "", "Existing model to update")
	updateCmd.Flags().StringVarP(&updateOutput, "output", "o", "", "Where to write the updated model")
	updateCmd.MarkFlagRequired("model")

	var diffSource, diffTarget string
	diffCmd := &cobra.Command{
		Use:   "diff",
		Short: "Compute the migration operations between two models",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			source, err := artifact.Load(ctx, location(diffSource), logger)
			if err != nil {
				return err
			}
			target, err := artifact.Load(ctx, location(diffTarget), logger)
			if err != nil {
				return err
			}
			ops, err := migrations.NewDiffer(logger).Diff(source.Model, target.Model)
			if err != nil {
				return err
			}
			utils.PrintMigration(os.Stdout, ops)
			return nil
		},
	}
	diffCmd.Flags().StringVar(&diffSource, "source", "", "Model the database currently matches")
	diffCmd.Flags().StringVar(&diffTarget, "target", "", "Model to migrate to")
	diffCmd.MarkFlagRequired("source")
	diffCmd.MarkFlagRequired("target")

	rootCmd.AddCommand(introspectCmd, summarizeCmd, updateCmd, diffCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Execute
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		stop()
		os.Exit(1)
	}
}
