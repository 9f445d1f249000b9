package connector

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// PostgresConnector handles the PostgreSQL connection
type PostgresConnector struct {
	Host     string
	User     string
	Password string
	Database string
	Port     string
	Schema   string
	Pool     *pgxpool.Pool
	Logger   *logrus.Logger
}

// NewPostgresConnector creates a new PostgreSQL connector, filling empty parameters from the environment
func NewPostgresConnector(host, user, password, database, port, schema string, logger *logrus.Logger) *PostgresConnector {
	if host == "" {
		host = getEnvOrDefault("DB_HOST", "localhost")
	}
	if user == "" {
		user = getEnvOrDefault("DB_USER", "postgres")
	}
	if password == "" {
		password = getEnvOrDefault("DB_PASSWORD", "")
	}
	if database == "" {
		database = getEnvOrDefault("DB_NAME", "")
	}
	if port == "" {
		port = getEnvOrDefault("DB_PORT", "5432")
	}
	if schema == "" {
		schema = getEnvOrDefault("DB_SCHEMA", "public")
	}

	return &PostgresConnector{
		Host:     host,
		User:     user,
		Password: password,
		Database: database,
		Port:     port,
		Schema:   schema,
		Logger:   logger,
	}
}

// Connect opens a single-connection pool; introspection never needs more
func (pc *PostgresConnector) Connect(ctx context.Context) error {
	if pc.Database == "" {
		return fmt.Errorf("database name must be provided either as an argument or as DB_NAME environment variable")
	}

	connStr := fmt.Sprintf(
		"host=%s port=%s dbname=%s user=%s password=%s sslmode=disable default_query_exec_mode=simple_protocol",
		pc.Host, pc.Port, pc.Database, pc.User, pc.Password,
	)
	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return fmt.Errorf("parsing connection string: %w", err)
	}
	poolCfg.MaxConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		pc.Logger.Errorf("Error connecting to PostgreSQL database: %v", err)
		return fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		pc.Logger.Errorf("Error pinging PostgreSQL database: %v", err)
		return fmt.Errorf("pinging PostgreSQL: %w", err)
	}

	pc.Pool = pool
	pc.Logger.Infof("Connected to PostgreSQL database: %s (schema %s)", pc.Database, pc.Schema)
	return nil
}

// Disconnect closes the pool
func (pc *PostgresConnector) Disconnect() {
	if pc.Pool != nil {
		pc.Pool.Close()
		pc.Pool = nil
		pc.Logger.Info("PostgreSQL connection closed")
	}
}
