package connector

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
)

// DatabaseConnector handles the MySQL connection and query execution
type DatabaseConnector struct {
	Host     string
	User     string
	Password string
	Database string
	Port     string
	DB       *sql.DB
	Logger   *logrus.Logger
}

// NewDatabaseConnector creates a new MySQL connector, filling empty parameters from the environment
func NewDatabaseConnector(host, user, password, database, port string, logger *logrus.Logger) *DatabaseConnector {
	if host == "" {
		host = getEnvOrDefault("DB_HOST", "localhost")
	}
	if user == "" {
		user = getEnvOrDefault("DB_USER", "root")
	}
	if password == "" {
		password = getEnvOrDefault("DB_PASSWORD", "")
	}
	if database == "" {
		database = getEnvOrDefault("DB_NAME", "")
	}
	if port == "" {
		port = getEnvOrDefault("DB_PORT", "3306")
	}

	return &DatabaseConnector{
		Host:     host,
		User:     user,
		Password: password,
		Database: database,
		Port:     port,
		Logger:   logger,
	}
}

// Connect establishes a connection to the MySQL database
func (dc *DatabaseConnector) Connect(ctx context.Context) error {
	if dc.Database == "" {
		return fmt.Errorf("database name must be provided either as an argument or as DB_NAME environment variable")
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true", dc.User, dc.Password, dc.Host, dc.Port, dc.Database)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		dc.Logger.Errorf("Error connecting to MySQL database: %v", err)
		return err
	}

	// Test the connection
	err = db.PingContext(ctx)
	if err != nil {
		dc.Logger.Errorf("Error pinging MySQL database: %v", err)
		db.Close()
		return err
	}

	dc.DB = db
	dc.Logger.Infof("Connected to MySQL database: %s", dc.Database)
	return nil
}

// Disconnect closes the database connection
func (dc *DatabaseConnector) Disconnect() {
	if dc.DB != nil {
		err := dc.DB.Close()
		if err != nil {
			dc.Logger.Errorf("Error closing database connection: %v", err)
		} else {
			dc.Logger.Info("MySQL connection closed")
		}
		dc.DB = nil
	}
}

// Row is one result row keyed by lower-cased column name. MySQL 8 reports
// information_schema columns in upper case unless they are aliased.
type Row map[string]any

// String returns the column as text. go-sql-driver returns text columns of
// information_schema as []byte; NULL becomes the empty string.
func (r Row) String(column string) string {
	switch val := r[strings.ToLower(column)].(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Int64 returns the column as an integer, or nil for NULL and non-numeric values
func (r Row) Int64(column string) *int64 {
	v, ok := r[strings.ToLower(column)]
	if !ok || v == nil {
		return nil
	}
	n, err := strconv.ParseInt(r.String(column), 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

// ExecuteQuery runs a read-only query and returns its rows
func (dc *DatabaseConnector) ExecuteQuery(ctx context.Context, query string, params ...any) ([]Row, error) {
	if dc.DB == nil {
		if err := dc.Connect(ctx); err != nil {
			return nil, err
		}
	}

	rows, err := dc.DB.QueryContext(ctx, query, params...)
	if err != nil {
		dc.Logger.Errorf("Error executing query: %v", err)
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		dc.Logger.Errorf("Error getting columns: %v", err)
		return nil, err
	}
	keys := make([]string, len(columns))
	for i, col := range columns {
		keys[i] = strings.ToLower(col)
	}

	var results []Row
	values := make([]any, len(columns))
	targets := make([]any, len(columns))
	for rows.Next() {
		for i := range values {
			values[i] = nil
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			dc.Logger.Errorf("Error scanning row: %v", err)
			return nil, err
		}

		row := make(Row, len(columns))
		for i, key := range keys {
			// Text columns arrive as []byte
			if b, ok := values[i].([]byte); ok {
				row[key] = string(b)
			} else {
				row[key] = values[i]
			}
		}
		results = append(results, row)
	}

	if err := rows.Err(); err != nil {
		dc.Logger.Errorf("Error iterating rows: %v", err)
		return nil, err
	}
	dc.Logger.Debugf("Query returned %d rows", len(results))
	return results, nil
}

// getEnvOrDefault gets an environment variable or returns a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
