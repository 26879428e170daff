// -----------------------------------------------------------------------
// SQL Connector - Target table discovery and row-partitioned inserts
// -----------------------------------------------------------------------

package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/ternarybob/arbor"
	_ "modernc.org/sqlite"

	"github.com/ternarybob/quarry/internal/common"
	"github.com/ternarybob/quarry/internal/interfaces"
	"github.com/ternarybob/quarry/internal/models"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLConnector implements interfaces.DatabaseConnector over sqlx
type SQLConnector struct {
	db     *sqlx.DB
	driver string
	schema string
	logger arbor.ILogger
}

var _ interfaces.DatabaseConnector = (*SQLConnector)(nil)

// NewSQLConnector opens and pings the target database
func NewSQLConnector(config *common.TargetConfig, logger arbor.ILogger) (*SQLConnector, error) {
	driver := strings.ToLower(config.Driver)
	switch driver {
	case DriverPostgres, DriverSQLite:
	case "postgresql":
		driver = DriverPostgres
	default:
		return nil, fmt.Errorf("unsupported target driver %q", config.Driver)
	}
	if config.DSN == "" {
		return nil, fmt.Errorf("target DSN is required")
	}

	logger.Info().
		Str("driver", driver).
		Str("schema", config.Schema).
		Msg("Connecting to target database")

	db, err := sqlx.Open(driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open target database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping target database: %w, and failed to close connection: %w", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping target database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	db.SetConnMaxLifetime(common.ParseDuration(config.ConnMaxLifetime, 5*time.Minute))

	logger.Info().Msg("Successfully connected to target database")
	return newSQLConnector(db, driver, config.Schema, logger), nil
}

func newSQLConnector(db *sqlx.DB, driver, schema string, logger arbor.ILogger) *SQLConnector {
	if schema == "" && driver == DriverPostgres {
		schema = "public"
	}
	return &SQLConnector{db: db, driver: driver, schema: schema, logger: logger}
}

// Driver returns the database driver name
func (c *SQLConnector) Driver() string {
	return c.driver
}

type columnRow struct {
	Table        string `db:"table_name"`
	Name         string `db:"name"`
	DataType     string `db:"data_type"`
	Nullable     bool   `db:"nullable"`
	IsPrimaryKey bool   `db:"is_primary_key"`
}

const postgresColumnsQuery = `
SELECT c.table_name, c.column_name AS name, c.data_type,
       (c.is_nullable = 'YES') AS nullable,
       EXISTS (
           SELECT 1
           FROM information_schema.table_constraints tc
           JOIN information_schema.key_column_usage kcu
             ON tc.constraint_name = kcu.constraint_name
            AND tc.table_schema = kcu.table_schema
            AND tc.table_name = kcu.table_name
           WHERE tc.constraint_type = 'PRIMARY KEY'
             AND tc.table_schema = c.table_schema
             AND tc.table_name = c.table_name
             AND kcu.column_name = c.column_name
       ) AS is_primary_key
FROM information_schema.columns c
JOIN information_schema.tables t
  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
WHERE c.table_schema = $1 AND t.table_type = 'BASE TABLE'
ORDER BY c.table_name, c.ordinal_position`

const sqliteTablesQuery = `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`

const sqliteColumnsQuery = `SELECT name, type AS data_type, ("notnull" = 0 AND pk = 0) AS nullable, (pk > 0) AS is_primary_key FROM pragma_table_info(?) ORDER BY cid`

// DiscoverTables lists the tables of the configured schema with their columns
func (c *SQLConnector) DiscoverTables(ctx context.Context) ([]models.TableSchema, error) {
	var rows []columnRow
	switch c.driver {
	case DriverPostgres:
		if err := c.db.SelectContext(ctx, &rows, postgresColumnsQuery, c.schema); err != nil {
			return nil, fmt.Errorf("failed to discover tables: %w", err)
		}
	default:
		var tables []string
		if err := c.db.SelectContext(ctx, &tables, sqliteTablesQuery); err != nil {
			return nil, fmt.Errorf("failed to list tables: %w", err)
		}
		for _, table := range tables {
			var cols []columnRow
			if err := c.db.SelectContext(ctx, &cols, c.db.Rebind(sqliteColumnsQuery), table); err != nil {
				return nil, fmt.Errorf("failed to describe table %s: %w", table, err)
			}
			for i := range cols {
				cols[i].Table = table
			}
			rows = append(rows, cols...)
		}
	}

	var schemas []models.TableSchema
	index := make(map[string]int)
	for _, row := range rows {
		i, ok := index[row.Table]
		if !ok {
			i = len(schemas)
			index[row.Table] = i
			schemas = append(schemas, models.TableSchema{Schema: c.schema, Name: row.Table})
		}
		schemas[i].Columns = append(schemas[i].Columns, models.ColumnSchema{
			Name:         row.Name,
			DataType:     strings.ToLower(row.DataType),
			Nullable:     row.Nullable,
			IsPrimaryKey: row.IsPrimaryKey,
		})
	}

	c.logger.Debug().Int("tables", len(schemas)).Str("schema", c.schema).Msg("Discovered target tables")
	return schemas, nil
}

// InsertRows inserts each row in its own statement. A failing row is
// recorded and the remaining rows are still attempted.
func (c *SQLConnector) InsertRows(ctx context.Context, table string, columns []string, rows []models.Row) (*models.InsertResult, error) {
	statement, err := c.insertStatement(table, columns)
	if err != nil {
		return nil, err
	}

	result := &models.InsertResult{}
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		args := make([]interface{}, len(columns))
		for j, col := range columns {
			args[j], err = sqlValue(row[col])
			if err != nil {
				break
			}
		}
		if err == nil {
			_, err = c.db.ExecContext(ctx, statement, args...)
		}
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, models.RowError{RowIndex: i, Message: err.Error()})
			continue
		}
		result.Inserted++
	}

	c.logger.Debug().
		Str("table", table).
		Int("inserted", result.Inserted).
		Int("failed", result.Failed).
		Msg("Rows inserted into target table")
	return result, nil
}

func (c *SQLConnector) insertStatement(table string, columns []string) (string, error) {
	if len(columns) == 0 {
		return "", models.NewConfigurationError("columns", "no columns to insert")
	}
	qualified, err := quoteQualified(table)
	if err != nil {
		return "", err
	}

	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, col := range columns {
		if !identifierPattern.MatchString(col) {
			return "", models.NewConfigurationError("columns", "invalid column name %q", col)
		}
		quoted[i] = quoteIdentifier(col)
		placeholders[i] = "?"
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", qualified, strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	return c.db.Rebind(query), nil
}

// Close closes the connection pool
func (c *SQLConnector) Close() error {
	c.logger.Info().Msg("Closing target database connection")
	return c.db.Close()
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteQualified(table string) (string, error) {
	parts := strings.Split(table, ".")
	if len(parts) > 2 {
		return "", models.NewConfigurationError("target_table", "invalid table name %q", table)
	}
	for i, part := range parts {
		if !identifierPattern.MatchString(part) {
			return "", models.NewConfigurationError("target_table", "invalid table name %q", table)
		}
		parts[i] = quoteIdentifier(part)
	}
	return strings.Join(parts, "."), nil
}

// sqlValue converts extracted values into driver arguments. Nested JSON
// values are stored as their JSON text.
func sqlValue(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case map[string]interface{}, []interface{}:
		data, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("failed to encode json value: %w", err)
		}
		return string(data), nil
	default:
		return v, nil
	}
}
