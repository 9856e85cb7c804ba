package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/alert-engine/internal/evaluator"
	"github.com/t77yq/alert-engine/internal/model"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// DatabaseSource reads condition values with SQL. A descriptor either
// carries a query, which may reference :tenant_id and :since, or a
// table and field pair filtered by tenant_id.
type DatabaseSource struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewDatabaseSource creates a database source over db. db must not be the
// engine's own store; use OpenDatabaseSource for a read-only connection.
func NewDatabaseSource(db *sql.DB, logger *zap.Logger) *DatabaseSource {
	return &DatabaseSource{
		logger: logger.Named("database-source"),
		db:     db,
	}
}

// OpenDatabaseSource opens the SQLite database at dsn read-only and query-only
func OpenDatabaseSource(dsn string, logger *zap.Logger) (*DatabaseSource, error) {
	db, err := sql.Open("sqlite3", ReadOnlyDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to open data source database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to data source database: %w", err)
	}
	return NewDatabaseSource(db, logger), nil
}

// ReadOnlyDSN turns a SQLite path or file: URI into a read-only,
// query-only connection string
func ReadOnlyDSN(dsn string) string {
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "mode=ro&_query_only=1"
}

// Close closes the underlying connection
func (s *DatabaseSource) Close() error {
	return s.db.Close()
}

// Fetch implements Source
func (s *DatabaseSource) Fetch(ctx context.Context, cond *model.Condition, tenantID string, evalCtx *evaluator.Context) (any, error) {
	query, args, err := s.buildQuery(cond, tenantID, now(evalCtx))
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	column := 0
	for i, name := range columns {
		if cond.DataSource.Field != "" && name == cond.DataSource.Field {
			column = i
		}
	}

	var results []any
	for rows.Next() {
		values := make([]interface{}, len(columns))
		for i := range values {
			values[i] = new(interface{})
		}
		if err := rows.Scan(values...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		value := *(values[column].(*interface{}))
		if b, ok := value.([]byte); ok {
			value = string(b)
		}
		results = append(results, value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	switch {
	case len(results) == 0:
		return nil, nil
	case len(results) == 1 && cond.Window == nil:
		return results[0], nil
	default:
		return results, nil
	}
}

func (s *DatabaseSource) buildQuery(cond *model.Condition, tenantID string, now time.Time) (string, []interface{}, error) {
	ds := cond.DataSource
	since, windowed := windowStart(cond, now)

	if ds.Query != "" {
		if err := model.CheckQuery(ds.Query); err != nil {
			return "", nil, fmt.Errorf("rejected query: %w", err)
		}
		var args []interface{}
		if strings.Contains(ds.Query, ":tenant_id") {
			args = append(args, sql.Named("tenant_id", tenantID))
		}
		if strings.Contains(ds.Query, ":since") {
			if !windowed {
				since = time.Unix(0, 0)
			}
			args = append(args, sql.Named("since", since.UTC()))
		}
		return ds.Query, args, nil
	}

	if !identifier.MatchString(ds.Table) || !identifier.MatchString(ds.Field) {
		return "", nil, fmt.Errorf("database source needs a query or a valid table and field")
	}
	timeColumn := ds.Params["time_column"]
	if timeColumn == "" {
		timeColumn = "created_at"
	}
	if !identifier.MatchString(timeColumn) {
		return "", nil, fmt.Errorf("invalid time column %q", timeColumn)
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE tenant_id = ?", ds.Field, ds.Table)
	args := []interface{}{tenantID}
	if windowed {
		query += fmt.Sprintf(" AND %s >= ?", timeColumn)
		args = append(args, since.UTC())
	}
	query += fmt.Sprintf(" ORDER BY %s DESC", timeColumn)
	if !windowed {
		query += " LIMIT 1"
	}
	return query, args, nil
}

func now(evalCtx *evaluator.Context) time.Time {
	if evalCtx == nil || evalCtx.Now.IsZero() {
		return time.Now()
	}
	return evalCtx.Now
}
