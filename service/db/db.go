// Package db is the data-access gateway: it owns the SQL Server connection
// and turns query executions into forward-only RowStreams that carry the
// server's info messages alongside the row data.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	"github.com/golang-sql/sqlexp"
	_ "github.com/microsoft/go-mssqldb" // load sqlserver driver

	"mssqlpipe/model"
)

// statisticsOn makes the server emit the TIME/IO notices the diagnostics
// parsers consume.
const statisticsOn = "SET STATISTICS TIME ON; SET STATISTICS IO ON;"

// Gateway executes queries and catalog introspection against one server.
type Gateway interface {
	// Query runs a query or stored procedure and returns its row stream.
	// The stream owns a dedicated connection until closed.
	Query(ctx context.Context, kind model.SessionKind, query, database string) (model.RowStream, error)
	ListDatabases(ctx context.Context) ([]string, error)
	ListTables(ctx context.Context, database string) ([]string, error)
	TableSchema(ctx context.Context, table, database string) ([]ColumnSchema, error)
}

// ColumnSchema is one column of a table, as reported by the catalog.
type ColumnSchema struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

type ConnectionSettings struct {
	Host                   string
	Port                   int
	User                   string
	Password               string
	Database               string
	TrustServerCertificate bool
}

func (s ConnectionSettings) dsn() string {
	q := url.Values{}
	if s.Database != "" {
		q.Set("database", s.Database)
	}
	q.Set("app name", "mssqlpipe")
	if s.TrustServerCertificate {
		q.Set("TrustServerCertificate", "true")
	}
	u := url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(s.User, s.Password),
		Host:     fmt.Sprintf("%s:%d", s.Host, s.Port),
		RawQuery: q.Encode(),
	}
	return u.String()
}

// Connect opens and pings a SQL Server connection pool.
func Connect(settings ConnectionSettings) (*sql.DB, error) {
	conn, err := sql.Open("sqlserver", settings.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlserver connection: %w", err)
	}
	if err = conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to sqlserver: %w", err)
	}
	return conn, nil
}

type mssqlGateway struct {
	db *sql.DB
}

func NewGateway(db *sql.DB) Gateway {
	return &mssqlGateway{db: db}
}

func (g *mssqlGateway) Query(ctx context.Context, kind model.SessionKind, query, database string) (model.RowStream, error) {
	// a dedicated connection so USE and the SET options stay scoped to this
	// execution
	conn, err := g.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	if database != "" {
		if _, err := conn.ExecContext(ctx, "USE "+quoteName(database)); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to switch database: %w", err)
		}
	}
	if _, err := conn.ExecContext(ctx, statisticsOn); err != nil {
		conn.Close()
		return nil, err
	}

	stmt := query
	if kind == model.KindProcedure && !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "EXEC") {
		stmt = "EXEC " + query
	}

	retmsg := &sqlexp.ReturnMessage{}
	rows, err := conn.QueryContext(ctx, stmt, retmsg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return newRowStream(ctx, conn, rows, retmsg), nil
}

func (g *mssqlGateway) ListDatabases(ctx context.Context) ([]string, error) {
	return g.stringColumn(ctx, "SELECT name FROM sys.databases ORDER BY name")
}

func (g *mssqlGateway) ListTables(ctx context.Context, database string) ([]string, error) {
	query := "SELECT TABLE_SCHEMA + '.' + TABLE_NAME FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_TYPE = 'BASE TABLE' ORDER BY 1"
	if database != "" {
		query = "SELECT TABLE_SCHEMA + '.' + TABLE_NAME FROM " + quoteName(database) +
			".INFORMATION_SCHEMA.TABLES WHERE TABLE_TYPE = 'BASE TABLE' ORDER BY 1"
	}
	return g.stringColumn(ctx, query)
}

func (g *mssqlGateway) TableSchema(ctx context.Context, table, database string) ([]ColumnSchema, error) {
	source := "INFORMATION_SCHEMA.COLUMNS"
	if database != "" {
		source = quoteName(database) + ".INFORMATION_SCHEMA.COLUMNS"
	}
	schema, name := splitTableName(table)
	query := "SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE FROM " + source +
		" WHERE TABLE_NAME = @p1 AND (@p2 = '' OR TABLE_SCHEMA = @p2) ORDER BY ORDINAL_POSITION"
	rows, err := g.db.QueryContext(ctx, query, name, schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ColumnSchema
	for rows.Next() {
		var col ColumnSchema
		var nullable string
		if err := rows.Scan(&col.Name, &col.Type, &nullable); err != nil {
			return nil, err
		}
		col.Nullable = strings.EqualFold(nullable, "YES")
		out = append(out, col)
	}
	return out, rows.Err()
}

func (g *mssqlGateway) stringColumn(ctx context.Context, query string) ([]string, error) {
	rows, err := g.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// quoteName bracket-quotes an identifier.
func quoteName(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func splitTableName(table string) (schema, name string) {
	if i := strings.IndexByte(table, '.'); i >= 0 {
		return table[:i], table[i+1:]
	}
	return "", table
}
