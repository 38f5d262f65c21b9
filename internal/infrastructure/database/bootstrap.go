package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"time"
)

// MarkerTable is the table whose presence means the schema exists.
// It also records which dialect and schema version created it.
const MarkerTable = "vineyard_schema"

// SchemaVersion is the version recorded in the marker table.
const SchemaVersion = "1"

// SchemaFS should be set by the migrations package to embed the per-dialect
// schema templates. Each template is named <dialect>.sql.
//
//	//go:embed *.sql
//	var schemaFS embed.FS
//
//	func init() {
//	    database.SchemaFS = schemaFS
//	}
var SchemaFS embed.FS

// SchemaDir is the directory within SchemaFS containing the templates.
var SchemaDir = "."

// SchemaInfo is the content of the marker table.
type SchemaInfo struct {
	Version   string
	Dialect   Dialect
	AppliedAt time.Time
}

// Bootstrap creates the registry schema if it does not already exist.
//
// The marker table is checked first; when present no DDL is issued and
// created is false. A marker written by another dialect is reported as
// ErrDialectMismatch. Otherwise every statement of the dialect's template
// runs inside one transaction and the marker row is written last.
//
// MySQL commits DDL implicitly, so a failure part way through a MySQL
// bootstrap can leave tables behind; the marker row is still absent and
// the error is returned.
func (db *DB) Bootstrap(ctx context.Context) (created bool, err error) {
	exists, err := db.tableExists(ctx, MarkerTable)
	if err != nil {
		return false, fmt.Errorf("checking schema marker: %w", err)
	}

	if exists {
		info, err := db.SchemaStatus(ctx)
		if err != nil {
			return false, err
		}
		if info.Dialect != db.dialect {
			return false, fmt.Errorf("%w: schema created by %s, configured %s",
				ErrDialectMismatch, info.Dialect, db.dialect)
		}
		return false, nil
	}

	statements, err := loadSchema(db.dialect)
	if err != nil {
		return false, err
	}

	err = db.WithTx(ctx, func(tx *Tx) error {
		for i, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("executing schema statement %d: %w", i+1, err)
			}
		}

		_, err := tx.ExecContext(ctx,
			"INSERT INTO "+MarkerTable+" (version, dialect, applied_at) VALUES (?, ?, ?)",
			SchemaVersion,
			string(db.dialect),
			time.Now().UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("recording schema marker: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("creating schema: %w", err)
	}

	return true, nil
}

// SchemaStatus reads the marker row.
func (db *DB) SchemaStatus(ctx context.Context) (SchemaInfo, error) {
	var info SchemaInfo
	var dialect, appliedAt string

	err := db.QueryRowContext(ctx,
		"SELECT version, dialect, applied_at FROM "+MarkerTable+" ORDER BY version DESC",
	).Scan(&info.Version, &dialect, &appliedAt)
	if err != nil {
		return SchemaInfo{}, fmt.Errorf("reading schema marker: %w", err)
	}

	info.Dialect = Dialect(dialect)
	info.AppliedAt, _ = time.Parse(time.RFC3339, appliedAt) //nolint:errcheck // format is controlled
	return info, nil
}

// tableExists checks the catalogue for a table in the current schema.
func (db *DB) tableExists(ctx context.Context, name string) (bool, error) {
	var count int
	if err := db.QueryRowContext(ctx, db.dialect.tableExistsQuery(), name).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// loadSchema reads and splits the template for a dialect.
func loadSchema(d Dialect) ([]string, error) {
	var empty embed.FS
	if SchemaFS == empty {
		return nil, ErrNoSchema
	}

	data, err := fs.ReadFile(SchemaFS, path.Join(SchemaDir, string(d)+".sql"))
	if err != nil {
		return nil, fmt.Errorf("%w: no schema template for %s: %w", ErrUnsupportedDialect, d, err)
	}

	statements := splitStatements(string(data))
	if len(statements) == 0 {
		return nil, fmt.Errorf("schema template for %s is empty", d)
	}
	return statements, nil
}

// splitStatements splits a template on ';' line endings and drops
// '--' comment lines.
func splitStatements(script string) []string {
	var statements []string
	var current strings.Builder

	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}

		current.WriteString(line)
		current.WriteByte('\n')

		if strings.HasSuffix(trimmed, ";") {
			stmt := strings.TrimSuffix(strings.TrimSpace(current.String()), ";")
			if stmt != "" {
				statements = append(statements, stmt)
			}
			current.Reset()
		}
	}

	if rest := strings.TrimSpace(current.String()); rest != "" {
		statements = append(statements, rest)
	}
	return statements
}
