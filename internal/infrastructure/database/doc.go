// Package database provides SQL connectivity for the Vineyard registry.
//
// This package manages:
//   - Connections for three dialects: SQLite (mattn/go-sqlite3), MySQL
//     (go-sql-driver/mysql) and PostgreSQL (jackc/pgx via database/sql)
//   - Placeholder rebinding so callers write '?' everywhere
//   - Transactions with guaranteed rollback (WithTx)
//   - Dialect-neutral generated key retrieval (Tx.InsertID)
//   - First-start schema creation guarded by a marker table (Bootstrap)
//   - Constraint violation classification across drivers
//
// Security Considerations:
//   - All queries use parameterised statements (no SQL injection)
//   - SQLite database file permissions are set to 0600
//
// Usage:
//
//	import _ "github.com/nerrad567/vineyard-core/migrations"
//
//	db, err := database.Open(database.Config{Dialect: "sqlite", Path: "data/vineyard.db"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if _, err := db.Bootstrap(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Schema Strategy:
//
// The schema is created once per database. When the marker table
// vineyard_schema exists no DDL is issued, so restarting against a populated
// store never touches existing data. Templates live in the top-level
// migrations directory, one file per dialect.
package database
