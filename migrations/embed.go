// Package migrations embeds the per-dialect registry schema templates into
// the binary.
//
// Each file is named after the dialect it targets (sqlite.sql, mysql.sql,
// postgres.sql). Importing this package registers them with the database
// package so Bootstrap can create the schema on first start.
package migrations

import (
	"embed"

	"github.com/nerrad567/vineyard-core/internal/infrastructure/database"
)

//go:embed *.sql
var schemaFS embed.FS

func init() {
	database.SchemaFS = schemaFS
	database.SchemaDir = "."
}
