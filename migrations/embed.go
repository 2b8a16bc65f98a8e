// Package migrations holds the versioned SQL schema applied by
// db.Migrator. Files are named NNN_description.sql.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
