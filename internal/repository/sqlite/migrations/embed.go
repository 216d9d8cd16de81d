// Package migrations embeds the SQL migrations of the metadata store.
package migrations

import "embed"

// FS holds every *.up.sql file.
//
//go:embed *.sql
var FS embed.FS
