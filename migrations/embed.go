// Package migrations embeds the goose SQL migrations for the authoritative
// SQLite store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
