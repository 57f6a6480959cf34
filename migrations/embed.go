// Package migrations embeds the goose migrations for the readings table.
package migrations

import "embed"

//go:embed *.sql
var EmbeddedFS embed.FS
