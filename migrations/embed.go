// Package migrations embeds the database schema so binaries can apply it
// without shipping SQL files alongside.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
