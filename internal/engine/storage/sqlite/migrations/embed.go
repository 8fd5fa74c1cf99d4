// Package migrations contains embedded SQL migrations for the SQLite
// content store.
package migrations

import "embed"

//go:embed content/*.sql
var ContentFS embed.FS
