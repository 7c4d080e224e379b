// Package migrations embeds the SQL schema for both store backends.
// File naming follows golang-migrate: NNNN_name.up.sql / .down.sql.
package migrations

import "embed"

//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS
