// Package db embeds the scheme engine's SQL migrations.
package db

import "embed"

// Migrations holds migrations/NNN_*.sql, applied in file name order.
//
//go:embed migrations/*.sql
var Migrations embed.FS
