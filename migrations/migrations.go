// Package migrations embeds per-driver SQL migration files so a single
// binary deploys without external schema dependencies.
package migrations

import "embed"

//go:embed sqlite/*.sql
var SqliteMigrations embed.FS

//go:embed postgres/*.sql
var PostgresMigrations embed.FS
