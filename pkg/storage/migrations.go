package storage

import "embed"

// MigrationsFS exposes the versioned schema migrations for the offline
// vesseld-migrate tool. The daemon's own Open applies schema.sql directly
// (every statement is idempotent); the two must stay in lockstep, which is
// why both live in this package.
//
//go:embed migrations/*.sql
var MigrationsFS embed.FS
