// Package migrations embeds SQL migration files for use at runtime.
// Migrations are embedded so they work regardless of working directory.
// Each backend has its own dialect directory.
package migrations

import (
	"embed"
	"io/fs"
)

// FS is the embedded migrations filesystem.
// Contains postgres/*.sql and sqlite/*.sql (e.g. postgres/001_initial.sql).
//
//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS

// Postgres returns the PostgreSQL migrations rooted at their directory.
func Postgres() fs.FS {
	return sub("postgres")
}

// SQLite returns the SQLite migrations rooted at their directory.
func SQLite() fs.FS {
	return sub("sqlite")
}

func sub(dir string) fs.FS {
	f, err := fs.Sub(FS, dir)
	if err != nil {
		// Only possible if the embed pattern above is changed.
		panic("migrations: " + err.Error())
	}
	return f
}
