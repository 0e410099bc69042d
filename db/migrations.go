// Package db embeds the SQL migrations so binaries do not depend on the working directory.
package db

import "embed"

// Migrations holds the numbered golang-migrate files.
//
//go:embed migrations/*.sql
var Migrations embed.FS
