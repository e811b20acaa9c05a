// Package migrations embeds the SQL schema so binaries and tests apply the same files.
package migrations

import "embed"

// FS holds every *.up.sql file, applied in filename order.
//
//go:embed *.up.sql
var FS embed.FS
