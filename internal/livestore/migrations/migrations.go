// Package migrations embeds the SQL schema for the sessions and
// transcript_chunks tables (§3, §6 persisted state layout), plus the cases
// table used by internal/tenant, so cmd/api can
// apply them at startup via golang-migrate, mirroring the teacher's
// runAutoMigrate/iofs embedding pattern in cmd/api/main.go.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
