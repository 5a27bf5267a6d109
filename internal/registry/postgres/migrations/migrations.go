// Package migrations embeds the SQL migration files applied via
// golang-migrate at service startup.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
