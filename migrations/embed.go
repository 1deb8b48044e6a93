// Package migrations embeds rankkit's SQL migrations so host applications
// can apply them from their own migration phase.
package migrations

import "embed"

//go:embed postgres
var Postgres embed.FS
