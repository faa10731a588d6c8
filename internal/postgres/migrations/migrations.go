// Package migrations embeds the goose SQL migrations for the direct
// Postgres driver. Supabase deployments manage the same schema through the
// project dashboard instead.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
