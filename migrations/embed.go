// Package migrations embeds the gateway's SQL schema into the binary.
//
// Import it for its side effect:
//
//	import _ "github.com/nerrad567/washbay-gateway/migrations"
package migrations

import (
	"embed"

	"github.com/nerrad567/washbay-gateway/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
