// Package migrations embeds the fleet store schema into the binary.
//
// Importing this package registers the files with the database package,
// so db.Migrate works without SQL files on disk.
package migrations

import (
	"embed"

	"github.com/basharjaffan/radio-revive-stream/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
