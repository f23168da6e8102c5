// Package database opens the agent's SQLite database and applies its
// schema migrations.
//
// Migrations are read from any fs.FS, normally the embedded
// migrations.FS, so the binary never depends on SQL files at runtime:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// All statements elsewhere in the module use parameterised queries. The
// database file is created with 0600 permissions.
package database
