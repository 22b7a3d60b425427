// Package migration applies versioned SQL schema changes to a SQLite database.
//
// Migration files live in an fs.FS (normally an embed.FS compiled into the
// binary) and follow the naming convention {version}_{description}.sql, for
// example "001_initial_schema.sql". Applied versions are tracked in a
// schema_migrations table; each migration runs and is recorded inside one
// transaction so a failure leaves no partial schema behind.
//
// Example usage:
//
//	manager := migration.NewManager(migration.NewScanner(files, "migrations"), migration.NewExecutor(db), logger)
//	if _, err := manager.RunMigrations(ctx); err != nil {
//		return err
//	}
package migration
