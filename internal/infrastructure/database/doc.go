// Package database provides SQLite connectivity for the fleet store.
//
// This package manages:
//   - Database connection with WAL mode for concurrent reads
//   - Embedded, versioned schema migrations
//   - Transaction helpers for read-modify-write updates
//
// All queries use parameterised statements and the database file is
// created with 0600 permissions.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations live in the top-level migrations package as
// YYYYMMDD_HHMMSS_name.up.sql files, each with an optional .down.sql.
// New columns must be nullable or carry a default.
package database
