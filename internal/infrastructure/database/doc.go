// Package database provides the SQLite connection used for wash logs and
// bay snapshots.
//
// This package manages:
//   - Opening the database file with busy timeout and optional WAL
//   - Versioned schema migrations loaded from an embedded filesystem
//   - Small wrappers (ExecContext, QueryContext, WithTx) with wrapped errors
//
// The pool is capped at one connection; SQLite has a single writer and the
// gateway writes from one goroutine.
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
// Migrations are registered by importing the migrations package for its
// side effect. Files follow YYYYMMDD_HHMMSS_description.up.sql with an
// optional .down.sql.
package database
