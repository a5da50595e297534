// Package database provides SQLite connectivity for shellyflux.
//
// The database persists the device registry so that discovered devices and
// their last-known health survive collector restarts. It is deliberately
// small: one table, inline migrations, WAL mode for concurrent reads.
//
// # Usage
//
//	db, err := database.Open(database.Config{
//	    Path:        "./data/shellyflux.db",
//	    WALMode:     true,
//	    BusyTimeout: 5,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// # Thread Safety
//
// The connection pool is limited to a single connection because SQLite
// supports only one writer; callers may use the DB concurrently.
package database
