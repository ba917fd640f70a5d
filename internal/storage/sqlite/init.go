package sqlite

import (
	"database/sql"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB initializes the SQLite database and creates the acquisitions table if it doesn't exist.
func InitDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS acquisitions (
		id INTEGER PRIMARY KEY,
		file_name TEXT UNIQUE,
		resource_url TEXT,
		policy TEXT,
		final_location TEXT,
		handoff INTEGER DEFAULT 0,
		status TEXT DEFAULT 'in_flight',
		failure_reason TEXT,
		requested_at DATETIME,
		completed_at DATETIME,
		locked_by TEXT
	)`)

	if err != nil {
		return nil, err
	}

	return db, nil
}
