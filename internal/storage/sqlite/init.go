package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database at path and creates the downloads table if it doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	// seq keeps insertion order; List returns newest first by sorting on it.
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS downloads (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT UNIQUE NOT NULL,
		file_name TEXT,
		file_path TEXT,
		url TEXT,
		start_time TEXT,
		end_time TEXT,
		size INTEGER,
		status TEXT
	)`)
	if err != nil {
		db.Close()

		return nil, err
	}

	return db, nil
}
