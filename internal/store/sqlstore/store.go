package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"           // Postgres driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

type SQLStore struct {
	db         *sql.DB
	driverName string
}

func New(driverName, dataSourceName string) (*SQLStore, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		return nil, err
	}

	s := &SQLStore{db: db, driverName: driverName}
	if err := s.createTables(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) createTables() error {
	// Simplified for brevity, ideally use migrations
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		password TEXT NOT NULL,
		private_key TEXT NOT NULL,
		last_active DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS friends (
		username TEXT NOT NULL,
		friend TEXT NOT NULL,
		PRIMARY KEY (username, friend)
	);

	CREATE TABLE IF NOT EXISTS friend_requests (
		from_user TEXT NOT NULL,
		to_user TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at DATETIME NOT NULL,
		PRIMARY KEY (from_user, to_user)
	);

	CREATE TABLE IF NOT EXISTS room_messages (
		id TEXT PRIMARY KEY,
		sender TEXT NOT NULL,
		room TEXT NOT NULL,
		content TEXT NOT NULL,
		plaintext TEXT NOT NULL,
		encrypted BOOLEAN NOT NULL DEFAULT TRUE,
		timestamp DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS direct_messages (
		id TEXT PRIMARY KEY,
		sender TEXT NOT NULL,
		recipient TEXT NOT NULL,
		content TEXT NOT NULL,
		plaintext TEXT NOT NULL,
		encrypted BOOLEAN NOT NULL DEFAULT TRUE,
		read BOOLEAN NOT NULL DEFAULT FALSE,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_dm_conversation
		ON direct_messages (sender, recipient);

	CREATE TABLE IF NOT EXISTS rooms (
		name TEXT PRIMARY KEY,
		creator TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	`

	if s.driverName == "postgres" {
		// Adjust for Postgres syntax
		query = strings.ReplaceAll(query, "INTEGER PRIMARY KEY AUTOINCREMENT", "SERIAL PRIMARY KEY")
		query = strings.ReplaceAll(query, "DATETIME", "TIMESTAMP")
	}

	_, err := s.db.Exec(query)
	return err
}

// Helper to handle placeholders
func (s *SQLStore) rebind(query string) string {
	if s.driverName == "postgres" {
		// Replace ? with $1, $2, etc.
		n := strings.Count(query, "?")
		for i := 1; i <= n; i++ {
			query = strings.Replace(query, "?", fmt.Sprintf("$%d", i), 1)
		}
	}
	return query
}
