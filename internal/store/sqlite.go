// sqlite.go implements the SQLite persistence adapter.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteAdapter persists serialized session state in a SQLite database.
type SQLiteAdapter struct {
	db *sql.DB
}

// NewSQLiteAdapter opens the SQLite database at dbPath and creates the
// schema if it does not exist.
func NewSQLiteAdapter(dbPath string) (*SQLiteAdapter, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS session_states (
		id TEXT PRIMARY KEY,
		state BLOB NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &SQLiteAdapter{db: db}, nil
}

// Save upserts the serialized state for id.
func (a *SQLiteAdapter) Save(id string, state []byte) error {
	_, err := a.db.Exec(
		`INSERT INTO session_states (id, state, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		id, state, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("save session state: %w", err)
	}
	return nil
}

// Load returns the stored state for id, or (nil, nil) if absent.
func (a *SQLiteAdapter) Load(id string) ([]byte, error) {
	row := a.db.QueryRow(`SELECT state FROM session_states WHERE id = ?`, id)

	var state []byte
	err := row.Scan(&state)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session state: %w", err)
	}
	return state, nil
}

// List returns all stored ids, most recently updated first.
func (a *SQLiteAdapter) List() ([]string, error) {
	rows, err := a.db.Query(`SELECT id FROM session_states ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query session states: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return ids, nil
}

// Delete removes the stored state for id, reporting whether a row existed.
func (a *SQLiteAdapter) Delete(id string) (bool, error) {
	result, err := a.db.Exec(`DELETE FROM session_states WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete session state: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return affected > 0, nil
}

// Close closes the database connection.
func (a *SQLiteAdapter) Close() error {
	return a.db.Close()
}
