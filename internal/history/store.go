package history

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// historyKey is the single app_state key holding the serialized enhancement
// history list.
const historyKey = "enhancement_history"

// Store wraps a SQLite database holding the enhancement history and user
// preferences. History mutations are best-effort: storage failures are
// logged and swallowed, because the in-memory application state is the
// fallback of record for the current session.
type Store struct {
	db *sql.DB

	// mu serializes mutations of the history blob. Every mutation is a
	// full read-modify-write of the whole collection, and mutations arrive
	// from multiple goroutines (HTTP handlers, MCP tools, a settling
	// enhancement); interleaved cycles would lose one side's change.
	mu sync.Mutex
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "retouch.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't
// been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- History ---

// Append prepends item to the persisted history list (most recent first).
// Every write is a full read-modify-write of the entire collection; the
// expected collection size is small (single-user, manual workflow).
func (s *Store) Append(item Item) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.readAll()
	items = append([]Item{item}, items...)
	if err := s.writeAll(items); err != nil {
		slog.Warn("could not persist history item", "id", item.ID, "error", err)
	}
}

// List returns the persisted history, most recent first. A missing,
// unreadable, or malformed blob yields an empty list, never an error.
func (s *Store) List() []Item {
	return s.readAll()
}

// Get returns the item with the given id, if present.
func (s *Store) Get(id string) (Item, bool) {
	for _, item := range s.readAll() {
		if item.ID == id {
			return item, true
		}
	}
	return Item{}, false
}

// Remove filters the id out of the persisted list. No-op if the id is
// absent.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.readAll()
	kept := items[:0]
	for _, item := range items {
		if item.ID != id {
			kept = append(kept, item)
		}
	}
	if err := s.writeAll(kept); err != nil {
		slog.Warn("could not remove history item", "id", id, "error", err)
	}
}

// Clear deletes the entire stored collection.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM app_state WHERE key = ?", historyKey); err != nil {
		slog.Warn("could not clear history", "error", err)
	}
}

func (s *Store) readAll() []Item {
	var blob string
	err := s.db.QueryRow("SELECT value FROM app_state WHERE key = ?", historyKey).Scan(&blob)
	if err == sql.ErrNoRows {
		return []Item{}
	}
	if err != nil {
		slog.Warn("could not read history", "error", err)
		return []Item{}
	}

	var items []Item
	if err := json.Unmarshal([]byte(blob), &items); err != nil {
		slog.Warn("history blob is malformed, treating as empty", "error", err)
		return []Item{}
	}
	if items == nil {
		return []Item{}
	}
	return items
}

func (s *Store) writeAll(items []Item) error {
	blob, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshaling history: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO app_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		historyKey, string(blob), time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// --- Preferences ---

// SetPreference persists a preference key.
func (s *Store) SetPreference(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// GetAllPreferences returns every stored preference key/value pair.
func (s *Store) GetAllPreferences() (map[string]string, error) {
	rows, err := s.db.Query("SELECT key, value FROM preferences")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		result[k] = v
	}
	return result, rows.Err()
}
