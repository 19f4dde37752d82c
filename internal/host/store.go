package host

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/joshp123/flairbridge/internal/accessory"
)

const schema = `
CREATE TABLE IF NOT EXISTS accessories (
    uuid TEXT PRIMARY KEY,
    display_name TEXT NOT NULL,
    category TEXT NOT NULL,
    context TEXT,
    services TEXT,
    updated_at INTEGER NOT NULL
);`

// Store persists accessory snapshots in sqlite.
type Store struct {
	db  *sqlx.DB
	log logr.Logger
}

type row struct {
	UUID        string `db:"uuid"`
	DisplayName string `db:"display_name"`
	Category    string `db:"category"`
	Context     string `db:"context"`
	Services    string `db:"services"`
	UpdatedAt   int64  `db:"updated_at"`
}

func OpenStore(log logr.Logger, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := sqlx.Connect("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open accessory store %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create accessory table: %w", err)
	}
	return &Store{db: db, log: log.WithName("store")}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts the accessory snapshot.
func (s *Store) Save(ctx context.Context, snap accessory.Snapshot) error {
	services, err := json.Marshal(snap.Services)
	if err != nil {
		return fmt.Errorf("encode services: %w", err)
	}
	r := row{
		UUID:        snap.UUID,
		DisplayName: snap.DisplayName,
		Category:    snap.Category,
		Context:     string(snap.Context),
		Services:    string(services),
		UpdatedAt:   time.Now().Unix(),
	}
	_, err = s.db.NamedExecContext(ctx, `
    INSERT INTO accessories (uuid, display_name, category, context, services, updated_at)
    VALUES (:uuid, :display_name, :category, :context, :services, :updated_at)
    ON CONFLICT(uuid) DO UPDATE SET
        display_name = excluded.display_name,
        category = excluded.category,
        context = excluded.context,
        services = excluded.services,
        updated_at = excluded.updated_at`, r)
	if err != nil {
		return fmt.Errorf("upsert accessory %s: %w", snap.UUID, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, uuid string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM accessories WHERE uuid = ?`, uuid); err != nil {
		return fmt.Errorf("delete accessory %s: %w", uuid, err)
	}
	return nil
}

// LoadAll returns every cached accessory. Rows that fail to decode are skipped and logged.
func (s *Store) LoadAll(ctx context.Context) ([]accessory.Snapshot, error) {
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM accessories ORDER BY uuid`); err != nil {
		return nil, fmt.Errorf("load accessories: %w", err)
	}
	out := make([]accessory.Snapshot, 0, len(rows))
	for _, r := range rows {
		snap := accessory.Snapshot{
			UUID:        r.UUID,
			DisplayName: r.DisplayName,
			Category:    r.Category,
		}
		if r.Context != "" {
			snap.Context = json.RawMessage(r.Context)
		}
		if r.Services != "" {
			if err := json.Unmarshal([]byte(r.Services), &snap.Services); err != nil {
				s.log.Error(err, "Skipping cached accessory with bad services", "uuid", r.UUID)
				continue
			}
		}
		out = append(out, snap)
	}
	return out, nil
}
