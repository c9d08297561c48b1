package update

import (
	"database/sql"
	"encoding/json"
	"sort"
	"time"

	_ "modernc.org/sqlite" // pure Go sqlite driver

	syncerrors "github.com/semweb/searchsync/internal/errors"
)

// Store persists pending changes write-through, so a debounce window in
// flight survives a restart. One row per subject, mirroring the in-memory
// coalescing invariant.
type Store struct {
	db *sql.DB
}

const queueSchema = `
CREATE TABLE IF NOT EXISTS pending_changes (
	subject     TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	enqueued_at INTEGER NOT NULL,
	index_types TEXT NOT NULL
);
`

// OpenStore opens (and migrates) the queue database at path.
func OpenStore(path string) (*Store, error) {
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, syncerrors.New(syncerrors.ErrCodeQueueStore, "cannot open queue store", err)
	}
	if _, err := db.Exec(queueSchema); err != nil {
		db.Close()
		return nil, syncerrors.New(syncerrors.ErrCodeQueueStore, "cannot migrate queue store", err)
	}
	return &Store{db: db}, nil
}

// Upsert writes the current coalesced state of one entry.
func (s *Store) Upsert(c *PendingChange) error {
	types, err := json.Marshal(c.Types())
	if err != nil {
		return syncerrors.New(syncerrors.ErrCodeQueueStore, "cannot encode index types", err)
	}
	_, err = s.db.Exec(`
INSERT INTO pending_changes (subject, kind, enqueued_at, index_types)
VALUES (?, ?, ?, ?)
ON CONFLICT(subject) DO UPDATE SET
	kind = excluded.kind,
	enqueued_at = excluded.enqueued_at,
	index_types = excluded.index_types`,
		c.Subject, string(c.Kind), c.EnqueuedAt.UnixMilli(), string(types))
	if err != nil {
		return syncerrors.New(syncerrors.ErrCodeQueueStore, "cannot persist pending change", err)
	}
	return nil
}

// Delete removes the entry for subject after it has been handled.
func (s *Store) Delete(subject string) error {
	if _, err := s.db.Exec(`DELETE FROM pending_changes WHERE subject = ?`, subject); err != nil {
		return syncerrors.New(syncerrors.ErrCodeQueueStore, "cannot delete pending change", err)
	}
	return nil
}

// LoadAll returns every persisted entry in enqueue order.
func (s *Store) LoadAll() ([]*PendingChange, error) {
	rows, err := s.db.Query(`SELECT subject, kind, enqueued_at, index_types FROM pending_changes ORDER BY enqueued_at`)
	if err != nil {
		return nil, syncerrors.New(syncerrors.ErrCodeQueueStore, "cannot load pending changes", err)
	}
	defer rows.Close()

	var out []*PendingChange
	for rows.Next() {
		var (
			subject, kind, typesJSON string
			enqueuedMilli            int64
		)
		if err := rows.Scan(&subject, &kind, &enqueuedMilli, &typesJSON); err != nil {
			return nil, syncerrors.New(syncerrors.ErrCodeQueueStore, "cannot scan pending change", err)
		}
		var types []string
		if err := json.Unmarshal([]byte(typesJSON), &types); err != nil {
			return nil, syncerrors.New(syncerrors.ErrCodeQueueStore, "cannot decode index types", err)
		}
		c := &PendingChange{
			Subject:    subject,
			Kind:       ChangeKind(kind),
			EnqueuedAt: time.UnixMilli(enqueuedMilli),
			IndexTypes: make(map[string]struct{}, len(types)),
		}
		for _, t := range types {
			c.IndexTypes[t] = struct{}{}
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnqueuedAt.Before(out[j].EnqueuedAt) })
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
