// Package dedup tracks record IDs already flushed to output so a resumed
// run that re-fetches a page does not emit duplicate records. The ledger
// is a local SQLite database; downstream processing never reads it.
package dedup

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // sqlite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS seen_records (
	source     TEXT NOT NULL,
	record_id  TEXT NOT NULL,
	first_seen TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (source, record_id)
);
`

// Ledger is a persistent seen-record index keyed by (source, record_id).
type Ledger struct {
	db *sqlx.DB
}

// Open opens (creating if necessary) the ledger database at path.
func Open(path string) (*Ledger, error) {
	if mkdirErr := os.MkdirAll(filepath.Dir(path), 0o755); mkdirErr != nil {
		return nil, fmt.Errorf("create ledger dir: %w", mkdirErr)
	}

	db, openErr := sqlx.Open("sqlite3", path)
	if openErr != nil {
		return nil, fmt.Errorf("open dedup ledger %s: %w", path, openErr)
	}

	if _, execErr := db.Exec(schema); execErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init dedup ledger schema: %w", execErr)
	}

	return &Ledger{db: db}, nil
}

// Seen reports whether the record ID has already been flushed for source.
func (l *Ledger) Seen(source, recordID string) (bool, error) {
	var count int

	err := l.db.Get(&count,
		`SELECT COUNT(1) FROM seen_records WHERE source = ? AND record_id = ?`,
		source, recordID)
	if err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}

	return count > 0, nil
}

// MarkSeen records the IDs as flushed for source. Already-present IDs
// are ignored so re-marking after a resume is harmless.
func (l *Ledger) MarkSeen(source string, recordIDs []string) error {
	if len(recordIDs) == 0 {
		return nil
	}

	tx, txErr := l.db.Beginx()
	if txErr != nil {
		return fmt.Errorf("dedup mark: begin tx: %w", txErr)
	}

	stmt, prepErr := tx.Preparex(
		`INSERT OR IGNORE INTO seen_records (source, record_id) VALUES (?, ?)`)
	if prepErr != nil {
		_ = tx.Rollback()
		return fmt.Errorf("dedup mark: prepare: %w", prepErr)
	}
	defer stmt.Close()

	for _, id := range recordIDs {
		if _, execErr := stmt.Exec(source, id); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("dedup mark %s/%s: %w", source, id, execErr)
		}
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("dedup mark: commit: %w", commitErr)
	}

	return nil
}

// Forget removes every recorded ID for source, so a fresh run re-emits
// records it re-fetches.
func (l *Ledger) Forget(source string) error {
	if _, err := l.db.Exec(`DELETE FROM seen_records WHERE source = ?`, source); err != nil {
		return fmt.Errorf("dedup forget %s: %w", source, err)
	}

	return nil
}

// Count returns the number of recorded IDs for source.
func (l *Ledger) Count(source string) (int, error) {
	var count int

	err := l.db.Get(&count,
		`SELECT COUNT(1) FROM seen_records WHERE source = ?`, source)
	if err != nil {
		return 0, fmt.Errorf("dedup count: %w", err)
	}

	return count, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
