package ledger

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	op          TEXT    NOT NULL,
	reference   TEXT    NOT NULL,
	volume      TEXT    NOT NULL,
	path        TEXT    NOT NULL,
	size        INTEGER NOT NULL,
	crc32       INTEGER NOT NULL,
	volume_used INTEGER NOT NULL,
	at          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_volume ON events(volume, id);
CREATE INDEX IF NOT EXISTS idx_events_reference ON events(reference);
`

// row is the persisted form of an event. Times are unix nanoseconds.
type row struct {
	ID         int64  `db:"id"`
	Op         string `db:"op"`
	Reference  string `db:"reference"`
	Volume     string `db:"volume"`
	Path       string `db:"path"`
	Size       int64  `db:"size"`
	CRC32      int64  `db:"crc32"`
	VolumeUsed int64  `db:"volume_used"`
	At         int64  `db:"at"`
}

type Store struct {
	db *sqlx.DB
}

func NewStore(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// sqlite serialises writers anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply ledger schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) insert(ctx context.Context, r row) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO events (op, reference, volume, path, size, crc32, volume_used, at)
		VALUES (:op, :reference, :volume, :path, :size, :crc32, :volume_used, :at)`, r)
	return err
}

func (s *Store) byVolume(ctx context.Context, volume string, limit int) ([]row, error) {
	var rows []row
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, op, reference, volume, path, size, crc32, volume_used, at
		FROM events
		WHERE (? = '' OR volume = ?)
		ORDER BY id DESC
		LIMIT ?`, volume, volume, limit)
	return rows, err
}

func (s *Store) byReference(ctx context.Context, reference string) ([]row, error) {
	var rows []row
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, op, reference, volume, path, size, crc32, volume_used, at
		FROM events
		WHERE reference = ?
		ORDER BY id`, reference)
	return rows, err
}

func (s *Store) Close() error {
	return s.db.Close()
}
