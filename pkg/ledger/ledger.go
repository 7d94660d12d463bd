// Package ledger keeps a queryable SQLite history of the files committed to
// and deleted from this node.
package ledger

import (
	"context"
	"time"

	"github.com/rxanders35/fdfs/pkg/volume_server"
	"github.com/rxanders35/fdfs/pkg/volume_server/binlog"
)

const DefaultLimit = 100

type Ledger struct {
	store *Store
}

func NewLedger(path string) (*Ledger, error) {
	s, err := NewStore(path)
	if err != nil {
		return nil, err
	}
	return &Ledger{store: s}, nil
}

func (l *Ledger) Record(ctx context.Context, ev volume_server.Event) error {
	op, err := ev.Op.MarshalText()
	if err != nil {
		return err
	}
	return l.store.insert(ctx, row{
		Op:         string(op),
		Reference:  ev.Reference,
		Volume:     ev.Volume,
		Path:       ev.Path,
		Size:       int64(ev.Size),
		CRC32:      int64(ev.CRC32),
		VolumeUsed: int64(ev.VolumeUsed),
		At:         ev.At.UnixNano(),
	})
}

// List returns the newest events first. An empty volume matches every
// volume; a non-positive limit falls back to DefaultLimit.
func (l *Ledger) List(ctx context.Context, volume string, limit int) ([]volume_server.Event, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := l.store.byVolume(ctx, volume, limit)
	if err != nil {
		return nil, err
	}
	return toEvents(rows)
}

// History returns every event for one reference, oldest first.
func (l *Ledger) History(ctx context.Context, reference string) ([]volume_server.Event, error) {
	rows, err := l.store.byReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	return toEvents(rows)
}

// Observe implements volume_server.Observer.
func (l *Ledger) Observe(ctx context.Context, ev volume_server.Event) error {
	return l.Record(ctx, ev)
}

func (l *Ledger) Close() error {
	return l.store.Close()
}

func toEvents(rows []row) ([]volume_server.Event, error) {
	out := make([]volume_server.Event, 0, len(rows))
	for _, r := range rows {
		var op binlog.Operation
		if err := op.UnmarshalText([]byte(r.Op)); err != nil {
			return nil, err
		}
		out = append(out, volume_server.Event{
			Op:         op,
			Reference:  r.Reference,
			Volume:     r.Volume,
			Path:       r.Path,
			Size:       uint64(r.Size),
			CRC32:      uint32(r.CRC32),
			VolumeUsed: uint64(r.VolumeUsed),
			At:         time.Unix(0, r.At).UTC(),
		})
	}
	return out, nil
}
