// Package lsm keeps a pebble index of the references stored on this node,
// keyed by reference string so a group/volume/shard prefix scan lists the
// files under it.
package lsm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/rxanders35/fdfs/pkg/volume_server"
	"github.com/rxanders35/fdfs/pkg/volume_server/binlog"
)

type LSM struct {
	db   *pebble.DB
	opts *pebble.Options
}

func NewLSM(path string, opts ...Option) (*LSM, error) {
	defaultOpts := &pebble.Options{
		Cache:        pebble.NewCache(128 << 20),
		MemTableSize: 64 << 20,
		BytesPerSync: 1 << 20,
	}

	l := &LSM{
		opts: defaultOpts,
	}

	for _, opt := range opts {
		opt(l)
	}

	db, err := pebble.Open(path, l.opts)
	// pebble holds its own reference to the cache once open.
	l.opts.Cache.Unref()
	if err != nil {
		return nil, fmt.Errorf("open reference index %s: %w", path, err)
	}

	l.db = db
	return l, nil
}

// Put records ev under its reference.
func (l *LSM) Put(ev volume_server.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return l.db.Set([]byte(ev.Reference), data, pebble.Sync)
}

func (l *LSM) Delete(reference string) error {
	return l.db.Delete([]byte(reference), pebble.Sync)
}

func (l *LSM) Get(reference string) (volume_server.Event, bool, error) {
	d, cl, err := l.db.Get([]byte(reference))
	if errors.Is(err, pebble.ErrNotFound) {
		return volume_server.Event{}, false, nil
	}
	if err != nil {
		return volume_server.Event{}, false, err
	}
	defer cl.Close()

	var ev volume_server.Event
	if err := json.Unmarshal(d, &ev); err != nil {
		return volume_server.Event{}, false, fmt.Errorf("decode index entry %q: %w", reference, err)
	}
	return ev, true, nil
}

// List returns up to limit entries whose reference starts with prefix, in
// key order. A limit of 0 means no limit.
func (l *LSM) List(prefix string, limit int) ([]volume_server.Event, error) {
	iterOpts := &pebble.IterOptions{}
	if prefix != "" {
		iterOpts.LowerBound = []byte(prefix)
		iterOpts.UpperBound = prefixEnd([]byte(prefix))
	}

	iter, err := l.db.NewIter(iterOpts)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []volume_server.Event
	for valid := iter.First(); valid; valid = iter.Next() {
		var ev volume_server.Event
		if err := json.Unmarshal(iter.Value(), &ev); err != nil {
			return nil, fmt.Errorf("decode index entry %q: %w", iter.Key(), err)
		}
		out = append(out, ev)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, iter.Error()
}

// Observe implements volume_server.Observer.
func (l *LSM) Observe(_ context.Context, ev volume_server.Event) error {
	switch ev.Op {
	case binlog.Create, binlog.Update:
		return l.Put(ev)
	case binlog.Delete:
		return l.Delete(ev.Reference)
	}
	return nil
}

func (l *LSM) Close() error {
	return l.db.Close()
}

// prefixEnd returns the smallest key greater than every key with the given
// prefix, or nil when no such key exists.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
