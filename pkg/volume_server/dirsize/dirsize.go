// Package dirsize keeps a durable count of the bytes committed to a volume.
//
// The log is a sequence of 8 byte big-endian deltas. Recompute folds the
// history into a single record holding the running total.
package dirsize

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// RecordSize is the width of one delta record on disk.
const RecordSize = 8

type Option func(*Accountant)

// WithSync makes every Append fsync the log before returning.
func WithSync(sync bool) Option {
	return func(a *Accountant) {
		a.syncAppends = sync
	}
}

// logFile is the part of *os.File the accountant needs.
type logFile interface {
	io.ReaderAt
	io.Writer
	Stat() (os.FileInfo, error)
	Truncate(size int64) error
	Sync() error
	Close() error
}

type Accountant struct {
	path string
	file logFile

	mu          sync.Mutex
	total       uint64
	syncAppends bool
}

// Open opens (creating if needed) the log at path and compacts it, so the
// returned Accountant starts from the total recorded on disk.
func Open(path string, opts ...Option) (*Accountant, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open size log: %w", err)
	}

	a := &Accountant{
		path: path,
		file: file,
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.Recompute(); err != nil {
		file.Close()
		return nil, err
	}
	return a, nil
}

// Append records delta bytes. The in-memory total only moves once the record
// has been written. A failed append is cut back off the log so every record
// stays on an 8 byte boundary.
func (a *Accountant) Append(delta uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	info, err := a.file.Stat()
	if err != nil {
		return fmt.Errorf("stat size log %s: %w", a.path, err)
	}
	size := info.Size()

	var buf [RecordSize]byte
	binary.BigEndian.PutUint64(buf[:], delta)

	if _, err := a.file.Write(buf[:]); err != nil {
		return a.rollback(size, fmt.Errorf("append to size log %s: %w", a.path, err))
	}
	if a.syncAppends {
		if err := a.file.Sync(); err != nil {
			return a.rollback(size, fmt.Errorf("sync size log %s: %w", a.path, err))
		}
	}

	a.total += delta
	return nil
}

// Total returns the running total without touching disk.
func (a *Accountant) Total() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}

// Recompute rescans the log, stopping at the first short record, and
// rewrites it as one record holding the sum.
func (a *Accountant) Recompute() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	sum, err := sumRecords(a.file)
	if err != nil {
		return fmt.Errorf("scan size log %s: %w", a.path, err)
	}

	if err := a.file.Truncate(0); err != nil {
		return fmt.Errorf("truncate size log %s: %w", a.path, err)
	}

	var buf [RecordSize]byte
	binary.BigEndian.PutUint64(buf[:], sum)
	// O_APPEND puts this write at offset 0 of the truncated file.
	if _, err := a.file.Write(buf[:]); err != nil {
		return fmt.Errorf("rewrite size log %s: %w", a.path, err)
	}
	if err := a.file.Sync(); err != nil {
		return fmt.Errorf("sync size log %s: %w", a.path, err)
	}

	a.total = sum
	return nil
}

// rollback truncates the log to size after a failed append. Callers hold mu.
func (a *Accountant) rollback(size int64, cause error) error {
	if err := a.file.Truncate(size); err != nil {
		return errors.Join(cause, fmt.Errorf("roll back size log %s: %w", a.path, err))
	}
	return cause
}

func (a *Accountant) Path() string {
	return a.path
}

func (a *Accountant) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}

func sumRecords(r io.ReaderAt) (uint64, error) {
	var (
		sum    uint64
		offset int64
		buf    [RecordSize]byte
	)
	for {
		n, err := r.ReadAt(buf[:], offset)
		if n < RecordSize {
			// A torn trailing record is treated as never written.
			if err == nil || errors.Is(err, io.EOF) {
				return sum, nil
			}
			return 0, err
		}
		sum += binary.BigEndian.Uint64(buf[:])
		offset += RecordSize
	}
}
