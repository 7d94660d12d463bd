// Package binlog is an append-only journal of storage operations.
//
// RECORD: TIMESTAMP(8, big-endian int64)|PATH+OP(67, zero padded)
//
// Records have a fixed width so the i-th record lives at i*RecordSize and a
// timestamp lookup is a binary search over the file itself.
package binlog

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"unicode/utf8"
)

const (
	TimestampSize = 8
	PayloadSize   = 67
	RecordSize    = TimestampSize + PayloadSize
)

var (
	ErrRecordOverflow = errors.New("binlog: path and operation do not fit in one record")
	ErrInvalidRecord  = errors.New("binlog: invalid record")
)

type Operation byte

const (
	Create Operation = 'C'
	Update Operation = 'U'
	Delete Operation = 'D'
)

func (o Operation) Valid() bool {
	return o == Create || o == Update || o == Delete
}

func (o Operation) String() string {
	switch o {
	case Create:
		return "create"
	case Update:
		return "update"
	case Delete:
		return "delete"
	}
	return fmt.Sprintf("Operation(%d)", byte(o))
}

func (o Operation) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Operation) UnmarshalText(text []byte) error {
	switch string(text) {
	case "create":
		*o = Create
	case "update":
		*o = Update
	case "delete":
		*o = Delete
	default:
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidRecord, text)
	}
	return nil
}

type Record struct {
	Timestamp int64     `json:"timestamp"`
	Path      string    `json:"path"`
	Op        Operation `json:"op"`
}

// Encode packs r into its fixed-width form.
func (r Record) Encode() ([RecordSize]byte, error) {
	var buf [RecordSize]byte
	if !r.Op.Valid() {
		return buf, fmt.Errorf("%w: unknown operation %q", ErrInvalidRecord, byte(r.Op))
	}
	if strings.IndexByte(r.Path, 0) >= 0 {
		return buf, fmt.Errorf("%w: path contains NUL", ErrInvalidRecord)
	}
	if len(r.Path)+1 > PayloadSize {
		return buf, fmt.Errorf("%w: %d bytes", ErrRecordOverflow, len(r.Path)+1)
	}

	binary.BigEndian.PutUint64(buf[:TimestampSize], uint64(r.Timestamp))
	n := copy(buf[TimestampSize:], r.Path)
	buf[TimestampSize+n] = byte(r.Op)
	return buf, nil
}

func DecodeRecord(buf []byte) (Record, error) {
	if len(buf) != RecordSize {
		return Record{}, io.ErrUnexpectedEOF
	}

	payload := bytes.TrimRight(buf[TimestampSize:], "\x00")
	if len(payload) == 0 {
		return Record{}, fmt.Errorf("%w: empty payload", ErrInvalidRecord)
	}

	op := Operation(payload[len(payload)-1])
	if !op.Valid() {
		return Record{}, fmt.Errorf("%w: unknown operation %q", ErrInvalidRecord, byte(op))
	}

	return Record{
		Timestamp: int64(binary.BigEndian.Uint64(buf[:TimestampSize])),
		Path:      string(payload[:len(payload)-1]),
		Op:        op,
	}, nil
}

// journalFile is the part of *os.File the journal needs.
type journalFile interface {
	io.ReaderAt
	io.Writer
	Stat() (os.FileInfo, error)
	Truncate(size int64) error
	Close() error
}

type Journal struct {
	path string
	file journalFile

	mu   sync.Mutex
	last int64
}

// Open opens the journal at path. A torn trailing record left by a crash is
// cut off so later appends stay aligned.
func Open(path string) (*Journal, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open binlog: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if rem := info.Size() % RecordSize; rem != 0 {
		if err := file.Truncate(info.Size() - rem); err != nil {
			file.Close()
			return nil, fmt.Errorf("trim torn binlog record: %w", err)
		}
	}

	j := &Journal{path: path, file: file}
	if n := info.Size() / RecordSize; n > 0 {
		if j.last, err = j.timestampAt(n - 1); err != nil {
			file.Close()
			return nil, err
		}
	}
	return j, nil
}

// Append writes one record. Timestamps in the file never decrease: a
// timestamp older than the last record is raised to match it.
func (j *Journal) Append(timestamp int64, path string, op Operation) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if timestamp < j.last {
		timestamp = j.last
	}

	buf, err := Record{Timestamp: timestamp, Path: path, Op: op}.Encode()
	if err != nil {
		return err
	}

	info, err := j.file.Stat()
	if err != nil {
		return fmt.Errorf("stat binlog %s: %w", j.path, err)
	}
	if _, err := j.file.Write(buf[:]); err != nil {
		// Cut a partial record back off so later records keep their stride.
		cause := fmt.Errorf("append to binlog %s: %w", j.path, err)
		if terr := j.file.Truncate(info.Size()); terr != nil {
			return errors.Join(cause, fmt.Errorf("roll back binlog %s: %w", j.path, terr))
		}
		return cause
	}

	j.last = timestamp
	return nil
}

// Tail returns the longest suffix of path that fits in a record next to its
// operation tag, cut on a UTF-8 boundary.
func Tail(path string) string {
	limit := PayloadSize - 1
	if len(path) <= limit {
		return path
	}
	start := len(path) - limit
	for start < len(path) && !utf8.RuneStart(path[start]) {
		start++
	}
	return path[start:]
}

// Len is the number of complete records at the time of the call. Taking the
// append lock means the snapshot never ends inside a half-written record.
func (j *Journal) Len() (int64, error) {
	j.mu.Lock()
	info, err := j.file.Stat()
	j.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return info.Size() / RecordSize, nil
}

// Find returns the last record whose timestamp is at or before ts. ok is
// false when the journal is empty or every record is newer than ts.
func (j *Journal) Find(ts int64) (rec Record, ok bool, err error) {
	n, err := j.Len()
	if err != nil {
		return Record{}, false, err
	}

	idx, err := j.search(n, func(recTS int64) bool { return recTS > ts })
	if err != nil {
		return Record{}, false, err
	}
	if idx == 0 {
		return Record{}, false, nil
	}

	rec, err = j.readAt(idx - 1)
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// Range returns every record with from <= timestamp <= to.
func (j *Journal) Range(from, to int64) ([]Record, error) {
	if from > to {
		return nil, nil
	}

	n, err := j.Len()
	if err != nil {
		return nil, err
	}

	start, err := j.search(n, func(recTS int64) bool { return recTS >= from })
	if err != nil {
		return nil, err
	}

	var out []Record
	for i := start; i < n; i++ {
		rec, err := j.readAt(i)
		if err != nil {
			return nil, err
		}
		if rec.Timestamp > to {
			break
		}
		out = append(out, rec)
	}
	return out, nil
}

func (j *Journal) Path() string {
	return j.path
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

// search returns the smallest index in [0, n) whose timestamp satisfies pred,
// or n. pred must be monotone over the journal.
func (j *Journal) search(n int64, pred func(int64) bool) (int64, error) {
	lo, hi := int64(0), n
	for lo < hi {
		mid := lo + (hi-lo)/2
		ts, err := j.timestampAt(mid)
		if err != nil {
			return 0, err
		}
		if pred(ts) {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo, nil
}

func (j *Journal) timestampAt(i int64) (int64, error) {
	var buf [TimestampSize]byte
	if _, err := j.file.ReadAt(buf[:], i*RecordSize); err != nil {
		return 0, fmt.Errorf("read binlog record %d: %w", i, err)
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}

func (j *Journal) readAt(i int64) (Record, error) {
	buf := make([]byte, RecordSize)
	if _, err := j.file.ReadAt(buf, i*RecordSize); err != nil {
		return Record{}, fmt.Errorf("read binlog record %d: %w", i, err)
	}
	return DecodeRecord(buf)
}
