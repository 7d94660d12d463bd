package binlog

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "binlog.dat"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordEncoding(t *testing.T) {
	rec := Record{Timestamp: -5, Path: "/data/vol0/1A/1A/abc.jpg", Op: Delete}

	buf, err := rec.Encode()
	require.NoError(t, err)
	assert.Len(t, buf, 75)

	got, err := DecodeRecord(buf[:])
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestRecordOverflow(t *testing.T) {
	j := openTestJournal(t)

	fits := strings.Repeat("p", PayloadSize-1)
	require.NoError(t, j.Append(1, fits, Create))

	err := j.Append(2, fits+"x", Create)
	assert.ErrorIs(t, err, ErrRecordOverflow)

	n, err := j.Len()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestInvalidRecords(t *testing.T) {
	j := openTestJournal(t)

	assert.ErrorIs(t, j.Append(1, "a", Operation('X')), ErrInvalidRecord)
	assert.ErrorIs(t, j.Append(1, "a\x00b", Create), ErrInvalidRecord)

	_, err := DecodeRecord(make([]byte, RecordSize))
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestFind(t *testing.T) {
	j := openTestJournal(t)

	_, ok, err := j.Find(100)
	require.NoError(t, err)
	assert.False(t, ok, "empty journal")

	for _, ts := range []int64{10, 20, 20, 30, 40} {
		require.NoError(t, j.Append(ts, "/p", Create))
	}
	require.NoError(t, j.Append(50, "/last", Update))

	tests := []struct {
		name   string
		query  int64
		wantOK bool
		wantTS int64
	}{
		{"before all", 5, false, 0},
		{"exact first", 10, true, 10},
		{"between", 25, true, 20},
		{"exact duplicate", 20, true, 20},
		{"exact last", 50, true, 50},
		{"after all", 1000, true, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok, err := j.Find(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantTS, rec.Timestamp)
			}
		})
	}

	rec, ok, err := j.Find(55)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Record{Timestamp: 50, Path: "/last", Op: Update}, rec)
}

func TestRange(t *testing.T) {
	j := openTestJournal(t)
	for ts := int64(1); ts <= 10; ts++ {
		require.NoError(t, j.Append(ts*10, "/p", Create))
	}

	recs, err := j.Range(25, 60)
	require.NoError(t, err)
	var got []int64
	for _, r := range recs {
		got = append(got, r.Timestamp)
	}
	assert.Equal(t, []int64{30, 40, 50, 60}, got)

	recs, err = j.Range(200, 300)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestReopenTrimsTornRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "binlog.dat")

	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Append(1, "/a", Create))
	require.NoError(t, j.Close())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0, 0, 0})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()
	require.NoError(t, j.Append(2, "/b", Delete))

	rec, ok, err := j.Find(2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Record{Timestamp: 2, Path: "/b", Op: Delete}, rec)
}

func TestConcurrentAppendAndFind(t *testing.T) {
	j := openTestJournal(t)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if err := j.Append(7, "/same/ts", Create); err != nil {
					t.Error(err)
				}
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if _, _, err := j.Find(7); err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()

	n, err := j.Len()
	require.NoError(t, err)
	assert.Equal(t, int64(400), n)
}

func TestTimestampsNeverDecrease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "binlog.dat")

	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Append(10, "/a", Create))
	require.NoError(t, j.Append(5, "/b", Create))
	require.NoError(t, j.Close())

	// The floor survives a reopen.
	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()
	require.NoError(t, j.Append(3, "/c", Delete))

	_, ok, err := j.Find(7)
	require.NoError(t, err)
	assert.False(t, ok)

	recs, err := j.Range(10, 10)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "/c", recs[2].Path)
}

func TestTail(t *testing.T) {
	assert.Equal(t, "/short", Tail("/short"))

	long := "/data/" + strings.Repeat("x", 100) + "/file.jpg"
	got := Tail(long)
	assert.Len(t, got, PayloadSize-1)
	assert.True(t, strings.HasSuffix(long, got))

	multi := strings.Repeat("é", 40) // 80 bytes
	got = Tail(multi)
	assert.LessOrEqual(t, len(got), PayloadSize-1)
	assert.Equal(t, strings.Repeat("é", 33), got)

	j := openTestJournal(t)
	require.NoError(t, j.Append(1, Tail(long), Create))
}

var errDiskFull = errors.New("no space left on device")

// shortFile lands only limit bytes of the next Write before failing.
type shortFile struct {
	*os.File
	limit int
	fail  bool
}

func (f *shortFile) Write(p []byte) (int, error) {
	if !f.fail {
		return f.File.Write(p)
	}
	f.fail = false
	n, err := f.File.Write(p[:f.limit])
	if err != nil {
		return n, err
	}
	return n, errDiskFull
}

func TestShortWriteRolledBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "binlog.dat")

	j, err := Open(path)
	require.NoError(t, err)
	sf := &shortFile{File: j.file.(*os.File), limit: 30}
	j.file = sf

	require.NoError(t, j.Append(10, "/a", Create))
	sf.fail = true
	require.ErrorIs(t, j.Append(20, "/b", Update), errDiskFull)

	n, err := j.Len()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, j.Append(30, "/c", Delete))
	require.NoError(t, j.Append(40, "/d", Create))
	require.NoError(t, j.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(3*RecordSize), info.Size())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()

	recs, err := j.Range(0, 100)
	require.NoError(t, err)
	assert.Equal(t, []Record{
		{Timestamp: 10, Path: "/a", Op: Create},
		{Timestamp: 30, Path: "/c", Op: Delete},
		{Timestamp: 40, Path: "/d", Op: Create},
	}, recs)
}
