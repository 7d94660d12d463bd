package ledger

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rxanders35/fdfs/pkg/volume_server"
	"github.com/rxanders35/fdfs/pkg/volume_server/binlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := NewLedger(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLedger_RecordAndList(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	at := time.Unix(1700000000, 123).UTC()

	for i := 0; i < 5; i++ {
		vol := "vol0"
		if i%2 == 1 {
			vol = "vol1"
		}
		require.NoError(t, l.Observe(ctx, volume_server.Event{
			Op:         binlog.Create,
			Reference:  fmt.Sprintf("g/%s/00/00/f%d", vol, i),
			Volume:     vol,
			Path:       "/data/" + vol,
			Size:       uint64(i + 1),
			CRC32:      0xffffffff,
			VolumeUsed: uint64(10 * i),
			At:         at,
		}))
	}

	all, err := l.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "g/vol0/00/00/f4", all[0].Reference, "newest first")
	assert.Equal(t, uint32(0xffffffff), all[0].CRC32)
	assert.Equal(t, at, all[0].At)
	assert.Equal(t, binlog.Create, all[0].Op)

	vol1, err := l.List(ctx, "vol1", 0)
	require.NoError(t, err)
	require.Len(t, vol1, 2)
	for _, ev := range vol1 {
		assert.Equal(t, "vol1", ev.Volume)
	}

	limited, err := l.List(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestLedger_History(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	ref := "g/vol0/0B/0B/x/txt"

	require.NoError(t, l.Record(ctx, volume_server.Event{Op: binlog.Create, Reference: ref, Volume: "vol0", Size: 4, At: time.Now()}))
	require.NoError(t, l.Record(ctx, volume_server.Event{Op: binlog.Create, Reference: "other", Volume: "vol0", At: time.Now()}))
	require.NoError(t, l.Record(ctx, volume_server.Event{Op: binlog.Delete, Reference: ref, Volume: "vol0", Size: 4, At: time.Now()}))

	hist, err := l.History(ctx, ref)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, binlog.Create, hist[0].Op)
	assert.Equal(t, binlog.Delete, hist[1].Op)
}

func TestLedger_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	l, err := NewLedger(path)
	require.NoError(t, err)
	require.NoError(t, l.Record(ctx, volume_server.Event{Op: binlog.Create, Reference: "r", Volume: "v", At: time.Now()}))
	require.NoError(t, l.Close())

	l, err = NewLedger(path)
	require.NoError(t, err)
	defer l.Close()

	evs, err := l.List(ctx, "v", 10)
	require.NoError(t, err)
	assert.Len(t, evs, 1)
}
