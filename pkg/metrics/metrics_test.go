package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rxanders35/fdfs/pkg/volume_server"
	"github.com/rxanders35/fdfs/pkg/volume_server/binlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	m := New(prometheus.NewRegistry())
	ctx := context.Background()

	require.NoError(t, m.Observe(ctx, volume_server.Event{Op: binlog.Create, Volume: "vol0", Size: 10, VolumeUsed: 10}))
	require.NoError(t, m.Observe(ctx, volume_server.Event{Op: binlog.Create, Volume: "vol0", Size: 5, VolumeUsed: 15}))
	require.NoError(t, m.Observe(ctx, volume_server.Event{Op: binlog.Delete, Volume: "vol0", Size: 5, VolumeUsed: 15}))

	assert.Equal(t, float64(15), testutil.ToFloat64(m.BytesWritten))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.FilesCreated.WithLabelValues("vol0")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FilesDeleted.WithLabelValues("vol0")))
	assert.Equal(t, float64(15), testutil.ToFloat64(m.VolumeUsed.WithLabelValues("vol0")))
}

func TestSetVolumesAndRequests(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SetVolumes([]volume_server.VolumeStat{
		{Name: "a", Used: 100, Capacity: 1000},
		{Name: "b", Used: 7},
	})
	m.RecordRequest("write", "201", 0.01)
	m.RecordRead(42)

	assert.Equal(t, float64(100), testutil.ToFloat64(m.VolumeUsed.WithLabelValues("a")))
	assert.Equal(t, float64(1000), testutil.ToFloat64(m.VolumeCapacity.WithLabelValues("a")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.VolumeCapacity.WithLabelValues("b")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RequestsTotal.WithLabelValues("write", "201")))
	assert.Equal(t, float64(42), testutil.ToFloat64(m.BytesRead))
}
