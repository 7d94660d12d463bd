package volume_server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rxanders35/fdfs/pkg/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTracker struct {
	mu   sync.Mutex
	reqs []tracker.HeartbeatRequest
}

func (f *fakeTracker) Heartbeat(_ context.Context, req tracker.HeartbeatRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return nil
}

func (f *fakeTracker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func TestMasterClient_Heartbeat(t *testing.T) {
	cfg := testConfig(t, rw("vol0", 2), VolumeConfig{Name: "vol1", Weight: 4, Capacity: 100})
	r := newTestRegistry(t, cfg)
	_, err := r.Write(context.Background(), []byte("abc"), "")
	require.NoError(t, err)

	ft := &fakeTracker{}
	id := uuid.New()
	m := NewMasterClient(ft, id, "10.0.0.1:8080", r)
	require.NoError(t, m.Heartbeat(context.Background()))

	require.Len(t, ft.reqs, 1)
	req := ft.reqs[0]
	assert.Equal(t, id.String(), req.NodeID)
	assert.Equal(t, "group1", req.Group)
	assert.Equal(t, "10.0.0.1:8080", req.HTTPAddr)
	assert.Equal(t, []tracker.VolumeInfo{
		{Name: "vol0", Weight: 2, ReadWrite: true, Used: 3},
		{Name: "vol1", Weight: 4, ReadWrite: false, Capacity: 100},
	}, req.Volumes)
	assert.Equal(t, 2, req.Weight())
}

func TestMasterClient_Run(t *testing.T) {
	r := newTestRegistry(t, testConfig(t, rw("vol0", 1)))
	ft := &fakeTracker{}
	m := NewMasterClient(ft, uuid.New(), "x:1", r)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return ft.count() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
