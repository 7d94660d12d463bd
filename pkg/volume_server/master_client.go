package volume_server

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/rxanders35/fdfs/pkg/tracker"
)

// Tracker is the part of the master the node talks to.
type Tracker interface {
	Heartbeat(ctx context.Context, req tracker.HeartbeatRequest) error
}

type MasterClient struct {
	tracker  Tracker
	nodeID   uuid.UUID
	httpAddr string
	storage  StorageEngine
}

func NewMasterClient(t Tracker, nodeID uuid.UUID, httpAddr string, s StorageEngine) *MasterClient {
	return &MasterClient{
		tracker:  t,
		nodeID:   nodeID,
		httpAddr: httpAddr,
		storage:  s,
	}
}

// Heartbeat reports this node's volumes to the master once.
func (m *MasterClient) Heartbeat(ctx context.Context) error {
	vols := m.storage.Volumes()
	req := tracker.HeartbeatRequest{
		NodeID:   m.nodeID.String(),
		Group:    m.storage.Group(),
		HTTPAddr: m.httpAddr,
		Volumes:  make([]tracker.VolumeInfo, 0, len(vols)),
	}
	for _, v := range vols {
		req.Volumes = append(req.Volumes, tracker.VolumeInfo{
			Name:      v.Name,
			Weight:    v.Weight,
			ReadWrite: v.ReadWrite,
			Used:      v.Used,
			Capacity:  v.Capacity,
		})
	}
	return m.tracker.Heartbeat(ctx, req)
}

// Run sends a heartbeat immediately and then every interval until ctx is
// done. Failures are logged and retried on the next tick.
func (m *MasterClient) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	healthy := true
	for {
		err := m.Heartbeat(ctx)
		switch {
		case err != nil && healthy:
			log.Warn().Err(err).Msg("heartbeat to master failed")
			healthy = false
		case err == nil && !healthy:
			log.Info().Msg("heartbeat to master recovered")
			healthy = true
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
