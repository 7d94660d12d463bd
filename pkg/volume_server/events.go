package volume_server

import (
	"context"
	"time"

	"github.com/rxanders35/fdfs/pkg/volume_server/binlog"
)

// Event describes a committed change. Observers see it after the file and
// its accounting record are on disk.
type Event struct {
	Op         binlog.Operation `json:"op"`
	Reference  string           `json:"reference"`
	Volume     string           `json:"volume"`
	Path       string           `json:"path"`
	Size       uint64           `json:"size"`
	CRC32      uint32           `json:"crc32"`
	VolumeUsed uint64           `json:"volume_used"`
	At         time.Time        `json:"at"`
}

type Observer interface {
	Observe(ctx context.Context, ev Event) error
}

type ObserverFunc func(ctx context.Context, ev Event) error

func (f ObserverFunc) Observe(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}
