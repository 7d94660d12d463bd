package volume_server

import (
	"context"
)

// StorageEngine is what the HTTP layer serves. *Registry implements it.
type StorageEngine interface {
	Group() string
	Write(ctx context.Context, data []byte, ext string) (string, error)
	Read(ctx context.Context, reference string) ([]byte, error)
	Delete(ctx context.Context, reference string) error
	Stat(reference string) (FileStat, error)
	Volumes() []VolumeStat
}

// IndexLister lists indexed references by prefix.
type IndexLister interface {
	List(prefix string, limit int) ([]Event, error)
}

// LedgerLister lists recorded events for a volume, newest first.
type LedgerLister interface {
	List(ctx context.Context, volume string, limit int) ([]Event, error)
}

type RequestRecorder interface {
	RecordRequest(operation, status string, durationSeconds float64)
	RecordRead(bytes int)
}

var _ StorageEngine = (*Registry)(nil)
