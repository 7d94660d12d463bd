package volume_server

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/rxanders35/fdfs/pkg/volume_server/binlog"
	"github.com/rxanders35/fdfs/pkg/volume_server/dirsize"
	"github.com/rxanders35/fdfs/pkg/volume_server/fileref"
	"github.com/rxanders35/fdfs/pkg/volume_server/layout"
	"github.com/rxanders35/fdfs/pkg/volume_server/wrr"
)

const (
	SelectorInterleaved = "interleaved"
	SelectorSmooth      = "smooth"
)

type RegistryConfig struct {
	Group string
	// Host is embedded in every file id; defaults to the hostname.
	Host string
	// ScratchDir stages uploads before they are renamed into place. It must
	// be on the same filesystem as the volume roots.
	ScratchDir string
	// JournalPath enables the operation journal when set.
	JournalPath     string
	Selector        string
	EnforceCapacity bool
	SyncAppends     bool
	Volumes         []VolumeConfig
}

type RegistryOption func(*Registry)

func WithObserver(o Observer) RegistryOption {
	return func(r *Registry) {
		r.observers = append(r.observers, o)
	}
}

func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// Registry owns this node's volumes and runs the write and read protocols
// against them. Volumes sit in an arena indexed by position; the selector
// is built over the same slice.
type Registry struct {
	group      string
	host       string
	scratchDir string

	volumes  []*Volume
	byName   map[string]int
	selector wrr.Picker[*Volume]
	// Selections needed to visit every writable volume at least once.
	cycle int

	journal         *binlog.Journal
	observers       []Observer
	enforceCapacity bool
	now             func() time.Time
}

func NewRegistry(cfg RegistryConfig, opts ...RegistryOption) (*Registry, error) {
	if cfg.Group == "" || strings.Contains(cfg.Group, "/") {
		return nil, fmt.Errorf("invalid group name %q", cfg.Group)
	}
	if cfg.ScratchDir == "" {
		return nil, errors.New("scratch dir is required")
	}

	host := cfg.Host
	if host == "" {
		h, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("resolve hostname: %w", err)
		}
		host = h
	}

	r := &Registry{
		group: cfg.Group,
		// '_' separates file id fields.
		host:            strings.ReplaceAll(host, "_", "-"),
		scratchDir:      cfg.ScratchDir,
		byName:          make(map[string]int, len(cfg.Volumes)),
		enforceCapacity: cfg.EnforceCapacity,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := os.MkdirAll(cfg.ScratchDir, layout.DirPerm); err != nil {
		return nil, &IOError{Op: "mkdir", Path: cfg.ScratchDir, Err: err}
	}

	for _, vc := range cfg.Volumes {
		v, err := r.openVolume(vc, dirsize.WithSync(cfg.SyncAppends))
		if err != nil {
			r.Close()
			return nil, err
		}
		r.byName[v.Name] = len(r.volumes)
		r.volumes = append(r.volumes, v)
		r.cycle += v.Weight()
	}

	switch cfg.Selector {
	case "", SelectorInterleaved:
		r.selector = wrr.NewInterleaved(r.volumes)
	case SelectorSmooth:
		r.selector = wrr.NewSmooth(r.volumes)
	default:
		r.Close()
		return nil, fmt.Errorf("unknown selector %q", cfg.Selector)
	}

	if cfg.JournalPath != "" {
		j, err := binlog.Open(cfg.JournalPath)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.journal = j
	}

	return r, nil
}

func (r *Registry) openVolume(vc VolumeConfig, opts ...dirsize.Option) (*Volume, error) {
	if vc.Name == "" || strings.ContainsAny(vc.Name, "/\\") {
		return nil, fmt.Errorf("invalid volume name %q", vc.Name)
	}
	if _, dup := r.byName[vc.Name]; dup {
		return nil, fmt.Errorf("duplicate volume name %q", vc.Name)
	}
	if vc.Weight < 1 {
		return nil, fmt.Errorf("volume %q: weight must be at least 1, got %d", vc.Name, vc.Weight)
	}

	if err := os.MkdirAll(vc.Path, layout.DirPerm); err != nil {
		return nil, &IOError{Op: "mkdir", Path: vc.Path, Err: err}
	}

	size, err := dirsize.Open(layout.DirSizePath(vc.Path), opts...)
	if err != nil {
		return nil, fmt.Errorf("volume %q: %w", vc.Name, err)
	}

	return &Volume{
		Name:      vc.Name,
		Root:      vc.Path,
		ReadWrite: vc.ReadWrite,
		Capacity:  vc.Capacity,
		weight:    vc.Weight,
		size:      size,
	}, nil
}

func (r *Registry) Group() string {
	return r.group
}

// Write stores data and returns its reference.
//
// The payload is staged under the scratch dir and renamed into
// root/shard/shard/file_id.ext. Only after the rename does the volume's size
// log grow, then the directory is synced and the journal written. A crash
// between the rename and the size append leaves the volume undercounted.
func (r *Registry) Write(ctx context.Context, data []byte, ext string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ext, err := fileref.CleanExtension(ext)
	if err != nil {
		return "", err
	}

	size := uint64(len(data))
	crc := crc32.ChecksumIEEE(data)
	fileID := fileref.EncodeFileID(r.host, r.now().Unix(), size, crc, rand.Uint64())

	vol, err := r.pick(size)
	if err != nil {
		return "", err
	}

	shard := fileref.ShardFor(data)
	ref := fileref.Reference{
		Group:  r.group,
		Volume: vol.Name,
		Shard0: shard,
		Shard1: shard,
		FileID: fileID,
		Ext:    ext,
	}
	finalPath := ref.Path(vol.Root)

	if err := r.commit(ctx, data, fileID, finalPath); err != nil {
		return "", err
	}

	// The file is in place once renamed, so its bytes are counted even when
	// the directory sync below fails.
	if err := vol.size.Append(size); err != nil {
		return "", &IOError{Op: "account", Path: vol.size.Path(), Err: err}
	}
	if err := syncDir(filepath.Dir(finalPath)); err != nil {
		return "", &IOError{Op: "sync", Path: filepath.Dir(finalPath), Err: err}
	}

	refStr := ref.String()
	if err := r.journalAppend(finalPath, binlog.Create); err != nil {
		return "", err
	}

	r.notify(ctx, Event{
		Op:         binlog.Create,
		Reference:  refStr,
		Volume:     vol.Name,
		Path:       finalPath,
		Size:       size,
		CRC32:      crc,
		VolumeUsed: vol.Used(),
		At:         r.now(),
	})

	return refStr, nil
}

// pick asks the selector for a volume. With capacity enforcement on, full
// volumes are skipped for up to one full selection cycle.
func (r *Registry) pick(size uint64) (*Volume, error) {
	attempts := 1
	if r.enforceCapacity && r.cycle > 1 {
		attempts = r.cycle
	}

	for i := 0; i < attempts; i++ {
		v, err := r.selector.Next()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoWritableVolume, err)
		}
		if !r.enforceCapacity || v.hasRoomFor(size) {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: every volume is at capacity", ErrNoWritableVolume)
}

// commit stages data in the scratch dir and renames it to finalPath. A
// missing parent directory is created and the rename retried once. Any other
// rename failure is returned as is.
func (r *Registry) commit(ctx context.Context, data []byte, fileID, finalPath string) error {
	tmp := layout.ScratchPath(r.scratchDir, fileID)
	if err := writeScratch(tmp, data); err != nil {
		return &IOError{Op: "write", Path: tmp, Err: err}
	}

	if err := ctx.Err(); err != nil {
		removeScratch(tmp)
		return err
	}

	err := os.Rename(tmp, finalPath)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		dir := filepath.Dir(finalPath)
		if mkErr := os.MkdirAll(dir, layout.DirPerm); mkErr != nil {
			removeScratch(tmp)
			return &IOError{Op: "mkdir", Path: dir, Err: mkErr}
		}
		err = os.Rename(tmp, finalPath)
	}
	if err != nil {
		removeScratch(tmp)
		return &IOError{Op: "rename", Path: finalPath, Err: err}
	}

	return nil
}

// Read resolves a reference to the stored bytes, checking them against the
// length and crc32 recorded in the file id.
func (r *Registry) Read(ctx context.Context, reference string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ref, vol, err := r.resolve(reference)
	if err != nil {
		return nil, err
	}
	id, err := fileref.DecodeFileID(ref.FileID)
	if err != nil {
		return nil, err
	}

	path := ref.Path(vol.Root)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, reference)
		}
		return nil, &IOError{Op: "read", Path: path, Err: err}
	}

	if uint64(len(data)) != id.ByteLength || crc32.ChecksumIEEE(data) != id.CRC32 {
		return nil, fmt.Errorf("%w: %s", ErrCorrupt, reference)
	}
	return data, nil
}

// Delete removes a file. The size log only ever grows, so the volume keeps
// counting the deleted bytes.
func (r *Registry) Delete(ctx context.Context, reference string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ref, vol, err := r.resolve(reference)
	if err != nil {
		return err
	}
	if !vol.ReadWrite {
		return fmt.Errorf("%w: %s", ErrReadOnlyVolume, vol.Name)
	}

	path := ref.Path(vol.Root)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, reference)
		}
		return &IOError{Op: "remove", Path: path, Err: err}
	}

	if err := r.journalAppend(path, binlog.Delete); err != nil {
		return err
	}

	ev := Event{
		Op:         binlog.Delete,
		Reference:  reference,
		Volume:     vol.Name,
		Path:       path,
		VolumeUsed: vol.Used(),
		At:         r.now(),
	}
	if id, err := fileref.DecodeFileID(ref.FileID); err == nil {
		ev.Size, ev.CRC32 = id.ByteLength, id.CRC32
	}
	r.notify(ctx, ev)

	return nil
}

type FileStat struct {
	Reference fileref.Reference `json:"reference"`
	FileID    fileref.FileID    `json:"file_id"`
	Path      string            `json:"path"`
	Size      int64             `json:"size"`
	ModTime   time.Time         `json:"mod_time"`
}

func (r *Registry) Stat(reference string) (FileStat, error) {
	ref, vol, err := r.resolve(reference)
	if err != nil {
		return FileStat{}, err
	}
	id, err := fileref.DecodeFileID(ref.FileID)
	if err != nil {
		return FileStat{}, err
	}

	path := ref.Path(vol.Root)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return FileStat{}, fmt.Errorf("%w: %s", ErrNotFound, reference)
		}
		return FileStat{}, &IOError{Op: "stat", Path: path, Err: err}
	}

	return FileStat{
		Reference: ref,
		FileID:    id,
		Path:      path,
		Size:      info.Size(),
		ModTime:   info.ModTime(),
	}, nil
}

func (r *Registry) resolve(reference string) (fileref.Reference, *Volume, error) {
	ref, err := fileref.DecodeReference(reference)
	if err != nil {
		return fileref.Reference{}, nil, err
	}
	if ref.Group != r.group {
		return fileref.Reference{}, nil, fmt.Errorf("%w: group %q is not served here", ErrUnknownVolume, ref.Group)
	}
	idx, ok := r.byName[ref.Volume]
	if !ok {
		return fileref.Reference{}, nil, fmt.Errorf("%w: %q", ErrUnknownVolume, ref.Volume)
	}
	return ref, r.volumes[idx], nil
}

// Volume looks a volume up by name.
func (r *Registry) Volume(name string) (*Volume, bool) {
	idx, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return r.volumes[idx], true
}

func (r *Registry) Volumes() []VolumeStat {
	out := make([]VolumeStat, 0, len(r.volumes))
	for _, v := range r.volumes {
		out = append(out, v.Stat())
	}
	return out
}

// Journal is nil when the registry runs without one.
func (r *Registry) Journal() *binlog.Journal {
	return r.journal
}

// Compact folds every volume's size log into a single record.
func (r *Registry) Compact() error {
	var errs []error
	for _, v := range r.volumes {
		if err := v.size.Recompute(); err != nil {
			errs = append(errs, fmt.Errorf("volume %q: %w", v.Name, err))
		}
	}
	return errors.Join(errs...)
}

// RunCompactor compacts the size logs every interval until ctx is done.
func (r *Registry) RunCompactor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Compact(); err != nil {
				log.Error().Err(err).Msg("size log compaction failed")
				continue
			}
			log.Debug().Int("volumes", len(r.volumes)).Msg("size logs compacted")
		}
	}
}

// ReapScratch removes staged uploads older than maxAge, left behind by
// failed or cancelled writes. It returns how many files were removed.
func (r *Registry) ReapScratch(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(r.scratchDir)
	if err != nil {
		return 0, &IOError{Op: "readdir", Path: r.scratchDir, Err: err}
	}

	cutoff := r.now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), layout.ScratchSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(r.scratchDir, e.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Str("path", path).Msg("failed to reap scratch file")
			continue
		}
		removed++
	}

	if removed > 0 {
		log.Info().Int("removed", removed).Str("dir", r.scratchDir).Msg("reaped orphaned scratch files")
	}
	return removed, nil
}

func (r *Registry) Close() error {
	var errs []error
	for _, v := range r.volumes {
		errs = append(errs, v.size.Close())
	}
	if r.journal != nil {
		errs = append(errs, r.journal.Close())
	}
	return errors.Join(errs...)
}

func (r *Registry) journalAppend(path string, op binlog.Operation) error {
	if r.journal == nil {
		return nil
	}
	return r.journal.Append(r.now().UnixNano(), binlog.Tail(path), op)
}

func (r *Registry) notify(ctx context.Context, ev Event) {
	for _, o := range r.observers {
		if err := o.Observe(ctx, ev); err != nil {
			log.Warn().Err(err).
				Str("op", ev.Op.String()).
				Str("reference", ev.Reference).
				Msg("observer failed")
		}
	}
}

func writeScratch(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, layout.FilePerm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func removeScratch(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Str("path", path).Msg("failed to remove scratch file")
	}
}

// syncDir makes a rename into dir durable. Tests swap it out.
var syncDir = func(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
