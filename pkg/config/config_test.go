package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rxanders35/fdfs/pkg/volume_server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "volume.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadVolumeServerConfig(t *testing.T) {
	content := `
group: group1
host: 10.0.0.5
listen: ":9000"
data_dir: /srv/fdfs
selector: smooth
enforce_capacity: true
compact_interval: 30s
master_addr: "master:9090"
volumes:
  - name: vol0
    path: /mnt/disk0
    capacity: 10GiB
    weight: 3
  - name: vol1
    capacity: 500MB
    read_write: false
  - name: vol2
    capacity: 1024
`
	cfg, err := LoadVolumeServerConfig(writeConfig(t, content))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "group1", cfg.Group)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, volume_server.SelectorSmooth, cfg.Selector)
	assert.True(t, cfg.EnforceCapacity)
	assert.Equal(t, 30*time.Second, cfg.CompactInterval)
	assert.Equal(t, "master:9090", cfg.MasterAddr)

	require.Len(t, cfg.Volumes, 3)
	assert.Equal(t, ByteSize(10<<30), cfg.Volumes[0].Capacity)
	assert.Equal(t, ByteSize(500_000_000), cfg.Volumes[1].Capacity)
	assert.Equal(t, ByteSize(1024), cfg.Volumes[2].Capacity)
	assert.Equal(t, filepath.Join("/srv/fdfs", "vol1"), cfg.Volumes[1].Path)

	rc := cfg.RegistryConfig()
	assert.Equal(t, "group1", rc.Group)
	assert.Equal(t, "10.0.0.5", rc.Host)
	assert.Equal(t, filepath.Join("/srv/fdfs", "tmp"), rc.ScratchDir)
	assert.Equal(t, filepath.Join("/srv/fdfs", "binlog.dat"), rc.JournalPath)
	assert.True(t, rc.EnforceCapacity)
	assert.Equal(t, volume_server.VolumeConfig{
		Name: "vol0", Path: "/mnt/disk0", ReadWrite: true, Capacity: 10 << 30, Weight: 3,
	}, rc.Volumes[0])
	assert.False(t, rc.Volumes[1].ReadWrite)
	assert.Equal(t, 1, rc.Volumes[1].Weight)
}

func TestLoadVolumeServerConfig_Defaults(t *testing.T) {
	cfg, err := LoadVolumeServerConfig(writeConfig(t, "group: g\nvolumes:\n  - name: vol0\n"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, filepath.Join("data", "index"), filepath.Clean(cfg.IndexDir))
	assert.Equal(t, filepath.Join("data", "ledger.db"), filepath.Clean(cfg.LedgerPath))
	assert.Equal(t, volume_server.SelectorInterleaved, cfg.Selector)
	assert.Equal(t, 10*time.Minute, cfg.CompactInterval)
	assert.Equal(t, time.Hour, cfg.ScratchMaxAge)
	assert.Equal(t, 5*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 1, cfg.Volumes[0].Weight)
	require.NotNil(t, cfg.Volumes[0].ReadWrite)
	assert.True(t, *cfg.Volumes[0].ReadWrite)
}

func TestLoadVolumeServerConfig_Errors(t *testing.T) {
	_, err := LoadVolumeServerConfig("/nonexistent/path/config.yaml")
	assert.Error(t, err)

	_, err = LoadVolumeServerConfig(writeConfig(t, "group: g\nvolumes:\n  - name: v\n    capacity: lots\n"))
	assert.ErrorContains(t, err, "invalid size")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"missing group", "volumes:\n  - name: v\n", "group is required"},
		{"slash in group", "group: a/b\nvolumes:\n  - name: v\n", "must not contain"},
		{"no volumes", "group: g\n", "at least one volume"},
		{"empty volume name", "group: g\nvolumes:\n  - path: /x\n", "name is required"},
		{"duplicate volume", "group: g\nvolumes:\n  - name: v\n  - name: v\n", "duplicate"},
		{"negative weight", "group: g\nvolumes:\n  - name: v\n    weight: -2\n", "negative"},
		{"bad selector", "group: g\nselector: random\nvolumes:\n  - name: v\n", "unknown selector"},
		{"negative compact interval", "group: g\ncompact_interval: -5s\nvolumes:\n  - name: v\n", "compact_interval must be positive"},
		{"negative scratch age", "group: g\nscratch_max_age: -1m\nvolumes:\n  - name: v\n", "scratch_max_age must be positive"},
		{"negative heartbeat", "group: g\nheartbeat_interval: -1s\nvolumes:\n  - name: v\n", "heartbeat_interval must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadVolumeServerConfig(writeConfig(t, tt.content))
			require.NoError(t, err)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}
