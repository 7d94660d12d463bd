// Package config loads the volume server's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rxanders35/fdfs/pkg/volume_server"
	"github.com/rxanders35/fdfs/pkg/volume_server/layout"
	"gopkg.in/yaml.v3"
)

// ByteSize accepts either a plain integer or a human size such as "10GiB"
// or "500MB".
type ByteSize uint64

func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: size must be a scalar", value.Line)
	}
	n, err := humanize.ParseBytes(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid size %q: %w", value.Line, value.Value, err)
	}
	*b = ByteSize(n)
	return nil
}

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

type VolumeConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
	// ReadWrite defaults to true.
	ReadWrite *bool    `yaml:"read_write"`
	Capacity  ByteSize `yaml:"capacity"`
	Weight    int      `yaml:"weight"`
}

type VolumeServerConfig struct {
	Group  string `yaml:"group"`
	Host   string `yaml:"host"`
	Listen string `yaml:"listen"`

	DataDir     string `yaml:"data_dir"`
	ScratchDir  string `yaml:"scratch_dir"`
	JournalPath string `yaml:"journal_path"`
	IndexDir    string `yaml:"index_dir"`
	LedgerPath  string `yaml:"ledger_path"`

	Selector        string        `yaml:"selector"`
	EnforceCapacity bool          `yaml:"enforce_capacity"`
	SyncAppends     bool          `yaml:"sync_appends"`
	CompactInterval time.Duration `yaml:"compact_interval"`
	ScratchMaxAge   time.Duration `yaml:"scratch_max_age"`

	MasterAddr        string        `yaml:"master_addr"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	Volumes []VolumeConfig `yaml:"volumes"`
}

func LoadVolumeServerConfig(path string) (*VolumeServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &VolumeServerConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills every unset field. Paths default to locations under
// data_dir.
func (c *VolumeServerConfig) ApplyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	// Expand home directory in data dir
	if strings.HasPrefix(c.DataDir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			c.DataDir = filepath.Join(home, c.DataDir[2:])
		}
	}
	if c.ScratchDir == "" {
		c.ScratchDir = filepath.Join(c.DataDir, layout.ScratchDir)
	}
	if c.JournalPath == "" {
		c.JournalPath = filepath.Join(c.DataDir, layout.BinlogFile)
	}
	if c.IndexDir == "" {
		c.IndexDir = filepath.Join(c.DataDir, layout.IndexDir)
	}
	if c.LedgerPath == "" {
		c.LedgerPath = filepath.Join(c.DataDir, layout.LedgerFile)
	}
	if c.Selector == "" {
		c.Selector = volume_server.SelectorInterleaved
	}
	if c.CompactInterval == 0 {
		c.CompactInterval = 10 * time.Minute
	}
	if c.ScratchMaxAge == 0 {
		c.ScratchMaxAge = time.Hour
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 5 * time.Second
	}

	for i := range c.Volumes {
		v := &c.Volumes[i]
		if v.Path == "" && v.Name != "" {
			v.Path = filepath.Join(c.DataDir, v.Name)
		}
		if v.ReadWrite == nil {
			rw := true
			v.ReadWrite = &rw
		}
		if v.Weight == 0 {
			v.Weight = 1
		}
	}
}

func (c *VolumeServerConfig) Validate() error {
	if c.Group == "" {
		return errors.New("group is required")
	}
	if strings.Contains(c.Group, "/") {
		return fmt.Errorf("group %q must not contain '/'", c.Group)
	}
	switch c.Selector {
	case volume_server.SelectorInterleaved, volume_server.SelectorSmooth:
	default:
		return fmt.Errorf("unknown selector %q", c.Selector)
	}
	if len(c.Volumes) == 0 {
		return errors.New("at least one volume is required")
	}
	for _, d := range []struct {
		key string
		val time.Duration
	}{
		{"compact_interval", c.CompactInterval},
		{"scratch_max_age", c.ScratchMaxAge},
		{"heartbeat_interval", c.HeartbeatInterval},
	} {
		if d.val <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.key, d.val)
		}
	}

	seen := make(map[string]bool, len(c.Volumes))
	for i, v := range c.Volumes {
		if v.Name == "" {
			return fmt.Errorf("volumes[%d]: name is required", i)
		}
		if strings.ContainsAny(v.Name, "/\\") {
			return fmt.Errorf("volumes[%d]: name %q must not contain a path separator", i, v.Name)
		}
		if seen[v.Name] {
			return fmt.Errorf("volumes[%d]: duplicate name %q", i, v.Name)
		}
		seen[v.Name] = true
		if v.Weight < 0 {
			return fmt.Errorf("volume %q: weight must not be negative", v.Name)
		}
	}
	return nil
}

// RegistryConfig converts the file form into what volume_server.NewRegistry
// takes.
func (c *VolumeServerConfig) RegistryConfig() volume_server.RegistryConfig {
	vols := make([]volume_server.VolumeConfig, 0, len(c.Volumes))
	for _, v := range c.Volumes {
		vols = append(vols, volume_server.VolumeConfig{
			Name:      v.Name,
			Path:      v.Path,
			ReadWrite: v.ReadWrite == nil || *v.ReadWrite,
			Capacity:  uint64(v.Capacity),
			Weight:    v.Weight,
		})
	}
	return volume_server.RegistryConfig{
		Group:           c.Group,
		Host:            c.Host,
		ScratchDir:      c.ScratchDir,
		JournalPath:     c.JournalPath,
		Selector:        c.Selector,
		EnforceCapacity: c.EnforceCapacity,
		SyncAppends:     c.SyncAppends,
		Volumes:         vols,
	}
}
