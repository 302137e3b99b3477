package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultDatabase is where scan journals are kept unless configured
const DefaultDatabase = "/var/lib/raidview/journal.db"

type Config struct {
	// Discovery mode: "auto", "host" or "images"
	Discovery string   `yaml:"discovery,omitempty"`
	Images    []string `yaml:"images,omitempty"`
	Log       Log      `yaml:"log"`
	// Database is the journal path; an explicit empty string disables it
	Database *string  `yaml:"database,omitempty"`
	Recovery Recovery `yaml:"recovery"`
	Arrays   []Array  `yaml:"arrays,omitempty"`
}

type Log struct {
	// Location is "stderr" or a file path
	Location string `yaml:"location,omitempty"`
	Level    string `yaml:"level,omitempty"`
}

type Recovery struct {
	RAID5 *bool `yaml:"raid5,omitempty"`
	RAID6 *bool `yaml:"raid6,omitempty"`
}

// Array declares a static array by its member devices
type Array struct {
	Name string `yaml:"name"`
	UUID string `yaml:"uuid,omitempty"`
	// Level is one of linear, raid0, raid1, raid4, raid5, raid6, raid10
	Level  string `yaml:"level"`
	Layout string `yaml:"layout,omitempty"`
	// ChunkSectors is the stripe unit in 512-byte sectors
	ChunkSectors  uint64   `yaml:"chunk_sectors,omitempty"`
	MemberSectors uint64   `yaml:"member_sectors"`
	DataOffset    uint64   `yaml:"data_offset,omitempty"`
	Members       []string `yaml:"members"`
}

// defaultConfig scans host disks with both recovery hooks enabled
var defaultConfig = Config{
	Discovery: ModeAuto,
	Log: Log{
		Location: "stderr",
		Level:    "info",
	},
}

// Candidates lists the files Load tries when no path is given
func Candidates() []string {
	return []string{
		"/etc/raidview/config.yaml",
		filepath.Join(os.Getenv("HOME"), ".config/raidview/config.yaml"),
		"config.yaml",
	}
}

func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		for _, c := range Candidates() {
			if _, err := os.Stat(c); err == nil {
				path = c
				break
			}
		}
	}

	cfg := defaultConfig
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", path, err)
			}
		case explicit || !errors.Is(err, os.ErrNotExist):
			return nil, err
		}
	}

	// Apply defaults for missing fields
	if cfg.Discovery == "" {
		cfg.Discovery = defaultConfig.Discovery
	}
	if cfg.Log.Location == "" {
		cfg.Log.Location = defaultConfig.Log.Location
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaultConfig.Log.Level
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the discovery mode and every array declaration
func (c *Config) Validate() error {
	switch c.Discovery {
	case ModeAuto, ModeHost, ModeImages:
	default:
		return fmt.Errorf("unknown discovery mode %q", c.Discovery)
	}

	names := map[string]bool{}
	for i, a := range c.Arrays {
		if a.Name == "" {
			return fmt.Errorf("array %d has no name", i)
		}
		if names[a.Name] {
			return fmt.Errorf("array %q declared twice", a.Name)
		}
		names[a.Name] = true
		if len(a.Members) == 0 {
			return fmt.Errorf("array %q has no members", a.Name)
		}
		if a.MemberSectors == 0 {
			return fmt.Errorf("array %q has no member_sectors", a.Name)
		}
	}
	return nil
}

// DatabasePath returns the journal location, or "" when recording is off
func (c *Config) DatabasePath() string {
	if c.Database == nil {
		return DefaultDatabase
	}
	return *c.Database
}

func (r Recovery) RAID5Enabled() bool {
	return r.RAID5 == nil || *r.RAID5
}

func (r Recovery) RAID6Enabled() bool {
	return r.RAID6 == nil || *r.RAID6
}
