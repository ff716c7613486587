// Copyright 2024 ViewFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the YAML configuration of a mount table from
// {config_dir}/config.yaml and turns it into a viewfs.Config.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"viewfs/internal/artifacts"
	"viewfs/internal/common"
	"viewfs/internal/mounttable"
	"viewfs/internal/nfly"
	"viewfs/internal/storage"
	"viewfs/internal/viewfs"
)

// Environment variables
const (
	// EnvConfigDir overrides the config directory (default ~/.viewfs)
	EnvConfigDir = "VIEWFS_CONFIG_DIR"
	// EnvLogLevel overrides log_level
	EnvLogLevel = "VIEWFS_LOG_LEVEL"
)

// getConfigDir is computed on every call so tests can isolate it through
// VIEWFS_CONFIG_DIR.
func getConfigDir() string {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".viewfs")
}

// ConfigDir returns the configuration directory path
func ConfigDir() string {
	return getConfigDir()
}

// ConfigPath returns the config file path
func ConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// LockPath returns the lock file guarding store mutations
func LockPath() string {
	return filepath.Join(getConfigDir(), "mounts.lock")
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir() error {
	return os.MkdirAll(getConfigDir(), 0700)
}

// InitConfigDir creates the config directory and writes the default config
// file if there is none
func InitConfigDir() error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	path := ConfigPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, artifacts.DefaultConfig, 0600); err != nil {
			return fmt.Errorf("failed to create default config: %w", err)
		}
	}
	return nil
}

// LinkConfig is one mount point
type LinkConfig struct {
	Source  string   `yaml:"source"`
	Targets []string `yaml:"targets"`
	Nfly    string   `yaml:"nfly,omitempty"` // merge settings; needs two or more targets
}

// MountTableConfig describes the links of the mount table
type MountTableConfig struct {
	Name          string       `yaml:"name"`
	HomeDirPrefix string       `yaml:"home_dir_prefix"`
	Links         []LinkConfig `yaml:"links"`
	Fallback      string       `yaml:"fallback"` // target URI for uncovered paths
}

// NFSConfig configures `viewfs serve --nfs`
type NFSConfig struct {
	Listen string `yaml:"listen"`
}

// Config is the content of config.yaml
type Config struct {
	MountTable                 MountTableConfig `yaml:"mount_table"`
	InnerCache                 *bool            `yaml:"inner_cache"` // default: true (pointer to detect missing)
	TrashForceInsideMountPoint bool             `yaml:"trash_force_inside_mount_point"`
	RenameStrategy             string           `yaml:"rename_strategy"`
	User                       string           `yaml:"user"`
	Group                      string           `yaml:"group"`
	LogLevel                   string           `yaml:"log_level"` // trace, debug, info, warn, error, off
	Store                      string           `yaml:"store"`     // relative paths are under the config dir
	BusyTimeout                int              `yaml:"busy_timeout"`
	NFS                        NFSConfig        `yaml:"nfs"`
}

// ApplyDefaults fills zero-value fields with their defaults.
func (cfg *Config) ApplyDefaults() {
	if cfg.MountTable.Name == "" {
		cfg.MountTable.Name = "default"
	}
	if cfg.MountTable.HomeDirPrefix == "" {
		cfg.MountTable.HomeDirPrefix = viewfs.DefaultHomeDirPrefix
	}
	if cfg.InnerCache == nil {
		t := true
		cfg.InnerCache = &t
	}
	if cfg.RenameStrategy == "" {
		cfg.RenameStrategy = string(viewfs.SameMountpoint)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "off"
	}
	if env := os.Getenv(EnvLogLevel); env != "" {
		cfg.LogLevel = env
	}
	if cfg.Store == "" {
		cfg.Store = "mounts.db"
	}
	if cfg.NFS.Listen == "" {
		cfg.NFS.Listen = "127.0.0.1:0"
	}
}

// InnerCacheEnabled returns whether links share backing handles (defaults to true).
func (cfg *Config) InnerCacheEnabled() bool {
	if cfg.InnerCache == nil {
		return true
	}
	return *cfg.InnerCache
}

// Validate checks the parts of the config that can be checked without
// building the mount table
func (cfg *Config) Validate() error {
	var result *multierror.Error
	if _, err := viewfs.ParseRenameStrategy(cfg.RenameStrategy); err != nil {
		result = multierror.Append(result, err)
	}
	if _, err := ParseLogLevel(cfg.LogLevel); err != nil {
		result = multierror.Append(result, err)
	}
	if !strings.HasPrefix(cfg.MountTable.HomeDirPrefix, "/") {
		result = multierror.Append(result, fmt.Errorf("home_dir_prefix %q is not absolute", cfg.MountTable.HomeDirPrefix))
	}
	seen := make(map[string]int)
	for i, l := range cfg.MountTable.Links {
		if !strings.HasPrefix(l.Source, "/") {
			result = multierror.Append(result, fmt.Errorf("links[%d]: source %q is not absolute", i, l.Source))
		}
		key := common.CleanPath(l.Source)
		if j, ok := seen[key]; ok {
			result = multierror.Append(result, fmt.Errorf("links[%d] %s: %w: duplicate of links[%d]", i, l.Source, common.ErrAmbiguousMount, j))
		} else {
			seen[key] = i
		}
		if key == common.Root && cfg.MountTable.Fallback != "" {
			result = multierror.Append(result, fmt.Errorf("links[%d] %s: %w: duplicate of fallback", i, l.Source, common.ErrAmbiguousMount))
		}
		if len(l.Targets) == 0 {
			result = multierror.Append(result, fmt.Errorf("links[%d] %s: no targets", i, l.Source))
		}
		if l.Nfly != "" && len(l.Targets) < 2 {
			result = multierror.Append(result, fmt.Errorf("links[%d] %s: nfly needs at least two targets", i, l.Source))
		} else if len(l.Targets) > 1 {
			if _, err := nfly.ParseSettings(l.Nfly, len(l.Targets)); err != nil {
				result = multierror.Append(result, fmt.Errorf("links[%d] %s: %w", i, l.Source, err))
			}
		}
		for _, t := range l.Targets {
			if err := checkTarget(t); err != nil {
				result = multierror.Append(result, fmt.Errorf("links[%d] %s: %w", i, l.Source, err))
			}
		}
	}
	if cfg.MountTable.Fallback != "" {
		if err := checkTarget(cfg.MountTable.Fallback); err != nil {
			result = multierror.Append(result, fmt.Errorf("fallback: %w", err))
		}
	}
	return result.ErrorOrNil()
}

func checkTarget(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme == "" {
		return fmt.Errorf("target %q has no scheme", raw)
	}
	return nil
}

// StorePath returns the absolute path of the mount table store
func (cfg *Config) StorePath() string {
	if filepath.IsAbs(cfg.Store) {
		return cfg.Store
	}
	return filepath.Join(getConfigDir(), cfg.Store)
}

// Parse decodes, defaults and validates a config document
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromPath loads a config file. A missing file yields the embedded
// default configuration.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default()
	}
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Load loads {config_dir}/config.yaml
func Load() (*Config, error) {
	return LoadFromPath(ConfigPath())
}

// Default returns the embedded default configuration
func Default() (*Config, error) {
	return Parse(artifacts.DefaultConfig)
}

// Save writes cfg to {config_dir}/config.yaml
func Save(cfg *Config) error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	header := []byte("# ViewFS configuration\n# See: viewfs --help\n\n")
	return os.WriteFile(ConfigPath(), append(header, data...), 0600)
}

// ViewConfig builds the façade configuration. Stored mounts are added on
// top of the configured links; a stored mount replaces a configured link
// with the same source, and a stored "/" replaces the fallback.
func (cfg *Config) ViewConfig(stored []storage.MountRecord) (viewfs.Config, error) {
	strategy, err := viewfs.ParseRenameStrategy(cfg.RenameStrategy)
	if err != nil {
		return viewfs.Config{}, err
	}

	bySource := make(map[string]mounttable.MountEntry)
	var order []string
	put := func(e mounttable.MountEntry) {
		key := common.CleanPath(e.Source)
		if e.IsFallback() {
			key = common.Root
		}
		if _, ok := bySource[key]; !ok {
			order = append(order, key)
		}
		bySource[key] = e
	}

	for _, l := range cfg.MountTable.Links {
		put(mounttable.MountEntry{Source: l.Source, Targets: l.Targets, MergeSettings: l.Nfly})
	}
	if cfg.MountTable.Fallback != "" {
		put(mounttable.MountEntry{Source: common.Root, Targets: []string{cfg.MountTable.Fallback}})
	}
	for _, r := range stored {
		put(mounttable.MountEntry{Source: r.Source, Targets: r.Targets, MergeSettings: r.Nfly})
	}

	links := make([]mounttable.MountEntry, 0, len(order))
	for _, key := range order {
		links = append(links, bySource[key])
	}

	return viewfs.Config{
		Name:                       cfg.MountTable.Name,
		HomeDirPrefix:              cfg.MountTable.HomeDirPrefix,
		Links:                      links,
		DisableInnerCache:          !cfg.InnerCacheEnabled(),
		TrashForceInsideMountPoint: cfg.TrashForceInsideMountPoint,
		RenameStrategy:             strategy,
		User:                       cfg.User,
		Group:                      cfg.Group,
	}, nil
}
