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

package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"viewfs/internal/config"
	"viewfs/internal/storage"
	"viewfs/internal/viewfs"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// SetVersion sets the version info for --version flag
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
}

// getVersionString returns the version string with build info
func getVersionString() string {
	buildDate := formatBuildDate(date)
	if strings.HasSuffix(version, "-dev") {
		// Dev build: include epoch and commit for troubleshooting
		return fmt.Sprintf("%s (%s, epoch: %s, commit: %s)", version, buildDate, date, commit)
	}
	return fmt.Sprintf("%s (%s)", version, buildDate)
}

// formatBuildDate converts epoch timestamp to readable date
func formatBuildDate(epoch string) string {
	ts, err := strconv.ParseInt(epoch, 10, 64)
	if err != nil {
		return epoch
	}
	return time.Unix(ts, 0).Format("2006-01-02")
}

// globalOptions holds the persistent flags and the loaded config shared by
// every subcommand
type globalOptions struct {
	configPath string
	logLevel   string

	cfg *config.Config
}

// NewRootCommand builds the command tree. Each call returns fresh commands
// with their own flag state.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "viewfs",
		Short: "Unified namespace over several filesystems",
		Long: `Present several filesystems as one namespace through a client-side mount table.

Every path is resolved against the mount table: the longest configured mount
point that prefixes it selects the backing filesystem, the rest of the path is
forwarded to it. Directories above mount points are synthesized and read-only.

Mount points come from config.yaml and from the mount store managed with
"viewfs table".`,
		Version:       getVersionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip initialization for help commands
			if cmd.Name() == "help" {
				return nil
			}
			return opts.load()
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate("viewfs version {{.Version}}\n")

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file (default: $VIEWFS_CONFIG_DIR/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error, off")

	rootCmd.AddCommand(
		newMountsCmd(opts),
		newResolveCmd(opts),
		newLsCmd(opts),
		newStatCmd(opts),
		newCatCmd(opts),
		newPutCmd(opts),
		newMkdirCmd(opts),
		newRmCmd(opts),
		newMvCmd(opts),
		newDuCmd(opts),
		newChecksumCmd(opts),
		newTrashCmd(opts),
		newTableCmd(opts),
		newServeCmd(opts),
	)
	return rootCmd
}

// Execute runs the root command
func Execute() error {
	return NewRootCommand().Execute()
}

func (o *globalOptions) load() error {
	path := o.configPath
	if path == "" {
		if err := config.InitConfigDir(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		path = config.ConfigPath()
	}

	cfg, err := config.LoadFromPath(path)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if err := config.ConfigureLogging(cfg.LogLevel); err != nil {
		return err
	}
	o.cfg = cfg
	return nil
}

// openStore opens the mount store, creating it on first use
func (o *globalOptions) openStore() (*storage.MountStore, error) {
	if err := config.EnsureConfigDir(); err != nil {
		return nil, err
	}
	return storage.OpenOrCreate(o.cfg.StorePath(), o.cfg.BusyTimeout)
}

// storedMounts reads the mount store. A store that was never created has no
// mounts.
func (o *globalOptions) storedMounts(ctx context.Context) ([]storage.MountRecord, error) {
	if _, err := os.Stat(o.cfg.StorePath()); os.IsNotExist(err) {
		return nil, nil
	}
	store, err := storage.Open(o.cfg.StorePath(), o.cfg.BusyTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open mount store: %w", err)
	}
	defer store.Close()
	return store.ListMounts(ctx)
}

// openView builds the unified view from config.yaml and the mount store
func (o *globalOptions) openView(ctx context.Context) (*viewfs.FileSystem, error) {
	stored, err := o.storedMounts(ctx)
	if err != nil {
		return nil, err
	}
	vc, err := o.cfg.ViewConfig(stored)
	if err != nil {
		return nil, err
	}
	v, err := viewfs.New(ctx, vc)
	if err != nil {
		return nil, fmt.Errorf("failed to build mount table: %w", err)
	}
	log.Debugf("[CLI] mount table %q with %d mount points", vc.Name, len(v.GetMountPoints()))
	return v, nil
}

// withView runs fn against a freshly built view and closes it afterwards
func (o *globalOptions) withView(cmd *cobra.Command, fn func(ctx context.Context, v *viewfs.FileSystem) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	v, err := o.openView(ctx)
	if err != nil {
		return err
	}
	defer v.Close()
	return fn(ctx, v)
}
