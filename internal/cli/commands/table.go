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
	"strings"
	"time"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"viewfs/internal/config"
	"viewfs/internal/nfly"
	"viewfs/internal/storage"
	"viewfs/internal/viewfs"
)

const (
	// lockTimeout bounds the wait for another process editing the store
	lockTimeout    = 10 * time.Second
	lockRetryDelay = 50 * time.Millisecond

	// configKeyUpdatedAt records the last change to the mount store
	configKeyUpdatedAt = "updated_at"
)

func newTableCmd(opts *globalOptions) *cobra.Command {
	tableCmd := &cobra.Command{
		Use:   "table",
		Short: "Manage mount points in the mount store",
		Long: `Manage mount points kept in the mount store. Stored mount points are merged
with the links of config.yaml; a stored mount point replaces a configured link
with the same source, and a stored "/" replaces the fallback.`,
	}

	var nflySettings string
	addCmd := &cobra.Command{
		Use:   "add <source> <target>...",
		Short: "Add or replace a mount point",
		Long: `Add a mount point, replacing any stored one with the same source. Two or more
targets make a replicated mount whose nfly settings are given with --nfly;
without the flag every target is a write target.

Examples:
  viewfs table add /data file:///srv/data
  viewfs table add /shared mem://a/shared mem://b/shared --nfly writeTargets=0:1,minReplication=1
  viewfs table add / file:///srv/fallback`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec := storage.MountRecord{Source: args[0], Targets: args[1:], Nfly: nflySettings}
			if len(rec.Targets) > 1 && rec.Nfly == "" {
				rec.Nfly = nfly.DefaultSettings(len(rec.Targets))
			}
			if len(rec.Targets) > 1 {
				if _, err := nfly.ParseSettings(rec.Nfly, len(rec.Targets)); err != nil {
					return fmt.Errorf("mount point %s rejected: %w", rec.Source, err)
				}
			}
			return opts.withStore(cmd, func(ctx context.Context, store *storage.MountStore) error {
				if err := opts.checkTable(ctx, store, rec); err != nil {
					return err
				}
				if err := store.AddMount(ctx, rec); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Mounted %s -> %s\n", args[0], strings.Join(rec.Targets, ", "))
				touchStore(ctx, store)
				return nil
			})
		},
	}
	addCmd.Flags().StringVar(&nflySettings, "nfly", "", "Settings of a replicated mount, e.g. writeTargets=0:1,minReplication=1,readMostRecent=true")

	rmCmd := &cobra.Command{
		Use:     "rm <source>",
		Aliases: []string{"remove"},
		Short:   "Remove a stored mount point",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd, func(ctx context.Context, store *storage.MountStore) error {
				if err := store.RemoveMount(ctx, args[0]); err != nil {
					if storage.IsMountNotFound(err) {
						return fmt.Errorf("no stored mount point at %s", args[0])
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
				touchStore(ctx, store)
				return nil
			})
		},
	}

	lsCmd := &cobra.Command{
		Use:   "ls",
		Short: "List stored mount points",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			mounts, err := opts.storedMounts(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(mounts) == 0 {
				fmt.Fprintln(out, "No stored mount points")
				return nil
			}
			fmt.Fprintf(out, "Stored mount points (%d):\n", len(mounts))
			for _, m := range mounts {
				line := fmt.Sprintf("  %s -> %s", m.Source, strings.Join(m.Targets, ", "))
				if m.Nfly != "" {
					line += " [nfly " + m.Nfly + "]"
				}
				fmt.Fprintf(out, "%s (added %s)\n", line, m.CreatedAt.Local().Format("2006-01-02 15:04"))
			}
			return nil
		},
	}

	tableCmd.AddCommand(addCmd, rmCmd, lsCmd)
	return tableCmd
}

// withStore opens the mount store under the mount lock so concurrent
// edits from other processes are serialized
func (o *globalOptions) withStore(cmd *cobra.Command, fn func(ctx context.Context, store *storage.MountStore) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := config.EnsureConfigDir(); err != nil {
		return err
	}

	lock := flock.New(config.LockPath())
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	locked, err := lock.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("mount store is locked by another process")
	}
	defer lock.Unlock()

	store, err := o.openStore()
	if err != nil {
		return fmt.Errorf("failed to open mount store: %w", err)
	}
	defer store.Close()
	return fn(ctx, store)
}

// checkTable builds the mount table that would result from adding rec, so
// a conflicting mount point is rejected before it is stored
func (o *globalOptions) checkTable(ctx context.Context, store *storage.MountStore, rec storage.MountRecord) error {
	stored, err := store.ListMounts(ctx)
	if err != nil {
		return err
	}
	vc, err := o.cfg.ViewConfig(append(stored, rec))
	if err != nil {
		return err
	}
	v, err := viewfs.New(ctx, vc)
	if err != nil {
		return fmt.Errorf("mount point %s rejected: %w", rec.Source, err)
	}
	return v.Close()
}

func touchStore(ctx context.Context, store *storage.MountStore) {
	if err := store.SetConfig(ctx, configKeyUpdatedAt, time.Now().UTC().Format(time.RFC3339)); err != nil {
		log.Warnf("[Store] failed to record update time: %v", err)
	}
}
