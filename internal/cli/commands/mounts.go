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

	"github.com/spf13/cobra"

	"viewfs/internal/viewfs"
)

func newMountsCmd(opts *globalOptions) *cobra.Command {
	var children bool
	cmd := &cobra.Command{
		Use:   "mounts",
		Short: "List the mount points of the view",
		Long: `List the effective mount points: links from config.yaml merged with the
mount store. With --children, the backing filesystems are listed instead.

Examples:
  viewfs mounts
  viewfs mounts --children`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withView(cmd, func(ctx context.Context, v *viewfs.FileSystem) error {
				out := cmd.OutOrStdout()
				if children {
					fss, err := v.GetChildFileSystems(ctx)
					if err != nil {
						return err
					}
					for _, fs := range fss {
						fmt.Fprintln(out, fs.URI())
					}
					return nil
				}

				mounts := v.GetMountPoints()
				if fb := v.Tree().Fallback(); fb != nil {
					defer fmt.Fprintf(out, "  (fallback) -> %s\n", strings.Join(fb.Targets(), ", "))
				}
				if len(mounts) == 0 {
					fmt.Fprintln(out, "No mount points")
					return nil
				}
				fmt.Fprintf(out, "Mount points (%d):\n", len(mounts))
				for _, m := range mounts {
					if m.MergeSettings != "" || len(m.Targets) > 1 {
						fmt.Fprintf(out, "  %s -> %s [nfly %s]\n", m.Source, strings.Join(m.Targets, ", "), m.MergeSettings)
						continue
					}
					fmt.Fprintf(out, "  %s -> %s\n", m.Source, strings.Join(m.Targets, ", "))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&children, "children", false, "List backing filesystems")
	return cmd
}
