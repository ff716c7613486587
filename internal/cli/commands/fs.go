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
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"viewfs/internal/common"
	"viewfs/internal/fsys"
	"viewfs/internal/viewfs"
)

func newResolveCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <path>...",
		Short: "Print the backing location of paths",
		Long: `Resolve paths through the mount table and print the fully qualified
location in the backing filesystem. Paths inside synthesized directories
resolve to themselves.

Examples:
  viewfs resolve /data/reports/q1.csv
  viewfs resolve /user/alice /tmp`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withView(cmd, func(ctx context.Context, v *viewfs.FileSystem) error {
				for _, p := range args {
					resolved, err := v.ResolvePath(ctx, p)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", common.CleanPath(p), resolved)
				}
				return nil
			})
		},
	}
}

func newLsCmd(opts *globalOptions) *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List a directory",
		Long: `List the entries of a directory. At the top of the namespace mount points are
listed as links to their targets.

Examples:
  viewfs ls
  viewfs ls -l /data`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := common.Root
			if len(args) == 1 {
				p = args[0]
			}
			return opts.withView(cmd, func(ctx context.Context, v *viewfs.FileSystem) error {
				list, err := v.ListStatus(ctx, p)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, st := range list {
					name := entryName(st)
					if !long {
						fmt.Fprintln(out, name)
						continue
					}
					fmt.Fprintln(out, formatLong(st, name))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&long, "long", "l", false, "Show mode, owner, size and time")
	return cmd
}

func newStatCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Show the status of a path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withView(cmd, func(ctx context.Context, v *viewfs.FileSystem) error {
				st, err := v.GetFileStatus(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Path:        %s\n", st.Path)
				fmt.Fprintf(out, "Type:        %s\n", entryType(st))
				if st.IsSymlink {
					fmt.Fprintf(out, "Target:      %s\n", st.SymlinkTarget)
				}
				fmt.Fprintf(out, "Size:        %d\n", st.Length)
				fmt.Fprintf(out, "Permission:  %s\n", st.Permission.Perm())
				fmt.Fprintf(out, "Owner:       %s\n", st.Owner)
				fmt.Fprintf(out, "Group:       %s\n", st.Group)
				fmt.Fprintf(out, "Replication: %d\n", st.Replication)
				fmt.Fprintf(out, "Block size:  %d\n", st.BlockSize)
				fmt.Fprintf(out, "Modified:    %s\n", st.ModTime.Format("2006-01-02 15:04:05"))
				return nil
			})
		},
	}
}

func newCatCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cat <path>...",
		Short: "Print file contents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withView(cmd, func(ctx context.Context, v *viewfs.FileSystem) error {
				for _, p := range args {
					if err := copyOut(ctx, v, p, cmd.OutOrStdout()); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func copyOut(ctx context.Context, v *viewfs.FileSystem, p string, w io.Writer) error {
	f, err := v.Open(ctx, p)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

func newPutCmd(opts *globalOptions) *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "put <local-file|-> <path>",
		Short: "Write a local file or stdin into the namespace",
		Long: `Copy a local file, or standard input when the source is "-", to a path of
the namespace. Missing parent directories are created.

Examples:
  viewfs put report.csv /data/reports/report.csv
  echo hello | viewfs put - /tmp/hello.txt --overwrite`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var src io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				src = f
			}
			return opts.withView(cmd, func(ctx context.Context, v *viewfs.FileSystem) error {
				f, err := v.Create(ctx, args[1], fsys.CreateOptions{Permission: 0644, Overwrite: overwrite})
				if err != nil {
					return err
				}
				n, err := io.Copy(f, src)
				if cerr := f.Close(); err == nil {
					err = cerr
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes to %s\n", n, common.CleanPath(args[1]))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&overwrite, "overwrite", "f", false, "Replace an existing file")
	return cmd
}

func newMkdirCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>...",
		Short: "Create directories and their parents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withView(cmd, func(ctx context.Context, v *viewfs.FileSystem) error {
				for _, p := range args {
					if err := v.Mkdirs(ctx, p, 0755); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newRmCmd(opts *globalOptions) *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "rm <path>...",
		Short: "Delete files or directories",
		Long: `Delete paths. Every path is attempted; failures are reported together.
Mount points and synthesized directories cannot be deleted.

Examples:
  viewfs rm /tmp/hello.txt
  viewfs rm -r /data/old`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withView(cmd, func(ctx context.Context, v *viewfs.FileSystem) error {
				var result *multierror.Error
				for _, p := range args {
					if err := v.Delete(ctx, p, recursive); err != nil {
						result = multierror.Append(result, err)
					}
				}
				return result.ErrorOrNil()
			})
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Delete directories and their contents")
	return cmd
}

func newMvCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mv <src> <dst>",
		Short: "Rename a path",
		Long: `Rename a path. Whether a rename may cross mount points is governed by
rename_strategy in config.yaml.

Examples:
  viewfs mv /data/a.csv /data/archive/a.csv`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withView(cmd, func(ctx context.Context, v *viewfs.FileSystem) error {
				return v.Rename(ctx, args[0], args[1])
			})
		},
	}
}

func newDuCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "du [path]",
		Short: "Summarize directory contents",
		Long: `Print the directory count, file count and byte length of a tree. Summaries
of synthesized directories aggregate every mount point below them.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := common.Root
			if len(args) == 1 {
				p = args[0]
			}
			return opts.withView(cmd, func(ctx context.Context, v *viewfs.FileSystem) error {
				cs, err := v.GetContentSummary(ctx, p)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%12d %12d %15d %s\n",
					cs.DirectoryCount, cs.FileCount, cs.Length, common.CleanPath(p))
				return nil
			})
		},
	}
}

func newChecksumCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "checksum <path>",
		Short: "Print the checksum of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withView(cmd, func(ctx context.Context, v *viewfs.FileSystem) error {
				sum, err := v.GetFileChecksum(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", common.CleanPath(args[0]), sum.Algorithm, hex.EncodeToString(sum.Bytes))
				return nil
			})
		},
	}
}

// entryName is the last path element of a listed entry
func entryName(st *fsys.FileStatus) string {
	_, _, p, err := common.PathKey(st.Path)
	if err != nil {
		return st.Path
	}
	return common.BaseName(p)
}

func entryType(st *fsys.FileStatus) string {
	switch {
	case st.IsDir:
		return "directory"
	case st.IsSymlink:
		return "link"
	}
	return "file"
}

func formatLong(st *fsys.FileStatus, name string) string {
	mode := st.Permission.Perm()
	switch {
	case st.IsDir:
		mode |= os.ModeDir
	case st.IsSymlink:
		mode |= os.ModeSymlink
	}
	line := fmt.Sprintf("%s %-8s %-8s %10d %s %s",
		mode, st.Owner, st.Group, st.Length, st.ModTime.Format("2006-01-02 15:04"), name)
	if st.IsSymlink {
		line += " -> " + st.SymlinkTarget
	}
	return line
}
