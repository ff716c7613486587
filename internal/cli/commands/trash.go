package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"viewfs/internal/viewfs"
)

func newTrashCmd(opts *globalOptions) *cobra.Command {
	trashCmd := &cobra.Command{
		Use:   "trash",
		Short: "Inspect trash locations",
	}

	rootCmd := &cobra.Command{
		Use:   "root <path>",
		Short: "Print the trash root for a path",
		Long: `Print where a deleted path would be moved. With
trash_force_inside_mount_point the trash stays inside the mount point of the
path.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withView(cmd, func(ctx context.Context, v *viewfs.FileSystem) error {
				root, err := v.GetTrashRoot(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), root)
				return nil
			})
		},
	}

	var allUsers bool
	lsCmd := &cobra.Command{
		Use:   "ls",
		Short: "List existing trash roots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withView(cmd, func(ctx context.Context, v *viewfs.FileSystem) error {
				roots, err := v.GetTrashRoots(ctx, allUsers)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(roots) == 0 {
					fmt.Fprintln(out, "No trash roots")
					return nil
				}
				for _, st := range roots {
					fmt.Fprintln(out, st.Path)
				}
				return nil
			})
		},
	}
	lsCmd.Flags().BoolVarP(&allUsers, "all", "a", false, "Include the trash of every user")

	trashCmd.AddCommand(rootCmd, lsCmd)
	return trashCmd
}
