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
	"net"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"viewfs/internal/nfsexport"
	"viewfs/internal/viewfs"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Export the namespace over NFSv3",
		Long: `Serve the unified namespace over NFSv3 until interrupted. The address comes
from nfs.listen in config.yaml unless --listen is given.

Examples:
  viewfs serve
  viewfs serve --listen 127.0.0.1:12049

  # then, on the client
  mount -t nfs -o vers=3,tcp,port=12049,mountport=12049,nolock 127.0.0.1:/ /mnt/view`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen == "" {
				listen = opts.cfg.NFS.Listen
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return opts.withView(cmd, func(_ context.Context, v *viewfs.FileSystem) error {
				return serveNFS(ctx, cmd, v, listen)
			})
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Address to listen on (host:port)")
	return cmd
}

func serveNFS(ctx context.Context, cmd *cobra.Command, v *viewfs.FileSystem, listen string) error {
	server := nfsexport.NewServer(v)
	if err := server.Listen(listen); err != nil {
		return err
	}

	addr := server.Addr()
	port := 0
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = tcp.Port
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Serving %s over NFS on %s (port %d)\n", v.URI(), addr, port)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve() }()

	select {
	case <-ctx.Done():
		log.Infof("[NFS] shutting down")
		server.Shutdown()
		return <-errCh
	case err := <-errCh:
		server.Shutdown()
		if err != nil {
			return fmt.Errorf("nfs server failed: %w", err)
		}
		return nil
	}
}
