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

// Package nfsexport serves a filesystem over NFSv3 with go-nfs, so the
// unified namespace can be mounted by an OS client.
package nfsexport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"
	nfs "github.com/willscott/go-nfs"
	nfshelper "github.com/willscott/go-nfs/helpers"

	"viewfs/internal/fsys"
)

// HandleCacheSize is the number of file handles the caching handler keeps
const HandleCacheSize = 65536

// Server wraps the go-nfs server
type Server struct {
	server  *nfs.Server
	handler nfs.Handler
	cancel  context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
	done     chan struct{}
}

// NewServer creates an NFS server exporting fs at "/"
func NewServer(fs fsys.FileSystem) *Server {
	// match go-nfs log level to ours
	if log.IsLevelEnabled(log.TraceLevel) {
		nfs.Log.SetLevel(nfs.TraceLevel)
	} else if log.IsLevelEnabled(log.DebugLevel) {
		nfs.Log.SetLevel(nfs.DebugLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	handler := nfshelper.NewNullAuthHandler(NewBillyAdapter(ctx, fs))
	cacheHelper := nfshelper.NewCachingHandler(handler, HandleCacheSize)

	return &Server{
		server:  &nfs.Server{Handler: cacheHelper, Context: ctx},
		handler: cacheHelper,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Listen binds addr. Use Addr to learn the port when addr ends in ":0".
func (s *Server) Listen(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	log.Infof("[NFS] listening on %s", listener.Addr())
	return nil
}

// Addr returns the bound address, or nil before Listen
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until Shutdown. It returns nil after Shutdown.
func (s *Server) Serve() error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return errors.New("nfs server is not listening")
	}

	err := s.server.Serve(listener)
	select {
	case <-s.done:
		return nil
	default:
		return err
	}
}

// ListenAndServe binds addr and serves on it
func (s *Server) ListenAndServe(addr string) error {
	if err := s.Listen(addr); err != nil {
		return err
	}
	return s.Serve()
}

// Shutdown stops accepting connections and cancels in-flight handlers. It
// is safe to call more than once.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return
	default:
	}
	close(s.done)
	if s.listener != nil {
		s.listener.Close()
	}
	s.cancel()
	log.Infof("[NFS] stopped")
}
