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

package common

import (
	"errors"
	"fmt"
	"io/fs"
)

var (
	// ErrPathNotFound means no mount link or fallback matches a path that has to exist
	ErrPathNotFound = fmt.Errorf("path not found in mount table: %w", fs.ErrNotExist)
	// ErrReadOnlyMountTable is returned for mutations on internal directories
	ErrReadOnlyMountTable = fmt.Errorf("internal dir of mount table is read-only: %w", fs.ErrPermission)
	// ErrCrossMountRename is returned when the rename strategy forbids a rename
	ErrCrossMountRename = errors.New("renames across mount points not supported")
	// ErrUnsupportedOperation is returned by merge mounts that do not accept an operation
	ErrUnsupportedOperation = errors.New("operation not supported")
	// ErrAmbiguousMount is a fatal mount table configuration conflict
	ErrAmbiguousMount = errors.New("ambiguous mount table configuration")
	// ErrNotInMountpoint is returned for operations that need a single backing filesystem
	ErrNotInMountpoint = errors.New("operation not in a mount point")
	// ErrClosed is returned by every entry point after Close
	ErrClosed = errors.New("filesystem closed")
	// ErrWrongFS is returned for qualified paths of a different filesystem
	ErrWrongFS = errors.New("wrong filesystem")
	// ErrNotFile is returned when a file operation targets a directory
	ErrNotFile = fmt.Errorf("path points to dir not a file: %w", fs.ErrNotExist)
)

// MountError records the operation and path that produced a mount table error
type MountError struct {
	Op   string
	Path string
	Err  error
}

func (e *MountError) Error() string {
	if e.Path == "" {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *MountError) Unwrap() error { return e.Err }

// ReadOnly builds the error for a mutation attempted on an internal directory
func ReadOnly(op, path string) error {
	return &MountError{Op: op, Path: path, Err: ErrReadOnlyMountTable}
}

// NotInMountpoint builds the error for an operation without a single target
func NotInMountpoint(op, path string) error {
	return &MountError{Op: op, Path: path, Err: ErrNotInMountpoint}
}

// Unsupported builds the error for an operation a filesystem refuses
func Unsupported(op, path string) error {
	return &MountError{Op: op, Path: path, Err: ErrUnsupportedOperation}
}
