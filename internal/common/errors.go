// Copyright 2026 fstree Authors
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
)

// Decode errors. A reader that returns one of these has stopped; the partially
// built tree must not be used.
var (
	ErrMalformedHeader    = errors.New("malformed header")
	ErrTruncatedStream    = errors.New("truncated stream")
	ErrChecksumMismatch   = errors.New("checksum mismatch")
	ErrUnsupportedCommand = errors.New("unsupported command")
)

// Structural errors raised while applying operations to a tree.
var (
	ErrPathNotFound           = errors.New("path not found")
	ErrNameCollision          = errors.New("name already exists")
	ErrUnknownParentSubvolume = errors.New("unknown parent subvolume")
	ErrPathEscape             = errors.New("path escapes tree root")
	ErrNotDir                 = errors.New("not a directory")
	ErrIsDir                  = errors.New("is a directory")
	ErrNotEmpty               = errors.New("directory not empty")
	ErrInvalidPath            = errors.New("invalid path")
)

// Content errors.
var (
	ErrContentUnavailable = errors.New("content unavailable")
	ErrReleased           = errors.New("backing released")
)

// DecodeError attaches the position of a decode failure to its cause.
type DecodeError struct {
	Format string // "tar", "cpio", "sendstream", ...
	Offset int64  // byte offset of the offending header or command
	Path   string // entry path, when known
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: offset %d: %q: %v", e.Format, e.Offset, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: offset %d: %v", e.Format, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// NewDecodeError wraps err with format and offset information. A cause that is
// already a DecodeError is returned unchanged so the innermost position wins.
func NewDecodeError(format string, offset int64, path string, err error) error {
	var de *DecodeError
	if errors.As(err, &de) {
		return err
	}
	return &DecodeError{Format: format, Offset: offset, Path: path, Err: err}
}

// OpError reports which operation of a sequence failed.
type OpError struct {
	Index int // 1-based position in the operation sequence
	Op    string
	Path  string
	Err   error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("op %d (%s %q): %v", e.Index, e.Op, e.Path, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}
