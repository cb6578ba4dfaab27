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

// Package fsop defines the tree mutations produced by format readers and
// consumed by the builder. The set of operations is closed.
package fsop

import (
	"errors"
	"io"
	"time"

	"github.com/google/uuid"

	"fstree/internal/content"
	"fstree/internal/tree"
)

// Op is one tree mutation.
type Op interface {
	// OpName is a short name used in errors and logs.
	OpName() string
	// OpPath is the path the operation acts on.
	OpPath() string
	isOp()
}

// OpReader produces operations in order. Next returns io.EOF after the last one.
type OpReader interface {
	Next() (Op, error)
}

type CreateDir struct {
	Path string
	Meta tree.Metadata
}

type CreateFile struct {
	Path string
	Meta tree.Metadata
}

type CreateSymlink struct {
	Path   string
	Target string
	Meta   tree.Metadata
}

// CreateSpecial creates a fifo, socket or device node.
type CreateSpecial struct {
	Path string
	Kind tree.Kind
	Dev  tree.Device
	Meta tree.Metadata
}

// Link binds Path to the node already at Target.
type Link struct {
	Path   string
	Target string
}

type Rename struct {
	From string
	To   string
}

type Unlink struct {
	Path string
}

type RemoveDir struct {
	Path string
}

// CloneSource names a byte range of an existing file. A nil Subvolume means
// the tree being built.
type CloneSource struct {
	Subvolume uuid.UUID
	Path      string
	Offset    uint64
	Len       uint64
}

// Write stores bytes at Offset. Exactly one source is used: Clone if set,
// otherwise a hole of Hole bytes if non-zero, otherwise Data. A KeepSize
// hole is clipped to the current file length.
type Write struct {
	Path     string
	Offset   uint64
	Data     content.Region
	Hole     uint64
	Clone    *CloneSource
	KeepSize bool
}

// Truncate sets the file length. A GrowOnly truncate never shortens.
type Truncate struct {
	Path     string
	Size     uint64
	GrowOnly bool
}

type SetXattr struct {
	Path  string
	Name  string
	Value []byte
}

type RemoveXattr struct {
	Path string
	Name string
}

// SetMetadata updates the non-nil fields of a node's metadata.
type SetMetadata struct {
	Path   string
	Mode   *uint32
	UID    *uint32
	GID    *uint32
	Atime  *time.Time
	Mtime  *time.Time
	Ctime  *time.Time
	Otime  *time.Time
	Flags  *uint64
	Verity *tree.Verity
}

// SnapshotBegin starts a subvolume. A nil ParentUUID starts an empty one.
type SnapshotBegin struct {
	Path           string
	UUID           uuid.UUID
	CTransID       uint64
	ParentUUID     uuid.UUID
	ParentCTransID uint64
}

// SnapshotEnd completes the open subvolume.
type SnapshotEnd struct{}

func (o *CreateDir) OpName() string     { return "mkdir" }
func (o *CreateFile) OpName() string    { return "mkfile" }
func (o *CreateSymlink) OpName() string { return "symlink" }
func (o *CreateSpecial) OpName() string { return "mknod" }
func (o *Link) OpName() string          { return "link" }
func (o *Rename) OpName() string        { return "rename" }
func (o *Unlink) OpName() string        { return "unlink" }
func (o *RemoveDir) OpName() string     { return "rmdir" }
func (o *Write) OpName() string {
	switch {
	case o.Clone != nil:
		return "clone"
	case o.Hole > 0:
		return "hole"
	}
	return "write"
}
func (o *Truncate) OpName() string      { return "truncate" }
func (o *SetXattr) OpName() string      { return "set_xattr" }
func (o *RemoveXattr) OpName() string   { return "remove_xattr" }
func (o *SetMetadata) OpName() string   { return "set_metadata" }
func (o *SnapshotBegin) OpName() string { return "snapshot" }
func (o *SnapshotEnd) OpName() string   { return "end" }

func (o *CreateDir) OpPath() string     { return o.Path }
func (o *CreateFile) OpPath() string    { return o.Path }
func (o *CreateSymlink) OpPath() string { return o.Path }
func (o *CreateSpecial) OpPath() string { return o.Path }
func (o *Link) OpPath() string          { return o.Path }
func (o *Rename) OpPath() string        { return o.From }
func (o *Unlink) OpPath() string        { return o.Path }
func (o *RemoveDir) OpPath() string     { return o.Path }
func (o *Write) OpPath() string         { return o.Path }
func (o *Truncate) OpPath() string      { return o.Path }
func (o *SetXattr) OpPath() string      { return o.Path }
func (o *RemoveXattr) OpPath() string   { return o.Path }
func (o *SetMetadata) OpPath() string   { return o.Path }
func (o *SnapshotBegin) OpPath() string { return o.Path }
func (o *SnapshotEnd) OpPath() string   { return "" }

func (*CreateDir) isOp()     {}
func (*CreateFile) isOp()    {}
func (*CreateSymlink) isOp() {}
func (*CreateSpecial) isOp() {}
func (*Link) isOp()          {}
func (*Rename) isOp()        {}
func (*Unlink) isOp()        {}
func (*RemoveDir) isOp()     {}
func (*Write) isOp()         {}
func (*Truncate) isOp()      {}
func (*SetXattr) isOp()      {}
func (*RemoveXattr) isOp()   {}
func (*SetMetadata) isOp()   {}
func (*SnapshotBegin) isOp() {}
func (*SnapshotEnd) isOp()   {}

// Slice returns a reader over a fixed list of operations.
func Slice(ops ...Op) OpReader {
	return &sliceReader{ops: ops}
}

type sliceReader struct {
	ops []Op
}

func (r *sliceReader) Next() (Op, error) {
	if len(r.ops) == 0 {
		return nil, io.EOF
	}
	op := r.ops[0]
	r.ops = r.ops[1:]
	return op, nil
}

// Collect drains r.
func Collect(r OpReader) ([]Op, error) {
	var ops []Op
	for {
		op, err := r.Next()
		if errors.Is(err, io.EOF) {
			return ops, nil
		}
		if err != nil {
			return ops, err
		}
		ops = append(ops, op)
	}
}
