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

package tree

import (
	"bytes"
	"time"
)

// Metadata holds the inode attributes of a node. Size is not stored; it is
// derived from the node's content.
type Metadata struct {
	Mode  uint32 // permission bits only (PermMask)
	UID   uint32
	GID   uint32
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
	Otime time.Time // creation time, only carried by send-streams
	Flags uint64    // inode flags (FS_IOC_GETFLAGS / FILEATTR)

	Verity *Verity
}

// Verity describes fs-verity protection enabled on a file.
type Verity struct {
	Algorithm uint8
	BlockSize uint32
	Salt      []byte
	Signature []byte
}

// Equal compares two verity descriptors, either of which may be nil.
func (v *Verity) Equal(o *Verity) bool {
	if v == nil || o == nil {
		return v == o
	}
	return v.Algorithm == o.Algorithm && v.BlockSize == o.BlockSize &&
		bytes.Equal(v.Salt, o.Salt) && bytes.Equal(v.Signature, o.Signature)
}

// Clone returns a deep copy.
func (v *Verity) Clone() *Verity {
	if v == nil {
		return nil
	}
	return &Verity{
		Algorithm: v.Algorithm,
		BlockSize: v.BlockSize,
		Salt:      bytes.Clone(v.Salt),
		Signature: bytes.Clone(v.Signature),
	}
}

// DefaultDirMetadata is used for directories synthesized to hold entries whose
// parents were never described.
func DefaultDirMetadata() Metadata {
	return Metadata{Mode: 0o755}
}

// DefaultFileMetadata is the metadata of a file created without attributes.
func DefaultFileMetadata() Metadata {
	return Metadata{Mode: 0o644}
}

func (m Metadata) clone() Metadata {
	m.Verity = m.Verity.Clone()
	return m
}
