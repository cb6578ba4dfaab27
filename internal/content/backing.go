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

// Package content holds file data for in-memory trees.
//
// Bytes live in a Backing: either an owned buffer or a memory-mapped archive.
// Files never copy out of their backing; they hold Regions of it arranged as
// extents, so a write taken from an archive or a clone from another file is a
// reference, not a copy. Backings are reference counted and a mapping is only
// released once every tree that references it has been closed.
package content

import (
	"fmt"
	"sync"
	"sync/atomic"

	"fstree/internal/common"
)

// Backing is a reference-counted byte buffer shared by the Regions cut from it.
type Backing struct {
	data    []byte
	name    string
	refs    atomic.Int32
	mu      sync.Mutex
	release func() error
	closed  atomic.Bool
}

// NewBacking wraps data. The caller holds the initial reference. release, if
// not nil, runs once when the last reference is dropped (e.g. munmap).
func NewBacking(name string, data []byte, release func() error) *Backing {
	b := &Backing{data: data, name: name, release: release}
	b.refs.Store(1)
	return b
}

// Owned wraps an in-memory buffer that needs no explicit release.
func Owned(data []byte) *Backing {
	return NewBacking("", data, nil)
}

// Name identifies the backing in logs (usually the source file path).
func (b *Backing) Name() string {
	return b.name
}

// Len returns the number of bytes in the backing.
func (b *Backing) Len() int64 {
	return int64(len(b.data))
}

// Retain adds a reference.
func (b *Backing) Retain() *Backing {
	b.refs.Add(1)
	return b
}

// Release drops a reference. Dropping the last one releases the data.
func (b *Backing) Release() error {
	n := b.refs.Add(-1)
	if n > 0 {
		return nil
	}
	if n < 0 {
		return fmt.Errorf("backing %q: released more times than retained", b.name)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Swap(true) {
		return nil
	}
	if b.release != nil {
		return b.release()
	}
	return nil
}

// Released reports whether the backing data has been released.
func (b *Backing) Released() bool {
	return b.closed.Load()
}

// Bytes returns the whole backing buffer.
func (b *Backing) Bytes() ([]byte, error) {
	if b.closed.Load() {
		return nil, fmt.Errorf("%q: %w", b.name, common.ErrReleased)
	}
	return b.data, nil
}

// Region returns the n bytes starting at off.
func (b *Backing) Region(off, n int64) (Region, error) {
	if off < 0 || n < 0 || off > int64(len(b.data)) || n > int64(len(b.data))-off {
		return Region{}, fmt.Errorf("region [%d, %d) outside backing of %d bytes: %w",
			off, off+n, len(b.data), common.ErrTruncatedStream)
	}
	return Region{backing: b, off: off, n: n}, nil
}

// Region is an immutable byte range of a Backing.
type Region struct {
	backing *Backing
	off     int64
	n       int64
}

// Bytes returns a Region over a private copy-free wrapping of data.
func Bytes(data []byte) Region {
	return Region{backing: Owned(data), n: int64(len(data))}
}

// Len returns the region length.
func (r Region) Len() int64 {
	return r.n
}

// Offset returns the region start within its backing.
func (r Region) Offset() int64 {
	return r.off
}

// Backing returns the buffer the region points into.
func (r Region) Backing() *Backing {
	return r.backing
}

// Data returns the region's bytes without copying. The slice must not be
// modified.
func (r Region) Data() ([]byte, error) {
	if r.n == 0 {
		return nil, nil
	}
	data, err := r.backing.Bytes()
	if err != nil {
		return nil, err
	}
	return data[r.off : r.off+r.n], nil
}

// Slice returns the sub-region [off, off+n) relative to r.
func (r Region) Slice(off, n int64) Region {
	if off < 0 || n < 0 || off > r.n || n > r.n-off {
		panic(fmt.Sprintf("content: slice [%d, %d) of region with %d bytes", off, off+n, r.n))
	}
	return Region{backing: r.backing, off: r.off + off, n: n}
}
