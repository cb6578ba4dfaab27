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

package content

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"fstree/internal/common"
)

// ErrOutOfRange is returned when a read range extends past the end of a file.
var ErrOutOfRange = errors.New("range out of bounds")

// File is the content of a regular file: an ordered list of extents covering
// [0, Len()). Writes split overlapping extents; nothing is copied.
type File struct {
	extents []Extent
	size    int64

	// digest-only files carry a hash but no bytes
	digestOnly bool

	mu     sync.Mutex
	digest *Hash
}

// NewFile returns an empty file.
func NewFile() *File {
	return &File{}
}

// FromRegion returns a file whose whole content is r.
func FromRegion(r Region) *File {
	f := &File{}
	if r.Len() > 0 {
		f.extents = []Extent{DataExtent(r)}
		f.size = r.Len()
	}
	return f
}

// FromBytes returns a file holding data.
func FromBytes(data []byte) *File {
	return FromRegion(Bytes(data))
}

// NewDigestOnly returns a file of the given size known only by its digest.
func NewDigestOnly(size int64, h Hash) *File {
	return &File{size: size, digestOnly: true, digest: &h}
}

// Len returns the file size.
func (f *File) Len() int64 {
	return f.size
}

// Available reports whether the file's bytes can be read.
func (f *File) Available() bool {
	return !f.digestOnly
}

// Extents returns a copy of the extent list.
func (f *File) Extents() []Extent {
	return append([]Extent(nil), f.extents...)
}

// Write stores r at off, extending the file with a hole if off is past the end.
func (f *File) Write(off int64, r Region) error {
	return f.WriteExtents(off, []Extent{DataExtent(r)})
}

// WriteHole writes n zero bytes at off.
func (f *File) WriteHole(off, n int64) error {
	return f.WriteExtents(off, []Extent{HoleExtent(n)})
}

// WriteExtents replaces [off, off+len(exts)) with exts.
func (f *File) WriteExtents(off int64, exts []Extent) error {
	if f.digestOnly {
		return common.ErrContentUnavailable
	}
	if off < 0 {
		return fmt.Errorf("write at negative offset %d: %w", off, ErrOutOfRange)
	}
	var n int64
	for _, e := range exts {
		n += e.Len()
	}
	if n > math.MaxInt64-off {
		return fmt.Errorf("write [%d, +%d): %w", off, n, ErrOutOfRange)
	}
	if n == 0 {
		if off > f.size {
			f.extend(off)
		}
		return nil
	}
	if off > f.size {
		f.extend(off)
	}
	end := off + n
	next := make([]Extent, 0, len(f.extents)+len(exts)+1)
	next = append(next, sliceExtents(f.extents, 0, off)...)
	for _, e := range exts {
		if e.Len() > 0 {
			next = append(next, e)
		}
	}
	if end < f.size {
		next = append(next, sliceExtents(f.extents, end, f.size-end)...)
	}
	f.extents = next
	f.size = max(f.size, end)
	f.invalidate()
	return nil
}

// Truncate sets the file size, dropping extents past size or appending a hole.
func (f *File) Truncate(size int64) error {
	if f.digestOnly {
		return common.ErrContentUnavailable
	}
	if size < 0 {
		return fmt.Errorf("truncate to %d: %w", size, ErrOutOfRange)
	}
	switch {
	case size < f.size:
		f.extents = sliceExtents(f.extents, 0, size)
		f.size = size
	case size > f.size:
		f.extend(size)
	default:
		return nil
	}
	f.invalidate()
	return nil
}

func (f *File) extend(size int64) {
	f.extents = append(f.extents, HoleExtent(size-f.size))
	f.size = size
	f.invalidate()
}

// Slice returns the extents covering [off, off+n).
func (f *File) Slice(off, n int64) ([]Extent, error) {
	if f.digestOnly {
		return nil, common.ErrContentUnavailable
	}
	if off < 0 || n < 0 || off > f.size || n > f.size-off {
		return nil, fmt.Errorf("slice [%d, %d) of %d bytes: %w", off, off+n, f.size, ErrOutOfRange)
	}
	return sliceExtents(f.extents, off, n), nil
}

// Clone returns an independent file sharing f's backings.
func (f *File) Clone() *File {
	c := &File{
		extents:    f.Extents(),
		size:       f.size,
		digestOnly: f.digestOnly,
	}
	f.mu.Lock()
	if f.digest != nil {
		h := *f.digest
		c.digest = &h
	}
	f.mu.Unlock()
	return c
}

// Backings returns the distinct backings referenced by the file.
func (f *File) Backings() []*Backing {
	var out []*Backing
	seen := make(map[*Backing]struct{})
	for _, e := range f.extents {
		b := e.region.backing
		if b == nil {
			continue
		}
		if _, ok := seen[b]; ok {
			continue
		}
		seen[b] = struct{}{}
		out = append(out, b)
	}
	return out
}

// Reader streams the file content.
func (f *File) Reader() (io.Reader, error) {
	if f.digestOnly {
		return nil, common.ErrContentUnavailable
	}
	return &extentReader{extents: f.Extents()}, nil
}

// Bytes materializes the whole file.
func (f *File) Bytes() ([]byte, error) {
	r, err := f.Reader()
	if err != nil {
		return nil, err
	}
	buf := bytes.NewBuffer(make([]byte, 0, f.size))
	if _, err := io.Copy(buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (f *File) invalidate() {
	f.mu.Lock()
	f.digest = nil
	f.mu.Unlock()
}

type extentReader struct {
	extents []Extent
	pos     int64
}

func (r *extentReader) Read(p []byte) (int, error) {
	var n int
	for n < len(p) && len(r.extents) > 0 {
		e := r.extents[0]
		remaining := e.Len() - r.pos
		if remaining == 0 {
			r.extents = r.extents[1:]
			r.pos = 0
			continue
		}
		want := min(int64(len(p)-n), remaining)
		if e.IsHole() {
			clear(p[n : n+int(want)])
		} else {
			data, err := e.region.Data()
			if err != nil {
				return n, err
			}
			copy(p[n:n+int(want)], data[r.pos:r.pos+want])
		}
		n += int(want)
		r.pos += want
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}
