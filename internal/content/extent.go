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
	"fmt"

	"github.com/google/uuid"
)

// CloneOrigin records where cloned bytes were taken from.
type CloneOrigin struct {
	Subvolume uuid.UUID
	Path      string
	Offset    uint64
}

// Extent is a contiguous piece of a file: a data region or a hole.
type Extent struct {
	hole   int64
	region Region
	origin *CloneOrigin
}

// DataExtent returns an extent backed by r.
func DataExtent(r Region) Extent {
	return Extent{region: r}
}

// HoleExtent returns n zero bytes that are not stored anywhere.
func HoleExtent(n int64) Extent {
	return Extent{hole: n}
}

// IsHole reports whether the extent reads as zeros.
func (e Extent) IsHole() bool {
	return e.region.backing == nil
}

// Len returns the extent length in bytes.
func (e Extent) Len() int64 {
	if e.IsHole() {
		return e.hole
	}
	return e.region.Len()
}

// Region returns the data region. It is the zero Region for holes.
func (e Extent) Region() Region {
	return e.region
}

// Origin returns the clone origin, or nil if the bytes were written directly.
func (e Extent) Origin() *CloneOrigin {
	return e.origin
}

// WithOrigin returns a copy of e marked as cloned from o.
func (e Extent) WithOrigin(o CloneOrigin) Extent {
	e.origin = &o
	return e
}

func (e Extent) slice(off, n int64) Extent {
	if off < 0 || n < 0 || off > e.Len() || n > e.Len()-off {
		panic(fmt.Sprintf("content: slice [%d, %d) of extent with %d bytes", off, off+n, e.Len()))
	}
	if e.IsHole() {
		return Extent{hole: n}
	}
	out := Extent{region: e.region.Slice(off, n)}
	if e.origin != nil {
		o := *e.origin
		o.Offset += uint64(off)
		out.origin = &o
	}
	return out
}

func (e Extent) String() string {
	if e.IsHole() {
		return fmt.Sprintf("hole(%d)", e.hole)
	}
	if e.origin != nil {
		return fmt.Sprintf("clone(%s:%d+%d)", e.origin.Path, e.origin.Offset, e.region.Len())
	}
	return fmt.Sprintf("data(%d+%d)", e.region.off, e.region.Len())
}

// sliceExtents returns the extents covering [off, off+n) of a contiguous
// extent list starting at zero. The range must lie within the list.
func sliceExtents(exts []Extent, off, n int64) []Extent {
	var out []Extent
	var pos int64
	end := off + n
	for _, e := range exts {
		if n == 0 || pos >= end {
			break
		}
		l := e.Len()
		eEnd := pos + l
		if eEnd <= off {
			pos = eEnd
			continue
		}
		from := max(off, pos) - pos
		to := min(end, eEnd) - pos
		out = append(out, e.slice(from, to-from))
		pos = eEnd
	}
	return out
}
