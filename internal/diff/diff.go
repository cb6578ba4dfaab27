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

// Package diff compares two trees path by path.
package diff

import (
	"fmt"
	"iter"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"fstree/internal/common"
	"fstree/internal/content"
	"fstree/internal/tree"
)

// Kind classifies a difference.
type Kind int

const (
	Added Kind = iota + 1
	Removed
	MetadataChanged
	ContentChanged
	XattrChanged
)

func (k Kind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case MetadataChanged:
		return "metadata"
	case ContentChanged:
		return "content"
	case XattrChanged:
		return "xattr"
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// FieldChange is one differing field, formatted for display.
type FieldChange struct {
	Name  string
	Left  string
	Right string
}

// Entry is one difference at Path. A path present on both sides may have
// a metadata, a content and an xattr entry, in that order.
type Entry struct {
	Path   string
	Kind   Kind
	Fields []FieldChange
}

// Report lists differences in walk order.
type Report struct {
	Entries []Entry
}

// Empty reports whether the trees compared equal.
func (r Report) Empty() bool {
	return len(r.Entries) == 0
}

// Diff compares a (left) with b (right). Both trees are only read. Errors
// come from reading file content that cannot be compared by digest.
func Diff(a, b *tree.PathTree, p Policy) (Report, error) {
	d := &differ{policy: p, match: p.matcher()}

	nextA, stopA := iter.Pull2(a.Walk())
	defer stopA()
	nextB, stopB := iter.Pull2(b.Walk())
	defer stopB()

	pa, va, okA := nextA()
	pb, vb, okB := nextB()
	for okA || okB {
		var c int
		switch {
		case !okB:
			c = -1
		case !okA:
			c = 1
		default:
			c = common.ComparePaths(pa, pb)
		}

		var err error
		switch {
		case c < 0:
			d.single(pa, va, Removed)
			pa, va, okA = nextA()
		case c > 0:
			d.single(pb, vb, Added)
			pb, vb, okB = nextB()
		default:
			err = d.compare(pa, va, vb)
			pa, va, okA = nextA()
			pb, vb, okB = nextB()
		}
		if err != nil {
			return Report{}, err
		}
	}
	log.Debugf("[Diff] %d difference(s)", len(d.report.Entries))
	return d.report, nil
}

type differ struct {
	policy Policy
	match  matcher
	report Report
}

func (d *differ) add(p string, kind Kind, fields []FieldChange) {
	d.report.Entries = append(d.report.Entries, Entry{Path: p, Kind: kind, Fields: fields})
}

func (d *differ) single(p string, v tree.NodeView, kind Kind) {
	if d.match.ignored(p, v.Kind() == tree.Directory) {
		return
	}
	d.add(p, kind, []FieldChange{{Name: "type", Left: sideKind(v, kind == Removed), Right: sideKind(v, kind == Added)}})
}

func sideKind(v tree.NodeView, present bool) string {
	if !present {
		return ""
	}
	return v.Kind().String()
}

func (d *differ) compare(p string, l, r tree.NodeView) error {
	if d.match.ignored(p, l.Kind() == tree.Directory && r.Kind() == tree.Directory) {
		return nil
	}
	if fields := d.metadata(l, r); len(fields) > 0 {
		d.add(p, MetadataChanged, fields)
	}
	if d.policy.Content && l.Kind() == r.Kind() {
		fields, err := d.content(l, r)
		if err != nil {
			return fmt.Errorf("compare %q: %w", p, err)
		}
		if fields != nil {
			d.add(p, ContentChanged, fields)
		}
	}
	if d.policy.Xattrs {
		if fields := xattrs(l.Xattrs(), r.Xattrs()); len(fields) > 0 {
			d.add(p, XattrChanged, fields)
		}
	}
	return nil
}

func (d *differ) metadata(l, r tree.NodeView) []FieldChange {
	var fields []FieldChange
	diff := func(name, a, b string) {
		if a != b {
			fields = append(fields, FieldChange{Name: name, Left: a, Right: b})
		}
	}
	diffTime := func(name string, a, b time.Time) {
		if !a.Equal(b) {
			fields = append(fields, FieldChange{Name: name, Left: formatTime(a), Right: formatTime(b)})
		}
	}

	diff("type", l.Kind().String(), r.Kind().String())
	lm, rm := l.Metadata(), r.Metadata()
	if d.policy.Mode {
		diff("mode", fmt.Sprintf("%04o", lm.Mode), fmt.Sprintf("%04o", rm.Mode))
	}
	if d.policy.Ownership {
		diff("uid", strconv.FormatUint(uint64(lm.UID), 10), strconv.FormatUint(uint64(rm.UID), 10))
		diff("gid", strconv.FormatUint(uint64(lm.GID), 10), strconv.FormatUint(uint64(rm.GID), 10))
	}
	if d.policy.Timestamps {
		diffTime("atime", lm.Atime, rm.Atime)
		diffTime("mtime", lm.Mtime, rm.Mtime)
		diffTime("ctime", lm.Ctime, rm.Ctime)
		diffTime("otime", lm.Otime, rm.Otime)
	}
	if d.policy.Flags {
		diff("flags", fmt.Sprintf("%#x", lm.Flags), fmt.Sprintf("%#x", rm.Flags))
		if !lm.Verity.Equal(rm.Verity) {
			fields = append(fields, FieldChange{Name: "verity", Left: formatVerity(lm.Verity), Right: formatVerity(rm.Verity)})
		}
	}
	if l.Kind() == r.Kind() && (l.Kind() == tree.CharDevice || l.Kind() == tree.BlockDevice) {
		diff("rdev", l.Device().String(), r.Device().String())
	}
	return fields
}

// content returns nil when l and r hold the same data.
func (d *differ) content(l, r tree.NodeView) ([]FieldChange, error) {
	switch l.Kind() {
	case tree.RegularFile:
		eq, err := content.Equal(l.Content(), r.Content(), d.policy.ExactContent)
		if err != nil || eq {
			return nil, err
		}
		fields := []FieldChange{}
		if l.Size() != r.Size() {
			fields = append(fields, FieldChange{
				Name:  "size",
				Left:  strconv.FormatInt(l.Size(), 10),
				Right: strconv.FormatInt(r.Size(), 10),
			})
		}
		return fields, nil
	case tree.Symlink:
		if l.Target() != r.Target() {
			return []FieldChange{{Name: "target", Left: l.Target(), Right: r.Target()}}, nil
		}
	}
	return nil, nil
}

func xattrs(l, r *tree.XattrSet) []FieldChange {
	var fields []FieldChange
	for _, name := range l.Diff(r) {
		a, okA := l.Get(name)
		b, okB := r.Get(name)
		fields = append(fields, FieldChange{Name: name, Left: formatValue(a, okA), Right: formatValue(b, okB)})
	}
	return fields
}

func formatValue(v []byte, ok bool) string {
	if !ok {
		return ""
	}
	return strconv.Quote(string(v))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "unset"
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatVerity(v *tree.Verity) string {
	if v == nil {
		return "off"
	}
	return fmt.Sprintf("algorithm=%d block=%d salt=%x", v.Algorithm, v.BlockSize, v.Salt)
}
