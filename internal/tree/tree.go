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

// Package tree implements the in-memory filesystem model shared by every
// reader: an arena of nodes addressed by NodeID, with directories mapping
// names to IDs. Hardlinks are several names bound to one ID.
//
// Trees fork cheaply. A fork shares every node with its parent and copies a
// node only when it is first mutated, so the parent is never modified by work
// done on the fork.
package tree

import (
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"fstree/internal/common"
	"fstree/internal/content"
)

var epochs atomic.Uint64

// Subvolume identifies the btrfs subvolume a tree was received as.
type Subvolume struct {
	Path           string
	UUID           uuid.UUID
	CTransID       uint64
	ParentUUID     uuid.UUID
	ParentCTransID uint64
}

// IsSnapshot reports whether the subvolume was sent relative to a parent.
func (s Subvolume) IsSnapshot() bool {
	return s.ParentUUID != uuid.Nil
}

// PathTree is a directory tree rooted at an always-present directory.
type PathTree struct {
	nodes []*Node // indexed by NodeID; 0 is never used, removed nodes are nil
	live  int
	epoch atomic.Uint64

	backings map[*content.Backing]struct{}
	subvol   *Subvolume
	parent   *PathTree
	closed   bool
}

// New returns a tree holding only a root directory with default metadata.
func New() *PathTree {
	t := &PathTree{backings: make(map[*content.Backing]struct{})}
	t.epoch.Store(epochs.Add(1))
	root := NewDir(DefaultDirMetadata())
	root.nlink = 1
	root.epoch = t.epoch.Load()
	t.nodes = []*Node{nil, root}
	t.live = 1
	return t
}

// Fork returns a tree that starts out identical to t and shares its nodes
// until they are modified. t itself is left unchanged and may be forked
// again. The fork retains every backing t references.
func (t *PathTree) Fork() *PathTree {
	f := &PathTree{
		nodes:    slices.Clone(t.nodes),
		live:     t.live,
		backings: make(map[*content.Backing]struct{}, len(t.backings)),
		parent:   t,
	}
	f.epoch.Store(epochs.Add(1))
	// nodes owned by t become shared; t must copy before writing them too
	t.epoch.Store(epochs.Add(1))
	for b := range t.backings {
		f.backings[b] = struct{}{}
		b.Retain()
	}
	log.Debugf("[Tree] forked tree with %d nodes, %d backings", f.live, len(f.backings))
	return f
}

// Parent returns the tree this one was forked from, if any.
func (t *PathTree) Parent() *PathTree {
	return t.parent
}

// Subvolume returns the subvolume identity of the tree, if it has one.
func (t *PathTree) Subvolume() (Subvolume, bool) {
	if t.subvol == nil {
		return Subvolume{}, false
	}
	return *t.subvol, true
}

// SetSubvolume records the subvolume identity of the tree.
func (t *PathTree) SetSubvolume(s Subvolume) {
	t.subvol = &s
}

// Len returns the number of live nodes, counting hardlinked nodes once.
func (t *PathTree) Len() int {
	return t.live
}

// Retain keeps b alive until the tree is closed.
func (t *PathTree) Retain(b *content.Backing) {
	if b == nil {
		return
	}
	if _, ok := t.backings[b]; ok {
		return
	}
	t.backings[b] = struct{}{}
	b.Retain()
}

// RetainFile retains every backing referenced by f.
func (t *PathTree) RetainFile(f *content.File) {
	if f == nil {
		return
	}
	for _, b := range f.Backings() {
		t.Retain(b)
	}
}

// Close releases the tree's backings. File content must not be read after
// the tree is closed. Closing twice is a no-op.
func (t *PathTree) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	var errs []error
	for b := range t.backings {
		if err := b.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	t.backings = nil
	return errors.Join(errs...)
}

// Root returns the root directory.
func (t *PathTree) Root() NodeView {
	return NodeView{id: RootID, n: t.nodes[RootID]}
}

// Node returns the node with the given ID.
func (t *PathTree) Node(id NodeID) (NodeView, bool) {
	if int(id) >= len(t.nodes) || t.nodes[id] == nil {
		return NodeView{}, false
	}
	return NodeView{id: id, n: t.nodes[id]}, true
}

// Resolve returns the ID bound to path. Symlinks are not followed.
func (t *PathTree) Resolve(p string) (NodeID, error) {
	id := RootID
	for _, name := range common.SplitPath(p) {
		n := t.nodes[id]
		if n.Kind != Directory {
			return 0, fmt.Errorf("%q: %w", p, common.ErrNotDir)
		}
		child, ok := n.children[name]
		if !ok {
			return 0, fmt.Errorf("%q: %w", p, common.ErrPathNotFound)
		}
		id = child
	}
	return id, nil
}

// Lookup returns the node bound to path.
func (t *PathTree) Lookup(p string) (NodeView, bool) {
	id, err := t.Resolve(p)
	if err != nil {
		return NodeView{}, false
	}
	return NodeView{id: id, n: t.nodes[id]}, true
}

// ResolveParent returns the directory that holds path and path's last name.
// The entry itself need not exist.
func (t *PathTree) ResolveParent(p string) (NodeID, string, error) {
	p = common.NormalizePath(p)
	if p == "" {
		return 0, "", fmt.Errorf("root has no parent: %w", common.ErrInvalidPath)
	}
	dir, err := t.Resolve(common.ParentPath(p))
	if err != nil {
		return 0, "", err
	}
	if t.nodes[dir].Kind != Directory {
		return 0, "", fmt.Errorf("%q: %w", common.ParentPath(p), common.ErrNotDir)
	}
	return dir, common.BaseName(p), nil
}

// Insert binds a new node under name in the directory parent.
func (t *PathTree) Insert(parent NodeID, name string, n *Node) (NodeID, error) {
	if !common.ValidName(name) {
		return 0, fmt.Errorf("name %q: %w", name, common.ErrInvalidPath)
	}
	dir, ok := t.Node(parent)
	if !ok || dir.Kind() != Directory {
		return 0, fmt.Errorf("parent %d of %q: %w", parent, name, common.ErrPathNotFound)
	}
	if _, exists := dir.n.children[name]; exists {
		return 0, fmt.Errorf("%q: %w", name, common.ErrNameCollision)
	}
	if n.Kind == Directory && n.children == nil {
		n.children = make(map[string]NodeID)
	}
	n.nlink = 1
	n.epoch = t.epoch.Load()
	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, n)
	t.live++
	t.mut(parent).children[name] = id
	t.RetainFile(n.Content)
	return id, nil
}

// InsertPath inserts n at path, whose parent directory must exist.
func (t *PathTree) InsertPath(p string, n *Node) (NodeID, error) {
	dir, name, err := t.ResolveParent(p)
	if err != nil {
		return 0, err
	}
	return t.Insert(dir, name, n)
}

// Link binds an additional name to an existing non-directory node.
func (t *PathTree) Link(existing, parent NodeID, name string) error {
	src, ok := t.Node(existing)
	if !ok {
		return fmt.Errorf("node %d: %w", existing, common.ErrPathNotFound)
	}
	if src.Kind() == Directory {
		return fmt.Errorf("hardlink to directory: %w", common.ErrIsDir)
	}
	if !common.ValidName(name) {
		return fmt.Errorf("name %q: %w", name, common.ErrInvalidPath)
	}
	dir, ok := t.Node(parent)
	if !ok || dir.Kind() != Directory {
		return fmt.Errorf("parent %d of %q: %w", parent, name, common.ErrPathNotFound)
	}
	if _, exists := dir.n.children[name]; exists {
		return fmt.Errorf("%q: %w", name, common.ErrNameCollision)
	}
	t.mut(existing).nlink++
	t.mut(parent).children[name] = existing
	return nil
}

// Remove unbinds path. Directories must be empty. The node is dropped once
// its last name is gone.
func (t *PathTree) Remove(p string) error {
	dir, name, err := t.ResolveParent(p)
	if err != nil {
		return err
	}
	id, ok := t.nodes[dir].children[name]
	if !ok {
		return fmt.Errorf("%q: %w", p, common.ErrPathNotFound)
	}
	n := t.nodes[id]
	if n.Kind == Directory && len(n.children) > 0 {
		return fmt.Errorf("%q: %w", p, common.ErrNotEmpty)
	}
	delete(t.mut(dir).children, name)
	t.unref(id)
	return nil
}

// Rename moves from to to with rename(2) semantics: an existing target is
// replaced if it is a non-directory and from is too, or if both are
// directories and the target is empty.
func (t *PathTree) Rename(from, to string) error {
	from, to = common.NormalizePath(from), common.NormalizePath(to)
	srcDir, srcName, err := t.ResolveParent(from)
	if err != nil {
		return err
	}
	srcID, ok := t.nodes[srcDir].children[srcName]
	if !ok {
		return fmt.Errorf("%q: %w", from, common.ErrPathNotFound)
	}
	dstDir, dstName, err := t.ResolveParent(to)
	if err != nil {
		return err
	}
	if from == to {
		return nil
	}
	src := t.nodes[srcID]
	if src.Kind == Directory && strings.HasPrefix(to, from+"/") {
		return fmt.Errorf("rename %q beneath itself: %w", from, common.ErrInvalidPath)
	}

	if dstID, exists := t.nodes[dstDir].children[dstName]; exists {
		if dstID == srcID {
			return nil
		}
		dst := t.nodes[dstID]
		switch {
		case src.Kind == Directory && dst.Kind != Directory:
			return fmt.Errorf("%q: %w", to, common.ErrNotDir)
		case src.Kind != Directory && dst.Kind == Directory:
			return fmt.Errorf("%q: %w", to, common.ErrIsDir)
		case dst.Kind == Directory && len(dst.children) > 0:
			return fmt.Errorf("%q: %w", to, common.ErrNotEmpty)
		}
		delete(t.mut(dstDir).children, dstName)
		t.unref(dstID)
	}

	delete(t.mut(srcDir).children, srcName)
	t.mut(dstDir).children[dstName] = srcID
	return nil
}

// Mutate runs fn on a node this tree owns, copying it first if it is shared
// with another tree. Every name bound to id observes the change.
func (t *PathTree) Mutate(id NodeID, fn func(n *Node) error) error {
	if _, ok := t.Node(id); !ok {
		return fmt.Errorf("node %d: %w", id, common.ErrPathNotFound)
	}
	n := t.mut(id)
	kind, f := n.Kind, n.Content
	if err := fn(n); err != nil {
		return err
	}
	if n.Kind != kind {
		return fmt.Errorf("node %d changed kind from %s to %s: %w", id, kind, n.Kind, common.ErrInvalidPath)
	}
	if n.Content != f {
		t.RetainFile(n.Content)
	}
	return nil
}

// Walk yields every path in the tree with its node, depth first with entries
// in byte order of their names. The root comes first with the path "".
// Hardlinked nodes are yielded once per name.
func (t *PathTree) Walk() iter.Seq2[string, NodeView] {
	return func(yield func(string, NodeView) bool) {
		t.walk("", RootID, yield)
	}
}

func (t *PathTree) walk(p string, id NodeID, yield func(string, NodeView) bool) bool {
	n := t.nodes[id]
	if !yield(p, NodeView{id: id, n: n}) {
		return false
	}
	if n.Kind != Directory {
		return true
	}
	for _, name := range slices.Sorted(maps.Keys(n.children)) {
		child := name
		if p != "" {
			child = p + "/" + name
		}
		if !t.walk(child, n.children[name], yield) {
			return false
		}
	}
	return true
}

func (t *PathTree) mut(id NodeID) *Node {
	n := t.nodes[id]
	epoch := t.epoch.Load()
	if n.epoch != epoch {
		n = n.clone()
		n.epoch = epoch
		t.nodes[id] = n
	}
	return n
}

func (t *PathTree) unref(id NodeID) {
	n := t.mut(id)
	n.nlink--
	if n.nlink == 0 {
		t.nodes[id] = nil
		t.live--
	}
}
