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
	"maps"
	"slices"

	"fstree/internal/content"
)

// NodeID identifies a node within one PathTree. IDs are stable for the life
// of the tree and are shared by forks.
type NodeID uint32

// RootID is the ID of every tree's root directory.
const RootID NodeID = 1

// Node is a single filesystem object. A node reachable under several names is
// a hardlink; all names share the node.
type Node struct {
	Kind    Kind
	Meta    Metadata
	Xattrs  XattrSet
	Content *content.File // RegularFile
	Target  string        // Symlink
	Dev     Device        // CharDevice, BlockDevice

	children map[string]NodeID
	nlink    uint32
	epoch    uint64
}

// NewDir returns an empty directory node.
func NewDir(meta Metadata) *Node {
	return &Node{Kind: Directory, Meta: meta, children: make(map[string]NodeID)}
}

// NewRegular returns a regular file node. A nil file is treated as empty.
func NewRegular(meta Metadata, f *content.File) *Node {
	if f == nil {
		f = content.NewFile()
	}
	return &Node{Kind: RegularFile, Meta: meta, Content: f}
}

// NewSymlink returns a symlink node pointing at target.
func NewSymlink(meta Metadata, target string) *Node {
	return &Node{Kind: Symlink, Meta: meta, Target: target}
}

// NewSpecial returns a fifo, socket or device node.
func NewSpecial(kind Kind, meta Metadata, dev Device) *Node {
	return &Node{Kind: kind, Meta: meta, Dev: dev}
}

// Size returns the byte size of the node's content.
func (n *Node) Size() int64 {
	switch n.Kind {
	case RegularFile:
		return n.Content.Len()
	case Symlink:
		return int64(len(n.Target))
	}
	return 0
}

func (n *Node) clone() *Node {
	c := *n
	c.Meta = n.Meta.clone()
	c.Xattrs = n.Xattrs.Clone()
	if n.Content != nil {
		c.Content = n.Content.Clone()
	}
	if n.children != nil {
		c.children = maps.Clone(n.children)
	}
	return &c
}

// NodeView is a read-only handle on a node of a tree.
type NodeView struct {
	id NodeID
	n  *Node
}

// ID returns the node identity; names sharing an ID are hardlinks.
func (v NodeView) ID() NodeID { return v.id }

func (v NodeView) Kind() Kind { return v.n.Kind }

// Metadata returns a copy of the node's metadata.
func (v NodeView) Metadata() Metadata { return v.n.Meta.clone() }

// Xattrs returns the node's attribute set. It must not be modified.
func (v NodeView) Xattrs() *XattrSet { return &v.n.Xattrs }

// Content returns the file content of a regular file, or nil.
func (v NodeView) Content() *content.File { return v.n.Content }

// Target returns a symlink's target.
func (v NodeView) Target() string { return v.n.Target }

// Device returns a device node's number.
func (v NodeView) Device() Device { return v.n.Dev }

// Size returns the content size.
func (v NodeView) Size() int64 { return v.n.Size() }

// Nlink returns the number of names bound to the node.
func (v NodeView) Nlink() uint32 { return v.n.nlink }

// Children returns a directory's entry names in sorted order.
func (v NodeView) Children() []string {
	return slices.Sorted(maps.Keys(v.n.children))
}

// Child returns the ID of the named entry of a directory.
func (v NodeView) Child(name string) (NodeID, bool) {
	id, ok := v.n.children[name]
	return id, ok
}
