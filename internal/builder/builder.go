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

// Package builder replays operation sequences into trees.
package builder

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"fstree/internal/common"
	"fstree/internal/fsop"
	"fstree/internal/tree"
)

// ErrNoSubvolume is returned for operations arriving after a subvolume ended
// and before the next one began.
var ErrNoSubvolume = errors.New("no open subvolume")

// Registry resolves subvolume UUIDs to previously built trees.
type Registry interface {
	Lookup(id uuid.UUID) (*tree.PathTree, bool)
}

// Trees is a Registry over a list of trees, keyed by their subvolume UUIDs.
type Trees []*tree.PathTree

func (ts Trees) Lookup(id uuid.UUID) (*tree.PathTree, bool) {
	for i := len(ts) - 1; i >= 0; i-- {
		if s, ok := ts[i].Subvolume(); ok && s.UUID == id {
			return ts[i], true
		}
	}
	return nil, false
}

// Option configures a Builder.
type Option func(*Builder)

// WithParent starts the build from a fork of parent. Snapshots whose parent
// UUID is not otherwise known also resolve to it.
func WithParent(parent *tree.PathTree) Option {
	return func(b *Builder) {
		b.parent = parent
	}
}

// WithRegistry supplies subvolumes that snapshots and clones may refer to.
func WithRegistry(r Registry) Option {
	return func(b *Builder) {
		b.registry = r
	}
}

type state int

const (
	stateIdle  state = iota // no tree yet, or a seed tree with no changes
	stateOpen               // building a tree
	stateEnded              // a subvolume just ended
)

// Builder applies operations to a tree, one at a time and in order. Any
// failure is final: the builder keeps returning the first error.
type Builder struct {
	parent   *tree.PathTree
	registry Registry

	cur   *tree.PathTree
	done  []*tree.PathTree
	state state
	index int
	err   error
}

// New returns a builder.
func New(opts ...Option) *Builder {
	b := &Builder{}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Tree returns the tree being built, or the last completed one.
func (b *Builder) Tree() *tree.PathTree {
	if b.cur == nil && len(b.done) > 0 {
		return b.done[len(b.done)-1]
	}
	return b.current()
}

// Trees returns completed subvolume trees in the order they ended.
func (b *Builder) Trees() []*tree.PathTree {
	return append([]*tree.PathTree(nil), b.done...)
}

// Fold applies every operation r produces.
func (b *Builder) Fold(r fsop.OpReader) error {
	for {
		op, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := b.Apply(op); err != nil {
			return err
		}
	}
}

// Finish completes any open subvolume and returns the final tree.
func (b *Builder) Finish() (*tree.PathTree, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.state == stateOpen && b.cur != nil {
		if _, ok := b.cur.Subvolume(); ok {
			b.endSubvolume()
		}
	}
	return b.Tree(), nil
}

// Close releases every tree the builder holds.
func (b *Builder) Close() error {
	var errs []error
	for _, t := range b.done {
		errs = append(errs, t.Close())
	}
	if b.cur != nil {
		errs = append(errs, b.cur.Close())
	}
	b.done, b.cur = nil, nil
	return errors.Join(errs...)
}

// Apply applies one operation.
func (b *Builder) Apply(op fsop.Op) error {
	if b.err != nil {
		return b.err
	}
	b.index++
	log.WithFields(log.Fields{"index": b.index, "op": op.OpName(), "path": op.OpPath()}).Trace("[Builder] apply")

	var err error
	switch o := op.(type) {
	case *fsop.SnapshotBegin:
		err = b.beginSubvolume(o)
	case *fsop.SnapshotEnd:
		if b.state != stateOpen {
			err = ErrNoSubvolume
			break
		}
		b.endSubvolume()
	default:
		if b.state == stateEnded {
			err = ErrNoSubvolume
			break
		}
		b.state = stateOpen
		err = b.apply(b.current(), op)
	}
	if err != nil {
		b.err = &common.OpError{Index: b.index, Op: op.OpName(), Path: op.OpPath(), Err: err}
		return b.err
	}
	return nil
}

func (b *Builder) current() *tree.PathTree {
	if b.cur == nil {
		if b.parent != nil {
			b.cur = b.parent.Fork()
		} else {
			b.cur = tree.New()
		}
	}
	return b.cur
}

func (b *Builder) beginSubvolume(o *fsop.SnapshotBegin) error {
	switch {
	case b.state == stateOpen:
		b.endSubvolume()
	case b.cur != nil:
		// untouched seed tree
		if err := b.cur.Close(); err != nil {
			return err
		}
		b.cur = nil
	}

	var t *tree.PathTree
	if o.ParentUUID == uuid.Nil {
		t = tree.New()
		log.Debugf("[Builder] subvolume %q (%s)", o.Path, o.UUID)
	} else {
		parent, err := b.lookupSubvolume(o.ParentUUID)
		if err != nil {
			return err
		}
		t = parent.Fork()
		log.Debugf("[Builder] snapshot %q (%s) of %s", o.Path, o.UUID, o.ParentUUID)
	}
	t.SetSubvolume(tree.Subvolume{
		Path:           o.Path,
		UUID:           o.UUID,
		CTransID:       o.CTransID,
		ParentUUID:     o.ParentUUID,
		ParentCTransID: o.ParentCTransID,
	})
	b.cur = t
	b.state = stateOpen
	return nil
}

func (b *Builder) endSubvolume() {
	if s, ok := b.cur.Subvolume(); ok {
		log.Debugf("[Builder] end of subvolume %q: %d nodes", s.Path, b.cur.Len())
	}
	b.done = append(b.done, b.cur)
	b.cur = nil
	b.state = stateEnded
}

// lookupSubvolume finds a subvolume by UUID among the trees completed by this
// builder, the registry and the explicit parent, falling back to the explicit
// parent when nothing matches.
func (b *Builder) lookupSubvolume(id uuid.UUID) (*tree.PathTree, error) {
	if t, ok := Trees(b.done).Lookup(id); ok {
		return t, nil
	}
	if b.cur != nil {
		if s, ok := b.cur.Subvolume(); ok && s.UUID == id {
			return b.cur, nil
		}
	}
	if b.registry != nil {
		if t, ok := b.registry.Lookup(id); ok {
			return t, nil
		}
	}
	if b.parent != nil {
		if s, ok := b.parent.Subvolume(); ok && s.UUID != id {
			log.Debugf("[Builder] subvolume %s not found, using parent %s", id, s.UUID)
		}
		return b.parent, nil
	}
	return nil, fmt.Errorf("%s: %w", id, common.ErrUnknownParentSubvolume)
}
