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

// Package archive turns the entries of extraction-style archives (tar, cpio)
// into tree operations. Archives describe final states, not mutations, so
// the emitter tracks which paths exist and fills the gaps: missing parent
// directories are created with default metadata, a later entry for an
// existing directory updates it in place, and a later entry for any other
// existing path replaces it.
package archive

import (
	"fmt"
	"slices"

	log "github.com/sirupsen/logrus"

	"fstree/internal/common"
	"fstree/internal/content"
	"fstree/internal/fsop"
	"fstree/internal/tree"
)

// Xattr is one extended attribute of an entry.
type Xattr struct {
	Name  string
	Value []byte
}

// Entry is one archive member. Path is already validated and normalized.
type Entry struct {
	Path   string
	Kind   tree.Kind
	Meta   tree.Metadata
	Xattrs []Xattr
	Data   content.Region // RegularFile
	Target string         // Symlink
	Dev    tree.Device    // CharDevice, BlockDevice
	// LinkTo, if set, makes the entry a hardlink to an earlier path.
	LinkTo string
}

// Emitter converts entries to operations and queues them.
type Emitter struct {
	format string
	kinds  map[string]tree.Kind
	// xattrs holds the attribute names last emitted per directory.
	xattrs map[string][]string
	queue  []fsop.Op
}

// NewEmitter returns an emitter whose log lines name format.
func NewEmitter(format string) *Emitter {
	return &Emitter{
		format: format,
		kinds:  map[string]tree.Kind{"": tree.Directory},
		xattrs: map[string][]string{},
	}
}

// Pop returns the next queued operation.
func (e *Emitter) Pop() (fsop.Op, bool) {
	if len(e.queue) == 0 {
		return nil, false
	}
	op := e.queue[0]
	e.queue[0] = nil
	e.queue = e.queue[1:]
	return op, true
}

// Push queues operations as they are.
func (e *Emitter) Push(ops ...fsop.Op) {
	e.queue = append(e.queue, ops...)
}

// Kind returns the kind of an already emitted path.
func (e *Emitter) Kind(p string) (tree.Kind, bool) {
	k, ok := e.kinds[p]
	return k, ok
}

// Emit queues the operations that materialize ent.
func (e *Emitter) Emit(ent Entry) error {
	if ent.Path == "" {
		if ent.LinkTo != "" || ent.Kind != tree.Directory {
			return fmt.Errorf("root entry must be a directory, got %s: %w", ent.Kind, common.ErrMalformedHeader)
		}
		e.update(ent)
		return nil
	}
	if err := e.ancestors(ent.Path); err != nil {
		return err
	}

	if ent.LinkTo != "" {
		target, ok := e.kinds[ent.LinkTo]
		if !ok {
			return fmt.Errorf("hardlink target %q: %w", ent.LinkTo, common.ErrPathNotFound)
		}
		if ent.LinkTo == ent.Path {
			return nil
		}
		if err := e.replace(ent.Path, target); err != nil {
			return err
		}
		e.Push(&fsop.Link{Path: ent.Path, Target: ent.LinkTo})
		e.kinds[ent.Path] = target
		return nil
	}

	if existing, ok := e.kinds[ent.Path]; ok && existing == tree.Directory && ent.Kind == tree.Directory {
		e.update(ent)
		return nil
	}
	if err := e.replace(ent.Path, ent.Kind); err != nil {
		return err
	}

	switch ent.Kind {
	case tree.Directory:
		e.Push(&fsop.CreateDir{Path: ent.Path, Meta: ent.Meta})
	case tree.RegularFile:
		e.Push(&fsop.CreateFile{Path: ent.Path, Meta: ent.Meta})
		if ent.Data.Len() > 0 {
			e.Push(&fsop.Write{Path: ent.Path, Data: ent.Data})
		}
	case tree.Symlink:
		e.Push(&fsop.CreateSymlink{Path: ent.Path, Target: ent.Target, Meta: ent.Meta})
	case tree.Fifo, tree.Socket, tree.CharDevice, tree.BlockDevice:
		e.Push(&fsop.CreateSpecial{Path: ent.Path, Kind: ent.Kind, Dev: ent.Dev, Meta: ent.Meta})
	default:
		return fmt.Errorf("entry kind %s: %w", ent.Kind, common.ErrMalformedHeader)
	}
	e.kinds[ent.Path] = ent.Kind
	e.setXattrs(ent)
	return nil
}

// ancestors synthesizes every missing parent directory of p.
func (e *Emitter) ancestors(p string) error {
	parts := common.SplitPath(p)
	dir := ""
	for _, name := range parts[:len(parts)-1] {
		dir = common.JoinPath(dir, name)
		k, ok := e.kinds[dir]
		if !ok {
			log.Debugf("[%s] synthesizing directory %q for %q", e.format, dir, p)
			e.Push(&fsop.CreateDir{Path: dir, Meta: tree.DefaultDirMetadata()})
			e.kinds[dir] = tree.Directory
			continue
		}
		if k != tree.Directory {
			return fmt.Errorf("parent %q of %q is a %s: %w", dir, p, k, common.ErrNotDir)
		}
	}
	return nil
}

// replace removes an existing entry at p, if any.
func (e *Emitter) replace(p string, kind tree.Kind) error {
	existing, ok := e.kinds[p]
	if !ok {
		return nil
	}
	log.Debugf("[%s] replacing %s %q with %s", e.format, existing, p, kind)
	if existing == tree.Directory {
		for other := range e.kinds {
			if other != p && common.ParentPath(other) == p {
				return fmt.Errorf("replace non-empty directory %q with %s: %w", p, kind, common.ErrNotEmpty)
			}
		}
		e.Push(&fsop.RemoveDir{Path: p})
	} else {
		e.Push(&fsop.Unlink{Path: p})
	}
	delete(e.kinds, p)
	delete(e.xattrs, p)
	return nil
}

// update applies an entry's attributes to an existing directory. The
// entry's xattrs replace the ones emitted for the directory before.
func (e *Emitter) update(ent Entry) {
	m := ent.Meta
	e.Push(&fsop.SetMetadata{
		Path:  ent.Path,
		Mode:  &m.Mode,
		UID:   &m.UID,
		GID:   &m.GID,
		Atime: &m.Atime,
		Mtime: &m.Mtime,
		Ctime: &m.Ctime,
	})
	for _, name := range e.xattrs[ent.Path] {
		if !slices.ContainsFunc(ent.Xattrs, func(x Xattr) bool { return x.Name == name }) {
			e.Push(&fsop.RemoveXattr{Path: ent.Path, Name: name})
		}
	}
	e.setXattrs(ent)
}

func (e *Emitter) setXattrs(ent Entry) {
	names := make([]string, 0, len(ent.Xattrs))
	for _, x := range ent.Xattrs {
		e.Push(&fsop.SetXattr{Path: ent.Path, Name: x.Name, Value: x.Value})
		names = append(names, x.Name)
	}
	if ent.Kind == tree.Directory && ent.LinkTo == "" {
		e.xattrs[ent.Path] = names
	}
}
