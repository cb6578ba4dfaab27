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

package builder

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"fstree/internal/common"
	"fstree/internal/content"
	"fstree/internal/fsop"
	"fstree/internal/tree"
)

func (b *Builder) apply(t *tree.PathTree, op fsop.Op) error {
	switch o := op.(type) {
	case *fsop.CreateDir:
		_, err := t.InsertPath(o.Path, tree.NewDir(o.Meta))
		return err
	case *fsop.CreateFile:
		_, err := t.InsertPath(o.Path, tree.NewRegular(o.Meta, nil))
		return err
	case *fsop.CreateSymlink:
		_, err := t.InsertPath(o.Path, tree.NewSymlink(o.Meta, o.Target))
		return err
	case *fsop.CreateSpecial:
		switch o.Kind {
		case tree.Fifo, tree.Socket, tree.CharDevice, tree.BlockDevice:
		default:
			return fmt.Errorf("special node of kind %s: %w", o.Kind, common.ErrInvalidPath)
		}
		_, err := t.InsertPath(o.Path, tree.NewSpecial(o.Kind, o.Meta, o.Dev))
		return err
	case *fsop.Link:
		target, err := t.Resolve(o.Target)
		if err != nil {
			return fmt.Errorf("link target: %w", err)
		}
		dir, name, err := t.ResolveParent(o.Path)
		if err != nil {
			return err
		}
		return t.Link(target, dir, name)
	case *fsop.Rename:
		return t.Rename(o.From, o.To)
	case *fsop.Unlink:
		v, err := lookup(t, o.Path)
		if err != nil {
			return err
		}
		if v.Kind() == tree.Directory {
			return common.ErrIsDir
		}
		return t.Remove(o.Path)
	case *fsop.RemoveDir:
		v, err := lookup(t, o.Path)
		if err != nil {
			return err
		}
		if v.Kind() != tree.Directory {
			return common.ErrNotDir
		}
		return t.Remove(o.Path)
	case *fsop.Write:
		return b.write(t, o)
	case *fsop.Truncate:
		return mutateFile(t, o.Path, func(f *content.File) error {
			size, err := toOffset("truncate size", o.Size)
			if err != nil {
				return err
			}
			if o.GrowOnly && size <= f.Len() {
				return nil
			}
			return f.Truncate(size)
		})
	case *fsop.SetXattr:
		return mutate(t, o.Path, func(n *tree.Node) error {
			n.Xattrs.Set(o.Name, o.Value)
			return nil
		})
	case *fsop.RemoveXattr:
		return mutate(t, o.Path, func(n *tree.Node) error {
			if !n.Xattrs.Remove(o.Name) {
				return fmt.Errorf("xattr %q: %w", o.Name, common.ErrPathNotFound)
			}
			return nil
		})
	case *fsop.SetMetadata:
		return mutate(t, o.Path, func(n *tree.Node) error {
			setMetadata(&n.Meta, o)
			return nil
		})
	}
	return fmt.Errorf("operation %T: %w", op, common.ErrUnsupportedCommand)
}

func setMetadata(m *tree.Metadata, o *fsop.SetMetadata) {
	if o.Mode != nil {
		m.Mode = *o.Mode & tree.PermMask
	}
	if o.UID != nil {
		m.UID = *o.UID
	}
	if o.GID != nil {
		m.GID = *o.GID
	}
	if o.Atime != nil {
		m.Atime = *o.Atime
	}
	if o.Mtime != nil {
		m.Mtime = *o.Mtime
	}
	if o.Ctime != nil {
		m.Ctime = *o.Ctime
	}
	if o.Otime != nil {
		m.Otime = *o.Otime
	}
	if o.Flags != nil {
		m.Flags = *o.Flags
	}
	if o.Verity != nil {
		m.Verity = o.Verity.Clone()
	}
}

func (b *Builder) write(t *tree.PathTree, o *fsop.Write) error {
	off, err := toOffset("write offset", o.Offset)
	if err != nil {
		return err
	}
	switch {
	case o.Clone != nil:
		exts, err := b.cloneExtents(t, o.Clone)
		if err != nil {
			return err
		}
		return mutateFile(t, o.Path, func(f *content.File) error {
			if err := f.WriteExtents(off, exts); err != nil {
				return err
			}
			for _, e := range exts {
				t.Retain(e.Region().Backing())
			}
			return nil
		})
	case o.Hole > 0:
		n, err := toOffset("hole length", o.Hole)
		if err != nil {
			return err
		}
		return mutateFile(t, o.Path, func(f *content.File) error {
			if o.KeepSize {
				if off >= f.Len() {
					return nil
				}
				n = min(n, f.Len()-off)
			}
			return f.WriteHole(off, n)
		})
	default:
		return mutateFile(t, o.Path, func(f *content.File) error {
			if err := f.Write(off, o.Data); err != nil {
				return err
			}
			t.Retain(o.Data.Backing())
			return nil
		})
	}
}

// cloneExtents returns the extents of the clone source range, tagged with
// their origin. Bytes are shared, not copied.
func (b *Builder) cloneExtents(t *tree.PathTree, src *fsop.CloneSource) ([]content.Extent, error) {
	srcTree := t
	if src.Subvolume != uuid.Nil {
		if s, ok := t.Subvolume(); !ok || s.UUID != src.Subvolume {
			var err error
			if srcTree, err = b.lookupSubvolume(src.Subvolume); err != nil {
				return nil, fmt.Errorf("clone source: %w", err)
			}
		}
	}
	v, err := lookup(srcTree, src.Path)
	if err != nil {
		return nil, fmt.Errorf("clone source: %w", err)
	}
	if v.Kind() != tree.RegularFile {
		return nil, fmt.Errorf("clone source %q is a %s: %w", src.Path, v.Kind(), common.ErrInvalidPath)
	}
	off, err := toOffset("clone offset", src.Offset)
	if err != nil {
		return nil, err
	}
	n, err := toOffset("clone length", src.Len)
	if err != nil {
		return nil, err
	}
	exts, err := v.Content().Slice(off, n)
	if err != nil {
		return nil, fmt.Errorf("clone source %q: %w", src.Path, err)
	}
	origin := content.CloneOrigin{Subvolume: src.Subvolume, Path: src.Path, Offset: src.Offset}
	var pos uint64
	for i, e := range exts {
		if e.IsHole() {
			pos += uint64(e.Len())
			continue
		}
		o := origin
		o.Offset += pos
		exts[i] = e.WithOrigin(o)
		pos += uint64(e.Len())
	}
	return exts, nil
}

// toOffset converts a stream-supplied position or length to a file offset.
func toOffset(what string, v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("%s %d: %w", what, v, content.ErrOutOfRange)
	}
	return int64(v), nil
}

func lookup(t *tree.PathTree, p string) (tree.NodeView, error) {
	id, err := t.Resolve(p)
	if err != nil {
		return tree.NodeView{}, err
	}
	v, _ := t.Node(id)
	return v, nil
}

func mutate(t *tree.PathTree, p string, fn func(n *tree.Node) error) error {
	id, err := t.Resolve(p)
	if err != nil {
		return err
	}
	return t.Mutate(id, fn)
}

func mutateFile(t *tree.PathTree, p string, fn func(f *content.File) error) error {
	return mutate(t, p, func(n *tree.Node) error {
		if n.Kind != tree.RegularFile {
			if n.Kind == tree.Directory {
				return common.ErrIsDir
			}
			return fmt.Errorf("%s is not a regular file: %w", n.Kind, common.ErrInvalidPath)
		}
		return fn(n.Content)
	})
}
