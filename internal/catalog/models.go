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

package catalog

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"fstree/internal/content"
	"fstree/internal/tree"
)

// TreeModel represents the trees table.
type TreeModel struct {
	bun.BaseModel `bun:"table:trees"`

	ID             int64   `bun:"id,pk,autoincrement"`
	Name           string  `bun:"name,notnull"`
	Nodes          int64   `bun:"nodes,notnull"`
	SubvolPath     *string `bun:"subvol_path"`
	SubvolUUID     *string `bun:"subvol_uuid"`
	SubvolCTransID *int64  `bun:"subvol_ctransid"`
	ParentUUID     *string `bun:"parent_uuid"`
	ParentCTransID *int64  `bun:"parent_ctransid"`
	CreatedAt      int64   `bun:"created_at,notnull"` // Unix timestamp
}

// NodeModel represents the nodes table. Times are RFC 3339 strings, NULL
// when unset.
type NodeModel struct {
	bun.BaseModel `bun:"table:nodes"`

	TreeID int64   `bun:"tree_id,pk"`
	NodeID int64   `bun:"node_id,pk"`
	Kind   int64   `bun:"kind,notnull"`
	Mode   int64   `bun:"mode,notnull"`
	UID    int64   `bun:"uid,notnull"`
	GID    int64   `bun:"gid,notnull"`
	Atime  *string `bun:"atime"`
	Mtime  *string `bun:"mtime"`
	Ctime  *string `bun:"ctime"`
	Otime  *string `bun:"otime"`
	Flags  int64   `bun:"flags,notnull"`
	Verity []byte  `bun:"verity"`
	Size   int64   `bun:"size,notnull"`
	Digest *string `bun:"digest"`
	Target *string `bun:"target"`
	Rdev   int64   `bun:"rdev,notnull"`
	Xattrs []byte  `bun:"xattrs"`
}

// NameModel represents the names table. Seq preserves walk order so parents
// are restored before their children.
type NameModel struct {
	bun.BaseModel `bun:"table:names"`

	TreeID int64  `bun:"tree_id,pk"`
	Seq    int64  `bun:"seq,pk"`
	Path   string `bun:"path,notnull"`
	NodeID int64  `bun:"node_id,notnull"`
}

type xattrPair struct {
	_     struct{} `cbor:",toarray"`
	Name  string
	Value []byte
}

type verityBlob struct {
	_         struct{} `cbor:",toarray"`
	Algorithm uint8
	BlockSize uint32
	Salt      []byte
	Signature []byte
}

var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

func strPtr(s string) *string {
	return &s
}

func int64Ptr(v int64) *int64 {
	return &v
}

func formatTime(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	return strPtr(t.UTC().Format(time.RFC3339Nano))
}

func parseTime(s *string) (time.Time, error) {
	if s == nil {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, *s)
}

// subvolumeFields fills the subvolume columns of m from t.
func (m *TreeModel) subvolumeFields(t *tree.PathTree) {
	s, ok := t.Subvolume()
	if !ok {
		return
	}
	m.SubvolPath = strPtr(s.Path)
	m.SubvolUUID = strPtr(s.UUID.String())
	m.SubvolCTransID = int64Ptr(int64(s.CTransID))
	if s.IsSnapshot() {
		m.ParentUUID = strPtr(s.ParentUUID.String())
		m.ParentCTransID = int64Ptr(int64(s.ParentCTransID))
	}
}

// Subvolume returns the stored subvolume identity, if any.
func (m *TreeModel) Subvolume() (tree.Subvolume, bool, error) {
	if m.SubvolUUID == nil {
		return tree.Subvolume{}, false, nil
	}
	id, err := uuid.Parse(*m.SubvolUUID)
	if err != nil {
		return tree.Subvolume{}, false, fmt.Errorf("subvolume uuid: %w", err)
	}
	s := tree.Subvolume{UUID: id}
	if m.SubvolPath != nil {
		s.Path = *m.SubvolPath
	}
	if m.SubvolCTransID != nil {
		s.CTransID = uint64(*m.SubvolCTransID)
	}
	if m.ParentUUID != nil {
		if s.ParentUUID, err = uuid.Parse(*m.ParentUUID); err != nil {
			return tree.Subvolume{}, false, fmt.Errorf("parent uuid: %w", err)
		}
	}
	if m.ParentCTransID != nil {
		s.ParentCTransID = uint64(*m.ParentCTransID)
	}
	return s, true, nil
}

// NodeModelFromView converts a tree node into a row. Regular files are
// stored by size and digest.
func NodeModelFromView(treeID int64, v tree.NodeView) (*NodeModel, error) {
	meta := v.Metadata()
	m := &NodeModel{
		TreeID: treeID,
		NodeID: int64(v.ID()),
		Kind:   int64(v.Kind()),
		Mode:   int64(meta.Mode),
		UID:    int64(meta.UID),
		GID:    int64(meta.GID),
		Atime:  formatTime(meta.Atime),
		Mtime:  formatTime(meta.Mtime),
		Ctime:  formatTime(meta.Ctime),
		Otime:  formatTime(meta.Otime),
		Flags:  int64(meta.Flags),
		Size:   v.Size(),
		Rdev:   int64(v.Device().Rdev()),
	}
	if vr := meta.Verity; vr != nil {
		b, err := encMode.Marshal(verityBlob{Algorithm: vr.Algorithm, BlockSize: vr.BlockSize, Salt: vr.Salt, Signature: vr.Signature})
		if err != nil {
			return nil, fmt.Errorf("encode verity: %w", err)
		}
		m.Verity = b
	}
	switch v.Kind() {
	case tree.RegularFile:
		h, err := v.Content().Digest()
		if err != nil {
			return nil, fmt.Errorf("digest: %w", err)
		}
		m.Digest = strPtr(h.String())
	case tree.Symlink:
		m.Target = strPtr(v.Target())
	}
	if v.Xattrs().Len() > 0 {
		pairs := make([]xattrPair, 0, v.Xattrs().Len())
		for name, value := range v.Xattrs().All() {
			pairs = append(pairs, xattrPair{Name: name, Value: value})
		}
		b, err := encMode.Marshal(pairs)
		if err != nil {
			return nil, fmt.Errorf("encode xattrs: %w", err)
		}
		m.Xattrs = b
	}
	return m, nil
}

// ToNode rebuilds a detached tree node from the row.
func (m *NodeModel) ToNode() (*tree.Node, error) {
	kind := tree.Kind(m.Kind)
	meta := tree.Metadata{
		Mode:  uint32(m.Mode),
		UID:   uint32(m.UID),
		GID:   uint32(m.GID),
		Flags: uint64(m.Flags),
	}
	var err error
	for _, f := range []struct {
		dst *time.Time
		src *string
	}{{&meta.Atime, m.Atime}, {&meta.Mtime, m.Mtime}, {&meta.Ctime, m.Ctime}, {&meta.Otime, m.Otime}} {
		if *f.dst, err = parseTime(f.src); err != nil {
			return nil, fmt.Errorf("node %d: %w", m.NodeID, err)
		}
	}
	if m.Verity != nil {
		var vb verityBlob
		if err := cbor.Unmarshal(m.Verity, &vb); err != nil {
			return nil, fmt.Errorf("node %d: decode verity: %w", m.NodeID, err)
		}
		meta.Verity = &tree.Verity{Algorithm: vb.Algorithm, BlockSize: vb.BlockSize, Salt: vb.Salt, Signature: vb.Signature}
	}

	var n *tree.Node
	switch kind {
	case tree.Directory:
		n = tree.NewDir(meta)
	case tree.RegularFile:
		if m.Digest == nil {
			return nil, fmt.Errorf("node %d: regular file without digest", m.NodeID)
		}
		h, err := content.ParseHash(*m.Digest)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", m.NodeID, err)
		}
		n = tree.NewRegular(meta, content.NewDigestOnly(m.Size, h))
	case tree.Symlink:
		var target string
		if m.Target != nil {
			target = *m.Target
		}
		n = tree.NewSymlink(meta, target)
	case tree.Fifo, tree.Socket, tree.CharDevice, tree.BlockDevice:
		n = tree.NewSpecial(kind, meta, tree.DeviceFromRdev(uint64(m.Rdev)))
	default:
		return nil, fmt.Errorf("node %d: unknown kind %d", m.NodeID, m.Kind)
	}

	if m.Xattrs != nil {
		var pairs []xattrPair
		if err := cbor.Unmarshal(m.Xattrs, &pairs); err != nil {
			return nil, fmt.Errorf("node %d: decode xattrs: %w", m.NodeID, err)
		}
		for _, p := range pairs {
			n.Xattrs.Set(p.Name, p.Value)
		}
	}
	return n, nil
}
