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

// Package catalog keeps manifests of built trees in a SQLite database so
// that a later tree can be diffed against one built earlier. File contents
// are not stored, only their sizes and digests.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"
	_ "github.com/tursodatabase/go-libsql"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"fstree/internal/common"
	"fstree/internal/tree"
	"fstree/internal/util"
)

// ErrNotFound is returned for unknown manifest names.
var ErrNotFound = errors.New("manifest not found")

// Info describes a stored manifest.
type Info struct {
	Name      string
	Nodes     int
	Subvolume *tree.Subvolume
	CreatedAt time.Time
}

// Store is an open catalog database.
type Store struct {
	path string
	db   *bun.DB
	lock *flock.Flock
}

// Open opens the catalog at path, creating it and its schema if needed.
func Open(path string) (*Store, error) {
	sqlDB, err := sql.Open("libsql", buildDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	if err := applyPragmas(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := execStatements(sqlDB, catalogSchema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	if err := execStatements(sqlDB, initCatalog, SchemaVersion); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize catalog: %w", err)
	}
	log.Debugf("[Catalog] opened %s", path)
	return &Store{
		path: path,
		db:   bun.NewDB(sqlDB, sqlitedialect.New()),
		lock: flock.New(path + ".lock"),
	}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// locked runs fn while holding the cross-process writer lock. A busy lock
// is retried with backoff.
func (s *Store) locked(ctx context.Context, fn func(context.Context, bun.Tx) error) error {
	return util.Retry(ctx, func() error {
		ok, err := s.lock.TryLock()
		if err != nil {
			return fmt.Errorf("failed to acquire lock: %w", err)
		}
		if !ok {
			return fmt.Errorf("%s: %w", s.lock.Path(), util.ErrLockBusy)
		}
		defer s.lock.Unlock()
		return s.db.RunInTx(ctx, nil, fn)
	}, util.LockRetryOptions(ctx)...)
}

// Save stores t under name, replacing any manifest of that name. Every
// regular file is digested.
func (s *Store) Save(ctx context.Context, name string, t *tree.PathTree) error {
	if name == "" {
		return fmt.Errorf("empty manifest name: %w", common.ErrInvalidPath)
	}

	var nodes []*NodeModel
	var names []*NameModel
	seen := make(map[tree.NodeID]bool)
	for p, v := range t.Walk() {
		names = append(names, &NameModel{Seq: int64(len(names)), Path: p, NodeID: int64(v.ID())})
		if seen[v.ID()] {
			continue
		}
		seen[v.ID()] = true
		m, err := NodeModelFromView(0, v)
		if err != nil {
			return fmt.Errorf("save %q: %q: %w", name, p, err)
		}
		nodes = append(nodes, m)
	}

	err := s.locked(ctx, func(ctx context.Context, tx bun.Tx) error {
		if err := deleteTree(ctx, tx, name); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		tm := &TreeModel{Name: name, Nodes: int64(len(nodes)), CreatedAt: time.Now().Unix()}
		tm.subvolumeFields(t)
		// libsql does not report LastInsertId
		if _, err := tx.NewInsert().Model(tm).Returning("id").Exec(ctx); err != nil {
			return fmt.Errorf("insert tree: %w", err)
		}
		for _, m := range nodes {
			m.TreeID = tm.ID
		}
		for _, m := range names {
			m.TreeID = tm.ID
		}
		if err := insertBatched(ctx, tx, nodes); err != nil {
			return fmt.Errorf("insert nodes: %w", err)
		}
		if err := insertBatched(ctx, tx, names); err != nil {
			return fmt.Errorf("insert names: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save %q: %w", name, err)
	}
	log.Infof("[Catalog] saved %q: %d nodes, %d names", name, len(nodes), len(names))
	return nil
}

func insertBatched[T any](ctx context.Context, tx bun.Tx, rows []*T) error {
	for len(rows) > 0 {
		n := min(len(rows), insertBatch)
		batch := rows[:n]
		if _, err := tx.NewInsert().Model(&batch).Exec(ctx); err != nil {
			return err
		}
		rows = rows[n:]
	}
	return nil
}

func findTree(ctx context.Context, idb bun.IDB, name string) (*TreeModel, error) {
	var tm TreeModel
	err := idb.NewSelect().Model(&tm).Where("name = ?", name).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &tm, nil
}

func deleteTree(ctx context.Context, idb bun.IDB, name string) error {
	tm, err := findTree(ctx, idb, name)
	if err != nil {
		return err
	}
	if _, err := idb.NewDelete().Model((*NameModel)(nil)).Where("tree_id = ?", tm.ID).Exec(ctx); err != nil {
		return err
	}
	if _, err := idb.NewDelete().Model((*NodeModel)(nil)).Where("tree_id = ?", tm.ID).Exec(ctx); err != nil {
		return err
	}
	if _, err := idb.NewDelete().Model((*TreeModel)(nil)).Where("id = ?", tm.ID).Exec(ctx); err != nil {
		return err
	}
	return nil
}

// Load rebuilds the manifest saved under name. Regular files of the
// returned tree carry only a size and digest; their bytes are unavailable.
func (s *Store) Load(ctx context.Context, name string) (*tree.PathTree, error) {
	tm, err := findTree(ctx, s.db, name)
	if err != nil {
		return nil, err
	}
	var nodes []NodeModel
	if err := s.db.NewSelect().Model(&nodes).Where("tree_id = ?", tm.ID).Scan(ctx); err != nil {
		return nil, fmt.Errorf("load %q: nodes: %w", name, err)
	}
	var names []NameModel
	if err := s.db.NewSelect().Model(&names).Where("tree_id = ?", tm.ID).Order("seq ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("load %q: names: %w", name, err)
	}

	byID := make(map[int64]*NodeModel, len(nodes))
	for i := range nodes {
		byID[nodes[i].NodeID] = &nodes[i]
	}

	t := tree.New()
	placed := make(map[int64]tree.NodeID, len(nodes))
	for _, nm := range names {
		if err := restore(t, nm, byID, placed); err != nil {
			t.Close()
			return nil, fmt.Errorf("load %q: %q: %w", name, nm.Path, err)
		}
	}
	if sv, ok, err := tm.Subvolume(); err != nil {
		t.Close()
		return nil, fmt.Errorf("load %q: %w", name, err)
	} else if ok {
		t.SetSubvolume(sv)
	}
	log.Debugf("[Catalog] loaded %q: %d nodes", name, t.Len())
	return t, nil
}

func restore(t *tree.PathTree, nm NameModel, byID map[int64]*NodeModel, placed map[int64]tree.NodeID) error {
	row, ok := byID[nm.NodeID]
	if !ok {
		return fmt.Errorf("node %d: %w", nm.NodeID, common.ErrPathNotFound)
	}
	n, err := row.ToNode()
	if err != nil {
		return err
	}
	if nm.Path == "" {
		placed[nm.NodeID] = tree.RootID
		return t.Mutate(tree.RootID, func(root *tree.Node) error {
			root.Meta = n.Meta
			root.Xattrs = n.Xattrs
			return nil
		})
	}
	if id, ok := placed[nm.NodeID]; ok {
		dir, base, err := t.ResolveParent(nm.Path)
		if err != nil {
			return err
		}
		return t.Link(id, dir, base)
	}
	id, err := t.InsertPath(nm.Path, n)
	if err != nil {
		return err
	}
	placed[nm.NodeID] = id
	return nil
}

// List returns the stored manifests ordered by name.
func (s *Store) List(ctx context.Context) ([]Info, error) {
	var trees []TreeModel
	if err := s.db.NewSelect().Model(&trees).Order("name ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}
	infos := make([]Info, 0, len(trees))
	for i := range trees {
		info := Info{
			Name:      trees[i].Name,
			Nodes:     int(trees[i].Nodes),
			CreatedAt: time.Unix(trees[i].CreatedAt, 0),
		}
		sv, ok, err := trees[i].Subvolume()
		if err != nil {
			return nil, fmt.Errorf("list manifests: %q: %w", trees[i].Name, err)
		}
		if ok {
			info.Subvolume = &sv
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Delete removes the manifest saved under name.
func (s *Store) Delete(ctx context.Context, name string) error {
	err := s.locked(ctx, func(ctx context.Context, tx bun.Tx) error {
		return deleteTree(ctx, tx, name)
	})
	if err != nil {
		return fmt.Errorf("delete %q: %w", name, err)
	}
	log.Infof("[Catalog] deleted %q", name)
	return nil
}
