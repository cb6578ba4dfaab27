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

package sendstream

import (
	log "github.com/sirupsen/logrus"

	"fstree/internal/builder"
	"fstree/internal/source"
	"fstree/internal/tree"
)

// Build decodes every stream in src and returns the completed subvolume
// trees in the order they ended. Snapshots and clones find their source
// subvolume among the trees already built and parents, by UUID. When
// exactly one parent is given it is also the fallback for a snapshot whose
// parent UUID matches nothing.
//
// The caller owns the returned trees and the parents, and closes both.
func Build(src *source.Source, parents ...*tree.PathTree) ([]*tree.PathTree, error) {
	opts := []builder.Option{builder.WithRegistry(builder.Trees(parents))}
	if len(parents) == 1 {
		opts = append(opts, builder.WithParent(parents[0]))
	}
	b := builder.New(opts...)
	if err := b.Fold(NewReader(src)); err != nil {
		b.Close()
		return nil, err
	}
	if _, err := b.Finish(); err != nil {
		b.Close()
		return nil, err
	}
	trees := b.Trees()
	log.Debugf("[Sendstream] built %d subvolume(s) from %s", len(trees), src.Name())
	return trees, nil
}
