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

package fsop

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fstree/internal/content"
)

func TestOpNames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		op   Op
		name string
		path string
	}{
		{&CreateDir{Path: "d"}, "mkdir", "d"},
		{&CreateFile{Path: "f"}, "mkfile", "f"},
		{&Write{Path: "f", Data: content.Bytes([]byte("x"))}, "write", "f"},
		{&Write{Path: "f", Hole: 4096}, "hole", "f"},
		{&Write{Path: "f", Clone: &CloneSource{Path: "g", Len: 1}}, "clone", "f"},
		{&Rename{From: "a", To: "b"}, "rename", "a"},
		{&Link{Path: "l", Target: "f"}, "link", "l"},
		{&SetMetadata{Path: "f"}, "set_metadata", "f"},
		{&SnapshotEnd{}, "end", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.name, tt.op.OpName())
		assert.Equal(t, tt.path, tt.op.OpPath())
	}
}

func TestSliceAndCollect(t *testing.T) {
	t.Parallel()

	ops := []Op{&CreateDir{Path: "a"}, &CreateFile{Path: "a/b"}}
	got, err := Collect(Slice(ops...))
	require.NoError(t, err)
	assert.Equal(t, ops, got)

	r := Slice()
	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

type failingReader struct {
	ops []Op
	err error
}

func (r *failingReader) Next() (Op, error) {
	if len(r.ops) == 0 {
		return nil, r.err
	}
	op := r.ops[0]
	r.ops = r.ops[1:]
	return op, nil
}

func TestCollectStopsOnError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	got, err := Collect(&failingReader{ops: []Op{&Unlink{Path: "x"}}, err: boom})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, got, 1)
}
