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

package content

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fstree/internal/common"
)

func mustBytes(t *testing.T, f *File) []byte {
	t.Helper()
	b, err := f.Bytes()
	require.NoError(t, err)
	return b
}

func TestFileWrite(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		writes func(f *File) error
		want   string
	}{
		{
			name: "append",
			writes: func(f *File) error {
				if err := f.Write(0, Bytes([]byte("Lorem ipsum"))); err != nil {
					return err
				}
				return f.Write(11, Bytes([]byte(" dolor sit amet")))
			},
			want: "Lorem ipsum dolor sit amet",
		},
		{
			name: "overwrite middle",
			writes: func(f *File) error {
				if err := f.Write(0, Bytes([]byte("aaaaaaaa"))); err != nil {
					return err
				}
				return f.Write(2, Bytes([]byte("bbb")))
			},
			want: "aabbbaaa",
		},
		{
			name: "overwrite spanning extents",
			writes: func(f *File) error {
				if err := f.Write(0, Bytes([]byte("aaaa"))); err != nil {
					return err
				}
				if err := f.Write(4, Bytes([]byte("bbbb"))); err != nil {
					return err
				}
				return f.Write(3, Bytes([]byte("cc")))
			},
			want: "aaaccbbb",
		},
		{
			name: "write past end leaves hole",
			writes: func(f *File) error {
				return f.Write(3, Bytes([]byte("x")))
			},
			want: "\x00\x00\x00x",
		},
		{
			name: "write extends past end",
			writes: func(f *File) error {
				if err := f.Write(0, Bytes([]byte("abc"))); err != nil {
					return err
				}
				return f.Write(2, Bytes([]byte("XYZ")))
			},
			want: "abXYZ",
		},
		{
			name: "hole over data",
			writes: func(f *File) error {
				if err := f.Write(0, Bytes([]byte("abcdef"))); err != nil {
					return err
				}
				return f.WriteHole(1, 2)
			},
			want: "a\x00\x00def",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := NewFile()
			require.NoError(t, tt.writes(f))
			assert.Equal(t, int64(len(tt.want)), f.Len())
			assert.Equal(t, tt.want, string(mustBytes(t, f)))
		})
	}
}

func TestFileZeroCopy(t *testing.T) {
	t.Parallel()

	archive := []byte("header|Lorem ipsum|trailer")
	b := NewBacking("archive", archive, nil)
	r, err := b.Region(7, 11)
	require.NoError(t, err)

	f := FromRegion(r)
	exts := f.Extents()
	require.Len(t, exts, 1)
	assert.Same(t, b, exts[0].Region().Backing())
	assert.Equal(t, int64(7), exts[0].Region().Offset())

	data, err := exts[0].Region().Data()
	require.NoError(t, err)
	assert.Equal(t, "Lorem ipsum", string(data))
	assert.Equal(t, []*Backing{b}, f.Backings())
}

func TestFileTruncate(t *testing.T) {
	t.Parallel()

	f := FromBytes([]byte("Lorem ipsum"))
	require.NoError(t, f.Truncate(5))
	assert.Equal(t, "Lorem", string(mustBytes(t, f)))

	require.NoError(t, f.Truncate(7))
	assert.Equal(t, "Lorem\x00\x00", string(mustBytes(t, f)))

	assert.ErrorIs(t, f.Truncate(-1), ErrOutOfRange)
}

func TestFileSliceAndClone(t *testing.T) {
	t.Parallel()

	src := FromBytes([]byte("0123456789"))
	exts, err := src.Slice(2, 5)
	require.NoError(t, err)

	dst := FromBytes([]byte("abcdefgh"))
	require.NoError(t, dst.WriteExtents(1, exts))
	assert.Equal(t, "a23456gh", string(mustBytes(t, dst)))

	_, err = src.Slice(8, 5)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = src.Slice(1<<62, 1<<62)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = src.Slice(3, math.MaxInt64)
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.ErrorIs(t, dst.WriteExtents(math.MaxInt64-2, exts), ErrOutOfRange)
	assert.Equal(t, "a23456gh", string(mustBytes(t, dst)))

	c := src.Clone()
	require.NoError(t, c.Write(0, Bytes([]byte("X"))))
	assert.Equal(t, "0123456789", string(mustBytes(t, src)))
	assert.Equal(t, "X123456789", string(mustBytes(t, c)))
}

func TestCloneOriginOffsets(t *testing.T) {
	t.Parallel()

	src := FromBytes([]byte("0123456789"))
	exts, err := src.Slice(0, 10)
	require.NoError(t, err)
	require.Len(t, exts, 1)

	cloned := exts[0].WithOrigin(CloneOrigin{Path: "src", Offset: 0})
	dst := NewFile()
	require.NoError(t, dst.WriteExtents(0, []Extent{cloned}))
	part, err := dst.Slice(4, 2)
	require.NoError(t, err)
	require.Len(t, part, 1)
	require.NotNil(t, part[0].Origin())
	assert.Equal(t, uint64(4), part[0].Origin().Offset)
	assert.Equal(t, "src", part[0].Origin().Path)
}

func TestDigest(t *testing.T) {
	t.Parallel()

	f := FromBytes([]byte("Lorem ipsum"))
	h1, err := f.Digest()
	require.NoError(t, err)
	assert.Equal(t, Sum([]byte("Lorem ipsum")), h1)

	require.NoError(t, f.Write(0, Bytes([]byte("l"))))
	h2, err := f.Digest()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
	assert.Equal(t, Sum([]byte("lorem ipsum")), h2)

	parsed, err := ParseHash(h2.String())
	require.NoError(t, err)
	assert.Equal(t, h2, parsed)

	_, err = ParseHash("abcd")
	assert.Error(t, err)
}

func TestDigestOnly(t *testing.T) {
	t.Parallel()

	h := Sum([]byte("Lorem ipsum"))
	f := NewDigestOnly(11, h)
	assert.False(t, f.Available())

	got, err := f.Digest()
	require.NoError(t, err)
	assert.Equal(t, h, got)

	_, err = f.Reader()
	assert.ErrorIs(t, err, common.ErrContentUnavailable)
	assert.ErrorIs(t, f.Write(0, Bytes([]byte("x"))), common.ErrContentUnavailable)

	for _, exact := range []bool{false, true} {
		eq, err := Equal(f, FromBytes([]byte("Lorem ipsum")), exact)
		require.NoError(t, err)
		assert.True(t, eq)
	}
}

func TestEqual(t *testing.T) {
	t.Parallel()

	big := bytes.Repeat([]byte("abcdefghij"), ChunkSize/5)
	bigOther := append([]byte(nil), big...)
	bigOther[len(bigOther)-1] = 'X'

	holes := NewFile()
	require.NoError(t, holes.Truncate(4))

	tests := []struct {
		name string
		a, b *File
		want bool
	}{
		{"same bytes", FromBytes([]byte("abc")), FromBytes([]byte("abc")), true},
		{"different bytes", FromBytes([]byte("abc")), FromBytes([]byte("abd")), false},
		{"different length", FromBytes([]byte("abc")), FromBytes([]byte("abcd")), false},
		{"hole equals zeros", holes, FromBytes(make([]byte, 4)), true},
		{"multi chunk", FromBytes(big), FromBytes(append([]byte(nil), big...)), true},
		{"multi chunk tail differs", FromBytes(big), FromBytes(bigOther), false},
		{"empty", NewFile(), FromBytes(nil), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			for _, exact := range []bool{false, true} {
				got, err := Equal(tt.a, tt.b, exact)
				require.NoError(t, err)
				assert.Equal(t, tt.want, got, "exact=%v", exact)
			}
		})
	}
}

func TestBackingRelease(t *testing.T) {
	t.Parallel()

	released := 0
	b := NewBacking("mapped", []byte("data"), func() error {
		released++
		return nil
	})
	r, err := b.Region(0, 4)
	require.NoError(t, err)

	b.Retain()
	require.NoError(t, b.Release())
	assert.False(t, b.Released())
	assert.Equal(t, 0, released)

	require.NoError(t, b.Release())
	assert.True(t, b.Released())
	assert.Equal(t, 1, released)

	_, err = r.Data()
	assert.True(t, errors.Is(err, common.ErrReleased))
	assert.Error(t, b.Release())

	_, err = b.Region(2, 4)
	assert.ErrorIs(t, err, common.ErrTruncatedStream)
}
