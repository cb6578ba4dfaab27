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

package tar

import (
	"archive/tar"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fstree/internal/builder"
	"fstree/internal/common"
	"fstree/internal/source"
	"fstree/internal/tree"
)

type fixture struct {
	hdr  tar.Header
	data string
}

func writeTar(t *testing.T, entries ...fixture) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		hdr := e.hdr
		if hdr.Typeflag == tar.TypeReg {
			hdr.Size = int64(len(e.data))
		}
		require.NoError(t, tw.WriteHeader(&hdr))
		if e.data != "" {
			_, err := tw.Write([]byte(e.data))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func buildTar(t *testing.T, data []byte) (*tree.PathTree, *source.Source, error) {
	t.Helper()
	src, err := source.FromBytes("test.tar", data)
	require.NoError(t, err)
	b := builder.New()
	if err := b.Fold(NewReader(src)); err != nil {
		return nil, src, err
	}
	tr, err := b.Finish()
	return tr, src, err
}

func fileData(t *testing.T, tr *tree.PathTree, p string) string {
	t.Helper()
	v, ok := tr.Lookup(p)
	require.True(t, ok, "%s missing", p)
	data, err := v.Content().Bytes()
	require.NoError(t, err)
	return string(data)
}

func TestLoremScenario(t *testing.T) {
	t.Parallel()

	mtime := time.Unix(1600000000, 0)
	archive := writeTar(t,
		fixture{hdr: tar.Header{Name: "testdata/", Typeflag: tar.TypeDir, Mode: 0o755, ModTime: mtime}},
		fixture{hdr: tar.Header{
			Name: "testdata/lorem.txt", Typeflag: tar.TypeReg, Mode: 0o644, Uid: 1000, Gid: 100, ModTime: mtime,
			PAXRecords: map[string]string{"SCHILY.xattr.user.demo": "lorem ipsum"},
			Format:     tar.FormatPAX,
		}, data: "Lorem ipsum"},
		fixture{hdr: tar.Header{Name: "testdata/dir/", Typeflag: tar.TypeDir, Mode: 0o755, ModTime: mtime}},
		fixture{hdr: tar.Header{Name: "testdata/dir/lorem.txt", Typeflag: tar.TypeReg, Mode: 0o644, ModTime: mtime},
			data: "Lorem ipsum dolor sit amet"},
		fixture{hdr: tar.Header{Name: "testdata/dir/symlink", Typeflag: tar.TypeSymlink, Linkname: "../lorem.txt", ModTime: mtime}},
	)

	tr, src, err := buildTar(t, archive)
	require.NoError(t, err)

	link, ok := tr.Lookup("testdata/dir/symlink")
	require.True(t, ok)
	assert.Equal(t, tree.Symlink, link.Kind())
	assert.Equal(t, "../lorem.txt", link.Target())

	lorem, ok := tr.Lookup("testdata/lorem.txt")
	require.True(t, ok)
	assert.Equal(t, 1, lorem.Xattrs().Len())
	v, ok := lorem.Xattrs().Get("user.demo")
	require.True(t, ok)
	assert.Equal(t, "lorem ipsum", string(v))

	meta := lorem.Metadata()
	assert.Equal(t, uint32(0o644), meta.Mode)
	assert.Equal(t, uint32(1000), meta.UID)
	assert.Equal(t, uint32(100), meta.GID)
	assert.True(t, meta.Mtime.Equal(mtime))

	assert.Equal(t, "Lorem ipsum", fileData(t, tr, "testdata/lorem.txt"))
	assert.Equal(t, "Lorem ipsum dolor sit amet", fileData(t, tr, "testdata/dir/lorem.txt"))

	// content is a view of the archive, not a copy
	exts := lorem.Content().Extents()
	require.Len(t, exts, 1)
	assert.Same(t, src.Backing(), exts[0].Region().Backing())
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	type want struct {
		mode     uint32
		uid, gid uint32
		mtime    time.Time
		xattrs   map[string]string
		data     string
	}
	fixtures := map[string]want{
		"etc/passwd":      {mode: 0o644, uid: 0, gid: 0, mtime: time.Unix(1000, 0), data: "root:x:0:0::/root:/bin/sh\n"},
		"usr/bin/tool":    {mode: 0o4755, uid: 0, gid: 50, mtime: time.Unix(2000, 0), data: "\x7fELF", xattrs: map[string]string{"security.capability": "\x01\x02\x03"}},
		"home/u/.profile": {mode: 0o600, uid: 1000, gid: 1000, mtime: time.Unix(3000, 0), data: "", xattrs: map[string]string{"user.a": "1", "user.b": "2"}},
	}

	var entries []fixture
	for name, w := range fixtures {
		pax := map[string]string{}
		for k, v := range w.xattrs {
			pax["SCHILY.xattr."+k] = v
		}
		entries = append(entries, fixture{hdr: tar.Header{
			Name: name, Typeflag: tar.TypeReg, Mode: int64(w.mode), Uid: int(w.uid), Gid: int(w.gid),
			ModTime: w.mtime, PAXRecords: pax, Format: tar.FormatPAX,
		}, data: w.data})
	}

	tr, _, err := buildTar(t, writeTar(t, entries...))
	require.NoError(t, err)

	for name, w := range fixtures {
		t.Run(name, func(t *testing.T) {
			v, ok := tr.Lookup(name)
			require.True(t, ok)
			m := v.Metadata()
			assert.Equal(t, w.mode, m.Mode)
			assert.Equal(t, w.uid, m.UID)
			assert.Equal(t, w.gid, m.GID)
			assert.True(t, m.Mtime.Equal(w.mtime))
			assert.Equal(t, len(w.xattrs), v.Xattrs().Len())
			for k, val := range w.xattrs {
				got, ok := v.Xattrs().Get(k)
				require.True(t, ok, k)
				assert.Equal(t, val, string(got))
			}
			assert.Equal(t, w.data, fileData(t, tr, name))
		})
	}

	// synthesized ancestors get default metadata
	home, ok := tr.Lookup("home/u")
	require.True(t, ok)
	assert.Equal(t, tree.Directory, home.Kind())
	assert.Equal(t, uint32(0o755), home.Metadata().Mode)
}

func TestDirectoryEntryAfterChildren(t *testing.T) {
	t.Parallel()

	archive := writeTar(t,
		fixture{hdr: tar.Header{Name: "a/b/file", Typeflag: tar.TypeReg, Mode: 0o644}, data: "x"},
		fixture{hdr: tar.Header{Name: "a/", Typeflag: tar.TypeDir, Mode: 0o700, Uid: 7}},
		fixture{hdr: tar.Header{Name: "./", Typeflag: tar.TypeDir, Mode: 0o750}},
	)
	tr, _, err := buildTar(t, archive)
	require.NoError(t, err)

	a, ok := tr.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, uint32(0o700), a.Metadata().Mode)
	assert.Equal(t, uint32(7), a.Metadata().UID)
	assert.Equal(t, uint32(0o750), tr.Root().Metadata().Mode)
	assert.Equal(t, "x", fileData(t, tr, "a/b/file"))
}

func TestGNUDumpDir(t *testing.T) {
	t.Parallel()

	archive := writeTar(t,
		fixture{hdr: tar.Header{Name: "inc/", Typeflag: typeGNUDumpDir, Mode: 0o711}},
		fixture{hdr: tar.Header{Name: "inc/f", Typeflag: tar.TypeReg, Mode: 0o644}, data: "x"},
	)
	tr, _, err := buildTar(t, archive)
	require.NoError(t, err)

	d, ok := tr.Lookup("inc")
	require.True(t, ok)
	assert.Equal(t, tree.Directory, d.Kind())
	assert.Equal(t, uint32(0o711), d.Metadata().Mode)
	assert.Equal(t, "x", fileData(t, tr, "inc/f"))
}

func TestRepeatedDirectoryReplacesXattrs(t *testing.T) {
	t.Parallel()

	dir := func(records map[string]string) fixture {
		return fixture{hdr: tar.Header{
			Name: "d/", Typeflag: tar.TypeDir, Mode: 0o755,
			PAXRecords: records, Format: tar.FormatPAX,
		}}
	}
	archive := writeTar(t,
		dir(map[string]string{"SCHILY.xattr.user.a": "1", "SCHILY.xattr.user.c": "old"}),
		dir(map[string]string{"SCHILY.xattr.user.b": "2", "SCHILY.xattr.user.c": "new"}),
	)
	tr, _, err := buildTar(t, archive)
	require.NoError(t, err)

	d, ok := tr.Lookup("d")
	require.True(t, ok)
	assert.Equal(t, 2, d.Xattrs().Len())
	_, ok = d.Xattrs().Get("user.a")
	assert.False(t, ok)
	v, ok := d.Xattrs().Get("user.b")
	require.True(t, ok)
	assert.Equal(t, "2", string(v))
	v, ok = d.Xattrs().Get("user.c")
	require.True(t, ok)
	assert.Equal(t, "new", string(v))
}

func TestDuplicateEntryReplaces(t *testing.T) {
	t.Parallel()

	archive := writeTar(t,
		fixture{hdr: tar.Header{Name: "f", Typeflag: tar.TypeReg, Mode: 0o644}, data: "old"},
		fixture{hdr: tar.Header{Name: "g", Typeflag: tar.TypeLink, Linkname: "f"}},
		fixture{hdr: tar.Header{Name: "f", Typeflag: tar.TypeReg, Mode: 0o600}, data: "new"},
	)
	tr, _, err := buildTar(t, archive)
	require.NoError(t, err)

	assert.Equal(t, "new", fileData(t, tr, "f"))
	assert.Equal(t, "old", fileData(t, tr, "g"))
	f, _ := tr.Lookup("f")
	g, _ := tr.Lookup("g")
	assert.NotEqual(t, f.ID(), g.ID())
}

func TestHardlinkAndSpecials(t *testing.T) {
	t.Parallel()

	archive := writeTar(t,
		fixture{hdr: tar.Header{Name: "bin/busybox", Typeflag: tar.TypeReg, Mode: 0o755}, data: "BB"},
		fixture{hdr: tar.Header{Name: "bin/sh", Typeflag: tar.TypeLink, Linkname: "bin/busybox"}},
		fixture{hdr: tar.Header{Name: "dev/sda1", Typeflag: tar.TypeBlock, Devmajor: 8, Devminor: 1, Mode: 0o660}},
		fixture{hdr: tar.Header{Name: "dev/null", Typeflag: tar.TypeChar, Devmajor: 1, Devminor: 3, Mode: 0o666}},
		fixture{hdr: tar.Header{Name: "run/pipe", Typeflag: tar.TypeFifo, Mode: 0o600}},
	)
	tr, _, err := buildTar(t, archive)
	require.NoError(t, err)

	bb, _ := tr.Lookup("bin/busybox")
	sh, _ := tr.Lookup("bin/sh")
	assert.Equal(t, bb.ID(), sh.ID())
	assert.Equal(t, uint32(2), sh.Nlink())

	sda, _ := tr.Lookup("dev/sda1")
	assert.Equal(t, tree.BlockDevice, sda.Kind())
	assert.Equal(t, tree.Device{Major: 8, Minor: 1}, sda.Device())
	null, _ := tr.Lookup("dev/null")
	assert.Equal(t, tree.CharDevice, null.Kind())
	pipe, _ := tr.Lookup("run/pipe")
	assert.Equal(t, tree.Fifo, pipe.Kind())
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	valid := writeTar(t, fixture{hdr: tar.Header{Name: "f", Typeflag: tar.TypeReg}, data: "0123456789"})

	tests := []struct {
		name    string
		archive []byte
		wantErr error
	}{
		{
			name:    "dotdot",
			archive: writeTar(t, fixture{hdr: tar.Header{Name: "a/../../etc/passwd", Typeflag: tar.TypeReg}, data: "x"}),
			wantErr: common.ErrPathEscape,
		},
		{
			name:    "absolute",
			archive: writeTar(t, fixture{hdr: tar.Header{Name: "/etc/passwd", Typeflag: tar.TypeReg}, data: "x"}),
			wantErr: common.ErrPathEscape,
		},
		{
			name:    "hardlink escape",
			archive: writeTar(t, fixture{hdr: tar.Header{Name: "l", Typeflag: tar.TypeLink, Linkname: "../x"}}),
			wantErr: common.ErrPathEscape,
		},
		{
			name:    "dangling hardlink",
			archive: writeTar(t, fixture{hdr: tar.Header{Name: "l", Typeflag: tar.TypeLink, Linkname: "missing"}}),
			wantErr: common.ErrPathNotFound,
		},
		{
			name:    "truncated data",
			archive: valid[:blockSize+4],
			wantErr: common.ErrTruncatedStream,
		},
		{
			name:    "corrupt header",
			archive: append([]byte("this is not a tar header"), make([]byte, 1024)...),
			wantErr: common.ErrMalformedHeader,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := buildTar(t, tt.archive)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			var decodeErr *common.DecodeError
			assert.True(t, errors.As(err, &decodeErr), "%v", err)
		})
	}
}

// rawPaxHeader encodes a pax extended header block followed by its records,
// preserving record order.
func rawPaxHeader(records [][2]string) []byte {
	var body bytes.Buffer
	for _, r := range records {
		rec := fmt.Sprintf(" %s=%s\n", r[0], r[1])
		n := len(rec)
		for {
			total := len(strconv.Itoa(n)) + len(rec)
			if total == n {
				break
			}
			n = total
		}
		fmt.Fprintf(&body, "%d%s", n, rec)
	}

	hdr := make([]byte, blockSize)
	copy(hdr, "PaxHeaders/f")
	copy(hdr[100:], "0000644\x00")
	copy(hdr[108:], "0000000\x00")
	copy(hdr[116:], "0000000\x00")
	copy(hdr[124:], fmt.Sprintf("%011o\x00", body.Len()))
	copy(hdr[136:], "00000000000\x00")
	hdr[156] = tar.TypeXHeader
	copy(hdr[257:], "ustar\x0000")
	copy(hdr[148:156], "        ")
	var sum int64
	for _, c := range hdr {
		sum += int64(c)
	}
	copy(hdr[148:], fmt.Sprintf("%06o\x00 ", sum))

	out := append(hdr, body.Bytes()...)
	if pad := len(out) % blockSize; pad != 0 {
		out = append(out, make([]byte, blockSize-pad)...)
	}
	return out
}

func TestXattrEncounterOrder(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	buf.Write(rawPaxHeader([][2]string{
		{"SCHILY.xattr.user.zeta", "z"},
		{"LIBARCHIVE.xattr.user.%41lpha", base64.RawStdEncoding.EncodeToString([]byte("binary\x00value"))},
		{"SCHILY.xattr.user.beta", "b"},
	}))
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "f", Typeflag: tar.TypeReg, Size: 2, Mode: 0o644, Format: tar.FormatUSTAR}))
	_, err := tw.Write([]byte("hi"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	tr, _, err := buildTar(t, buf.Bytes())
	require.NoError(t, err)

	f, ok := tr.Lookup("f")
	require.True(t, ok)
	assert.Equal(t, []string{"user.zeta", "user.Alpha", "user.beta"}, f.Xattrs().Names())
	v, _ := f.Xattrs().Get("user.Alpha")
	assert.Equal(t, "binary\x00value", string(v))
	assert.Equal(t, "hi", fileData(t, tr, "f"))
}

func TestRecordKeys(t *testing.T) {
	t.Parallel()

	keys := recordKeys([]byte("30 mtime=1350244992.023960108\n18 path=some/file\n"))
	assert.Equal(t, []string{"mtime", "path"}, keys)
	assert.Empty(t, recordKeys([]byte("garbage")))
}
