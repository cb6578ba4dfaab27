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

package dirtree

import (
	"errors"
	"os"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"fstree/internal/archive"
	"fstree/internal/tree"
)

// statOf fills meta from the raw stat of fi when the filesystem provides it.
func statOf(fi os.FileInfo, meta *tree.Metadata) (statInfo, bool) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return statInfo{}, false
	}
	meta.Mode = st.Mode & tree.PermMask
	meta.UID = st.Uid
	meta.GID = st.Gid
	meta.Atime = unixTime(st.Atim.Unix())
	meta.Mtime = unixTime(st.Mtim.Unix())
	meta.Ctime = unixTime(st.Ctim.Unix())
	return statInfo{
		id:    fileID{dev: uint64(st.Dev), ino: uint64(st.Ino)},
		nlink: uint64(st.Nlink),
		rdev:  uint64(st.Rdev),
	}, true
}

// listXattrs returns the extended attributes of p without following a
// final symlink, in the order the filesystem lists them.
func listXattrs(p string) ([]archive.Xattr, error) {
	size, err := unix.Llistxattr(p, nil)
	if err != nil {
		if errors.Is(err, unix.ENOTSUP) {
			return nil, nil
		}
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	buf := make([]byte, size)
	if size, err = unix.Llistxattr(p, buf); err != nil {
		return nil, err
	}

	var xs []archive.Xattr
	for _, name := range splitNames(buf[:size]) {
		vsize, err := unix.Lgetxattr(p, name, nil)
		if err != nil {
			if errors.Is(err, unix.ENODATA) {
				continue
			}
			return nil, err
		}
		value := make([]byte, vsize)
		if vsize, err = unix.Lgetxattr(p, name, value); err != nil {
			return nil, err
		}
		xs = append(xs, archive.Xattr{Name: name, Value: value[:vsize]})
	}
	return xs, nil
}

func splitNames(buf []byte) []string {
	var names []string
	start := 0
	for i, c := range buf {
		if c == 0 {
			if i > start {
				names = append(names, string(buf[start:i]))
			}
			start = i + 1
		}
	}
	return names
}

func link(oldpath, newpath string) error {
	return unix.Link(oldpath, newpath)
}

func symlink(target, p string) error {
	return unix.Symlink(target, p)
}

func mknod(p string, kind tree.Kind, perm uint32, dev tree.Device) error {
	return unix.Mknod(p, kind.ModeBits()|perm&tree.PermMask, int(dev.Rdev()))
}

func setXattr(p, name string, value []byte) error {
	return unix.Lsetxattr(p, name, value, 0)
}

// setAttrs applies ownership, mode and timestamps to p. Ownership goes first
// since chown clears the setuid and setgid bits. A chown refused to an
// unprivileged caller is skipped.
func setAttrs(p string, kind tree.Kind, meta tree.Metadata) error {
	if err := unix.Lchown(p, int(meta.UID), int(meta.GID)); err != nil {
		if !errors.Is(err, unix.EPERM) || os.Geteuid() == 0 {
			return err
		}
		log.Debugf("[Dir] cannot chown %s to %d:%d", p, meta.UID, meta.GID)
	}
	if kind != tree.Symlink {
		if err := unix.Chmod(p, meta.Mode&tree.PermMask); err != nil {
			return err
		}
	}
	ts := []unix.Timespec{timespec(meta.Atime), timespec(meta.Mtime)}
	return unix.UtimesNanoAt(unix.AT_FDCWD, p, ts, unix.AT_SYMLINK_NOFOLLOW)
}

func timespec(t time.Time) unix.Timespec {
	if t.IsZero() {
		return unix.Timespec{Nsec: unix.UTIME_OMIT}
	}
	return unix.NsecToTimespec(t.UnixNano())
}
