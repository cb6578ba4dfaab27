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

package tree

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Kind is the type of a node.
type Kind uint8

const (
	Directory Kind = iota + 1
	RegularFile
	Symlink
	Fifo
	Socket
	CharDevice
	BlockDevice
)

// PermMask covers the permission, setuid, setgid and sticky bits.
const PermMask = 0o7777

func (k Kind) String() string {
	switch k {
	case Directory:
		return "directory"
	case RegularFile:
		return "file"
	case Symlink:
		return "symlink"
	case Fifo:
		return "fifo"
	case Socket:
		return "socket"
	case CharDevice:
		return "char-device"
	case BlockDevice:
		return "block-device"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ModeBits returns the S_IFMT bits for the kind.
func (k Kind) ModeBits() uint32 {
	switch k {
	case Directory:
		return unix.S_IFDIR
	case RegularFile:
		return unix.S_IFREG
	case Symlink:
		return unix.S_IFLNK
	case Fifo:
		return unix.S_IFIFO
	case Socket:
		return unix.S_IFSOCK
	case CharDevice:
		return unix.S_IFCHR
	case BlockDevice:
		return unix.S_IFBLK
	}
	return 0
}

// FromMode returns the kind encoded in the S_IFMT bits of mode.
func FromMode(mode uint32) (Kind, bool) {
	switch mode & unix.S_IFMT {
	case unix.S_IFDIR:
		return Directory, true
	case unix.S_IFREG:
		return RegularFile, true
	case unix.S_IFLNK:
		return Symlink, true
	case unix.S_IFIFO:
		return Fifo, true
	case unix.S_IFSOCK:
		return Socket, true
	case unix.S_IFCHR:
		return CharDevice, true
	case unix.S_IFBLK:
		return BlockDevice, true
	}
	return 0, false
}

// Device is a device number split into major and minor.
type Device struct {
	Major uint32
	Minor uint32
}

// DeviceFromRdev splits a Linux dev_t.
func DeviceFromRdev(rdev uint64) Device {
	return Device{Major: unix.Major(rdev), Minor: unix.Minor(rdev)}
}

// Rdev encodes the device as a Linux dev_t.
func (d Device) Rdev() uint64 {
	return unix.Mkdev(d.Major, d.Minor)
}

func (d Device) String() string {
	return fmt.Sprintf("%d:%d", d.Major, d.Minor)
}
