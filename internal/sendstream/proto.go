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

import "fmt"

// Magic starts every stream.
const Magic = "btrfs-stream\x00"

const (
	streamHeaderSize  = len(Magic) + 4
	commandHeaderSize = 10
	attrHeaderSize    = 4

	minVersion = 1
	maxVersion = 3
)

// Command types.
const (
	cmdUnspec uint16 = iota
	cmdSubvol
	cmdSnapshot
	cmdMkfile
	cmdMkdir
	cmdMknod
	cmdMkfifo
	cmdMksock
	cmdSymlink
	cmdRename
	cmdLink
	cmdUnlink
	cmdRmdir
	cmdSetXattr
	cmdRemoveXattr
	cmdWrite
	cmdClone
	cmdTruncate
	cmdChmod
	cmdChown
	cmdUtimes
	cmdEnd
	cmdUpdateExtent
	cmdFallocate // v2
	cmdFileattr
	cmdEncodedWrite
	cmdEnableVerity // v3

	cmdMax = cmdEnableVerity
)

var commandNames = [...]string{
	cmdUnspec:       "unspec",
	cmdSubvol:       "subvol",
	cmdSnapshot:     "snapshot",
	cmdMkfile:       "mkfile",
	cmdMkdir:        "mkdir",
	cmdMknod:        "mknod",
	cmdMkfifo:       "mkfifo",
	cmdMksock:       "mksock",
	cmdSymlink:      "symlink",
	cmdRename:       "rename",
	cmdLink:         "link",
	cmdUnlink:       "unlink",
	cmdRmdir:        "rmdir",
	cmdSetXattr:     "set_xattr",
	cmdRemoveXattr:  "remove_xattr",
	cmdWrite:        "write",
	cmdClone:        "clone",
	cmdTruncate:     "truncate",
	cmdChmod:        "chmod",
	cmdChown:        "chown",
	cmdUtimes:       "utimes",
	cmdEnd:          "end",
	cmdUpdateExtent: "update_extent",
	cmdFallocate:    "fallocate",
	cmdFileattr:     "fileattr",
	cmdEncodedWrite: "encoded_write",
	cmdEnableVerity: "enable_verity",
}

func commandName(c uint16) string {
	if int(c) < len(commandNames) {
		return commandNames[c]
	}
	return fmt.Sprintf("cmd(%d)", c)
}

// Attribute types.
const (
	attrUnspec uint16 = iota
	attrUUID
	attrCTransID
	attrIno
	attrSize
	attrMode
	attrUID
	attrGID
	attrRdev
	attrCtime
	attrMtime
	attrAtime
	attrOtime
	attrXattrName
	attrXattrData
	attrPath
	attrPathTo
	attrPathLink
	attrFileOffset
	attrData
	attrCloneUUID
	attrCloneCTransID
	attrClonePath
	attrCloneOffset
	attrCloneLen
	attrFallocateMode // v2
	attrFileattr
	attrUnencodedFileLen
	attrUnencodedLen
	attrUnencodedOffset
	attrCompression
	attrEncryption
	attrVerityAlgorithm // v3
	attrVerityBlockSize
	attrVeritySaltData
	attrVeritySigData

	attrMax = attrVeritySigData
)

// Encoded write compression types.
const (
	compressNone = 0
	compressZlib = 1
	compressZstd = 2
	// 3-7 are LZO with 4K-64K sectors
)

// Fallocate mode bits.
const (
	fallocKeepSize  = 0x01
	fallocPunchHole = 0x02
	fallocZeroRange = 0x10
)
