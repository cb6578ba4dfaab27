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

//go:build !linux

package dirtree

import (
	"errors"
	"os"

	"fstree/internal/archive"
	"fstree/internal/tree"
)

func statOf(os.FileInfo, *tree.Metadata) (statInfo, bool) {
	return statInfo{}, false
}

func listXattrs(string) ([]archive.Xattr, error) {
	return nil, nil
}

func link(string, string) error {
	return errors.ErrUnsupported
}

func symlink(string, string) error {
	return errors.ErrUnsupported
}

func mknod(string, tree.Kind, uint32, tree.Device) error {
	return errors.ErrUnsupported
}

func setXattr(string, string, []byte) error {
	return errors.ErrUnsupported
}

func setAttrs(string, tree.Kind, tree.Metadata) error {
	return errors.ErrUnsupported
}
