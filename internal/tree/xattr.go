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
	"bytes"
	"iter"
	"slices"
)

// XattrSet maps attribute names to values. Names are unique; iteration
// follows the order in which names were first set. The zero value is empty
// and ready to use.
type XattrSet struct {
	names  []string
	values map[string][]byte
}

// Set stores value under name, keeping name's original position if present.
func (x *XattrSet) Set(name string, value []byte) {
	if x.values == nil {
		x.values = make(map[string][]byte)
	}
	if _, ok := x.values[name]; !ok {
		x.names = append(x.names, name)
	}
	x.values[name] = bytes.Clone(value)
}

// Get returns the value stored under name.
func (x *XattrSet) Get(name string) ([]byte, bool) {
	v, ok := x.values[name]
	return v, ok
}

// Remove deletes name and reports whether it was present.
func (x *XattrSet) Remove(name string) bool {
	if _, ok := x.values[name]; !ok {
		return false
	}
	delete(x.values, name)
	x.names = slices.DeleteFunc(x.names, func(n string) bool { return n == name })
	return true
}

// Len returns the number of attributes.
func (x *XattrSet) Len() int {
	return len(x.names)
}

// Names returns attribute names in encounter order.
func (x *XattrSet) Names() []string {
	return slices.Clone(x.names)
}

// All iterates name/value pairs in encounter order.
func (x *XattrSet) All() iter.Seq2[string, []byte] {
	return func(yield func(string, []byte) bool) {
		for _, n := range x.names {
			if !yield(n, x.values[n]) {
				return
			}
		}
	}
}

// Equal reports set equality, ignoring order.
func (x *XattrSet) Equal(o *XattrSet) bool {
	if x.Len() != o.Len() {
		return false
	}
	for n, v := range x.values {
		ov, ok := o.values[n]
		if !ok || !bytes.Equal(v, ov) {
			return false
		}
	}
	return true
}

// Diff returns the sorted names whose presence or value differs.
func (x *XattrSet) Diff(o *XattrSet) []string {
	var out []string
	for n, v := range x.values {
		ov, ok := o.values[n]
		if !ok || !bytes.Equal(v, ov) {
			out = append(out, n)
		}
	}
	for n := range o.values {
		if _, ok := x.values[n]; !ok {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return out
}

// Clone returns a deep copy.
func (x *XattrSet) Clone() XattrSet {
	var c XattrSet
	for n, v := range x.All() {
		c.Set(n, v)
	}
	return c
}
