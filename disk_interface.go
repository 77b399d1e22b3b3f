// Copyright 2011 Google Inc. All Rights Reserved.
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

package n2

import (
	"io/fs"
	"os"
	"sort"
)

// FileSystem is the interface the loader and scheduler use to touch the
// disk, so tests can substitute an in-memory implementation.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
	// Stat returns the file's mtime, or Missing when it does not exist.
	Stat(path string) (MTime, error)
}

// RealFileSystem is the on-disk implementation.
type RealFileSystem struct{}

func (RealFileSystem) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (RealFileSystem) Stat(path string) (MTime, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Missing, nil
		}
		return Missing, err
	}
	return MTime(fi.ModTime().Unix()), nil
}

// VirtualFileSystem is an in-memory FileSystem for tests, with a coarse
// fake clock so tests can order mtimes deterministically.
type VirtualFileSystem struct {
	files map[string]vfsEntry
	now   MTime
}

type vfsEntry struct {
	contents []byte
	mtime    MTime
}

func NewVirtualFileSystem() *VirtualFileSystem {
	return &VirtualFileSystem{files: map[string]vfsEntry{}, now: 1}
}

// Tick advances the fake clock.
func (v *VirtualFileSystem) Tick() MTime {
	v.now++
	return v.now
}

// Create writes a file stamped at the current fake time.
func (v *VirtualFileSystem) Create(path, contents string) {
	v.files[path] = vfsEntry{contents: []byte(contents), mtime: v.now}
}

func (v *VirtualFileSystem) Remove(path string) {
	delete(v.files, path)
}

func (v *VirtualFileSystem) ReadFile(path string) ([]byte, error) {
	e, ok := v.files[path]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	return append([]byte(nil), e.contents...), nil
}

func (v *VirtualFileSystem) Stat(path string) (MTime, error) {
	e, ok := v.files[path]
	if !ok {
		return Missing, nil
	}
	return e.mtime, nil
}

// Paths lists the files present, sorted, for test assertions.
func (v *VirtualFileSystem) Paths() []string {
	var out []string
	for p := range v.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
