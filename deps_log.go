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
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// The state log is an append-only binary journal recording, per build edge,
// the fingerprint of its last successful run and the input set it was built
// against. Two record kinds, distinguished by the top bit of a big-endian
// 16-bit prefix:
//
//	name record:  u16 length (top bit clear), then `length` path bytes.
//	              Assigns the next sequential id to that path.
//	build record: u16 (0x8000 | input count), u24 output id, u64 BuildHash,
//	              then count x u24 input ids.
//
// The hash placement next to the output id is our own stable choice; the
// journal is not an interoperability surface. Ids are local to one journal
// file. At most 1<<24 ids and names shorter than 1<<15 bytes; overflowing
// either is unrecoverable short of deleting the log.
const (
	depsLogNameMask  = 0x8000
	depsLogMaxIds    = 1 << 24
	depsLogMaxName   = 1<<15 - 1
	errDepsLogAdvice = "delete it and rebuild"
)

// DepsLog is an opened journal, replayed and ready for appends.
type DepsLog struct {
	path string
	f    *os.File
	w    *bufio.Writer

	// db id <-> graph file id.
	fileIds []FileId
	ids     map[FileId]int

	// LastHashes maps an edge's output file to the hash recorded by its last
	// successful run.
	LastHashes map[FileId]BuildHash
}

// OpenDepsLog opens (creating if absent) the journal at path and replays it
// against g: names are interned, stale rows naming files the current
// manifest no longer produces are silently dropped, and each build record's
// input set becomes the producing edge's initial discovered inputs.
func OpenDepsLog(g *Graph, path string) (*DepsLog, error) {
	d := &DepsLog{
		path:       path,
		ids:        map[FileId]int{},
		LastHashes: map[FileId]BuildHash{},
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := d.replay(g, f); err != nil {
		f.Close()
		return nil, fmt.Errorf("load %s: %w (%s)", path, err, errDepsLogAdvice)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, fmt.Errorf("seek %s: %w", path, err)
	}
	d.f = f
	d.w = bufio.NewWriter(f)
	return d, nil
}

func (d *DepsLog) replay(g *Graph, f *os.File) error {
	r := bufio.NewReader(f)
	for {
		prefix, err := readU16(r)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				// Torn tail from a crash; the prefix is a valid journal.
				return nil
			}
			return err
		}
		if prefix&depsLogNameMask == 0 {
			name := make([]byte, prefix)
			if _, err := io.ReadFull(r, name); err != nil {
				return tornOrErr(err)
			}
			d.fileIds = append(d.fileIds, g.FileId(string(name)))
			d.ids[d.fileIds[len(d.fileIds)-1]] = len(d.fileIds) - 1
			continue
		}
		count := int(prefix &^ depsLogNameMask)
		out, err := readU24(r)
		if err != nil {
			return tornOrErr(err)
		}
		var hashBuf [8]byte
		if _, err := io.ReadFull(r, hashBuf[:]); err != nil {
			return tornOrErr(err)
		}
		hash := BuildHash(binary.BigEndian.Uint64(hashBuf[:]))
		deps := make([]FileId, 0, count)
		bad := false
		for i := 0; i < count; i++ {
			dep, err := readU24(r)
			if err != nil {
				return tornOrErr(err)
			}
			if int(dep) >= len(d.fileIds) {
				bad = true
				continue
			}
			deps = append(deps, d.fileIds[dep])
		}
		if bad || int(out) >= len(d.fileIds) {
			return fmt.Errorf("build record references unknown id")
		}
		outFile := d.fileIds[out]
		bid := g.File(outFile).Input
		if bid == noBuild {
			// The manifest no longer produces this file; stale row.
			continue
		}
		d.LastHashes[outFile] = hash
		g.setDiscoveredIns(bid, deps)
	}
}

func tornOrErr(err error) error {
	if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil
	}
	return err
}

// setDiscoveredIns installs the discovered input list for a build, dropping
// ids already present among its dirtying inputs so a depfile restating an
// explicit input doesn't double-count, and keeping reverse edges current.
// Both the journal replay and the post-task path go through here so the two
// always produce the same list for the same deps.
func (g *Graph) setDiscoveredIns(id BuildId, deps []FileId) {
	b := g.Build(id)
	known := map[FileId]bool{}
	for _, in := range b.DirtyingIns() {
		known[in] = true
	}
	b.DiscoveredIns = b.DiscoveredIns[:0]
	for _, dep := range deps {
		if known[dep] {
			continue
		}
		known[dep] = true
		b.DiscoveredIns = append(b.DiscoveredIns, dep)
		g.addDependent(dep, id)
	}
}

// ensureId returns the journal id for a file, appending a name record the
// first time the file is seen.
func (d *DepsLog) ensureId(g *Graph, id FileId) (int, error) {
	if n, ok := d.ids[id]; ok {
		return n, nil
	}
	name := g.File(id).Name
	if len(name) > depsLogMaxName {
		return 0, fmt.Errorf("state log %s: name too long: %s (%s)", d.path, name, errDepsLogAdvice)
	}
	if len(d.fileIds) >= depsLogMaxIds {
		return 0, fmt.Errorf("state log %s: too many file ids (%s)", d.path, errDepsLogAdvice)
	}
	n := len(d.fileIds)
	d.fileIds = append(d.fileIds, id)
	d.ids[id] = n
	writeU16(d.w, uint16(len(name)))
	d.w.WriteString(name)
	return n, nil
}

// WriteBuild appends one build record per explicit output, carrying hash and
// the edge's discovered inputs, and flushes. The scheduler calls this before
// marking the edge done, so a crash leaves the journal at either the
// previous or the new record.
func (d *DepsLog) WriteBuild(g *Graph, b *Build, hash BuildHash) error {
	deps := make([]int, 0, len(b.DiscoveredIns))
	for _, in := range b.DiscoveredIns {
		n, err := d.ensureId(g, in)
		if err != nil {
			return err
		}
		deps = append(deps, n)
	}
	for _, out := range b.ExplicitOuts() {
		n, err := d.ensureId(g, out)
		if err != nil {
			return err
		}
		writeU16(d.w, uint16(len(deps))|depsLogNameMask)
		writeU24(d.w, uint32(n))
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(hash))
		d.w.Write(buf[:])
		for _, dep := range deps {
			writeU24(d.w, uint32(dep))
		}
	}
	if err := d.w.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", d.path, err)
	}
	return nil
}

func (d *DepsLog) Close() error {
	if d.f == nil {
		return nil
	}
	err1 := d.w.Flush()
	err2 := d.f.Close()
	d.f = nil
	if err1 != nil {
		return err1
	}
	return err2
}

func readU16(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

func readU24(r io.Reader) (uint32, error) {
	var buf [3]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return uint32(buf[0])<<16 | uint32(buf[1])<<8 | uint32(buf[2]), nil
}

func writeU16(w *bufio.Writer, v uint16) {
	w.WriteByte(byte(v >> 8))
	w.WriteByte(byte(v))
}

func writeU24(w *bufio.Writer, v uint32) {
	if v >= depsLogMaxIds {
		fatalf("state log id overflow")
	}
	w.WriteByte(byte(v >> 16))
	w.WriteByte(byte(v >> 8))
	w.WriteByte(byte(v))
}
