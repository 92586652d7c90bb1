// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package fs is the filesystem client library (spec.md §4.7): File,
// FileQuery, and the directory-listing helpers, each built on top of an
// Opener (ordinarily a *syscalls.Dispatcher) and a rendezvous endpoint.
package fs

import (
	"encoding/json"
	"fmt"

	kerrors "github.com/euralios/kernel/pkg/errors"
	"github.com/euralios/kernel/pkg/hal"
	"github.com/euralios/kernel/pkg/rendezvous"
)

// ErrInvalidParam mirrors syscalls.ErrInvalidParam without importing
// pkg/syscalls, which itself does not depend on pkg/fs.
var ErrInvalidParam = kerrors.New("fs: invalid parameter")

// Open flag bits, duplicated from pkg/syscalls so this package has no
// import cycle back through the dispatcher.
const (
	OpenRead     uint8 = 1 << 0
	OpenWrite    uint8 = 1 << 1
	OpenCreate   uint8 = 1 << 2
	OpenTruncate uint8 = 1 << 3
)

// Opener is the minimal surface File needs from the syscall dispatcher:
// resolving a path to a fresh endpoint via the OPEN rcall.
type Opener interface {
	Open(path string, flags uint8) (*rendezvous.Endpoint, error)
}

// File wraps a rendezvous.Endpoint opened against a running driver,
// exposing the same small surface as the original fs.rs (spec.md §4.7).
type File struct {
	ep *rendezvous.Endpoint
}

// Create opens path write-only, creating it if absent and truncating it
// if present.
func Create(o Opener, path string) (*File, error) {
	ep, err := o.Open(path, OpenWrite|OpenCreate|OpenTruncate)
	if err != nil {
		return nil, err
	}
	return &File{ep: ep}, nil
}

// Open opens path read-only.
func Open(o Opener, path string) (*File, error) {
	ep, err := o.Open(path, OpenRead)
	if err != nil {
		return nil, err
	}
	return &File{ep: ep}, nil
}

// FileQuery wraps a parsed JSON envelope returned by QUERY: Go's natural
// analogue of serde_json::Value, since JSON parsing itself is out of
// scope per spec.md §1 and encoding/json into a map[string]any is the
// minimal correct boundary.
type FileQuery struct {
	raw map[string]any
}

// Files returns the "files" array of a directory query, or nil if the
// query carried no such field.
func (q FileQuery) Files() []map[string]any {
	raw, ok := q.raw["files"].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, v := range raw {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// Query sends a QUERY rcall and parses the returned JSON memory region.
func (f *File) Query() (FileQuery, error) {
	tag, d1, d2, err := rendezvous.Rcall(f.ep, rendezvous.TagQuery, rendezvous.ValueData(0), rendezvous.ValueData(0), nil)
	if err != nil {
		return FileQuery{}, err
	}
	length, ok := d1.(rendezvous.ValueData)
	handle, okHandle := d2.(rendezvous.MemoryHandleData)
	if tag != rendezvous.TagJSON || !ok || !okHandle {
		return FileQuery{}, fmt.Errorf("%w: unexpected reply to QUERY", ErrInvalidParam)
	}

	raw := handle.Handle.AsBytes()
	if int(length) > len(raw) {
		return FileQuery{}, fmt.Errorf("%w: QUERY length exceeds memory handle", ErrInvalidParam)
	}
	var parsed map[string]any
	if err := json.Unmarshal(raw[:length], &parsed); err != nil {
		return FileQuery{}, fmt.Errorf("%w: parsing QUERY JSON: %v", ErrInvalidParam, err)
	}
	return FileQuery{raw: parsed}, nil
}

// byteHandle is the simplest possible hal.MemoryHandle: a plain byte
// slice, standing in for MemoryHandle::from_u8_slice(buf) from fs.rs —
// the real handle type involves physical page ownership, which is a
// HAL concern (pkg/hal.MemoryHandle), not this package's.
type byteHandle []byte

func (b byteHandle) AsBytes() []byte { return b }
func (b byteHandle) Len() int        { return len(b) }

var _ hal.MemoryHandle = byteHandle(nil)

// Write sends buf as a WRITE rcall and returns the number of bytes the
// driver reports having accepted.
func (f *File) Write(buf []byte) (int, error) {
	tag, d1, _, err := rendezvous.Rcall(f.ep, rendezvous.TagWrite,
		rendezvous.ValueData(uint64(len(buf))), rendezvous.MemoryHandleData{Handle: byteHandle(buf)}, nil)
	if err != nil {
		return 0, err
	}
	sent, ok := d1.(rendezvous.ValueData)
	if tag != rendezvous.TagOK || !ok {
		return 0, fmt.Errorf("%w: unexpected reply to WRITE", ErrInvalidParam)
	}
	return int(sent), nil
}

// ReadToEnd reads every byte the driver has to offer in one RPC round
// trip (spec.md §4.7: no partial-read loop is specified).
func (f *File) ReadToEnd() ([]byte, error) {
	tag, d1, d2, err := rendezvous.Rcall(f.ep, rendezvous.TagRead, rendezvous.ValueData(0), rendezvous.ValueData(0), nil)
	if err != nil {
		return nil, err
	}
	length, ok := d1.(rendezvous.ValueData)
	handle, okHandle := d2.(rendezvous.MemoryHandleData)
	if tag != rendezvous.TagData || !ok || !okHandle {
		return nil, fmt.Errorf("%w: unexpected reply to READ", ErrInvalidParam)
	}
	raw := handle.Handle.AsBytes()
	if int(length) > len(raw) {
		return nil, fmt.Errorf("%w: READ length exceeds memory handle", ErrInvalidParam)
	}
	out := make([]byte, length)
	copy(out, raw[:length])
	return out, nil
}

// DirEntry is one entry of a directory listing.
type DirEntry struct {
	name string
}

// Name returns the bare file name, without any leading path component.
func (d DirEntry) Name() string { return d.name }

// ReadDir is an iterator yielding directory entries. Iteration order is
// unspecified-but-stable: entries come off the back of the underlying
// slice, matching fs.rs's Vec::pop-based Iterator impl (spec.md §9's
// Open Question — reverse-insertion order is the documented behavior
// here, not an accident of the query response's ordering).
type ReadDir struct {
	entries []DirEntry
}

// Next returns the next entry, or ok == false once exhausted.
func (r *ReadDir) Next() (DirEntry, bool) {
	if len(r.entries) == 0 {
		return DirEntry{}, false
	}
	last := r.entries[len(r.entries)-1]
	r.entries = r.entries[:len(r.entries)-1]
	return last, true
}

// ListDir opens path, queries it, and builds a ReadDir over its
// "files" array (spec.md §4.7's read_dir).
func ListDir(o Opener, path string) (*ReadDir, error) {
	f, err := Open(o, path)
	if err != nil {
		return nil, err
	}
	query, err := f.Query()
	if err != nil {
		return nil, err
	}

	var entries []DirEntry
	for _, obj := range query.Files() {
		name, _ := obj["name"].(string)
		if name == "" {
			name = "_bad_"
		}
		entries = append(entries, DirEntry{name: name})
	}
	return &ReadDir{entries: entries}, nil
}
