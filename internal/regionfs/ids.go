// Copyright 2015 Google Inc. All Rights Reserved.
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

package regionfs

import "github.com/jacobsa/fuse"

// idTable bridges the kernel's inode-ID/handle protocol to the core's
// path-based one. The core itself never needs stable inode IDs -- a path
// is always enough to find an inode -- so this table, and only this
// table, is where that kernel-facing bookkeeping lives.
//
// Not safe for concurrent use; callers hold FS.mu.
type idTable struct {
	pathByID map[fuse.InodeID]string
	idByPath map[string]fuse.InodeID
	lookups  map[fuse.InodeID]uint64
	next     fuse.InodeID
}

func newIDTable() *idTable {
	t := &idTable{
		pathByID: make(map[fuse.InodeID]string),
		idByPath: make(map[string]fuse.InodeID),
		lookups:  make(map[fuse.InodeID]uint64),
		next:     fuse.RootInodeID + 1,
	}
	t.pathByID[fuse.RootInodeID] = "/"
	t.idByPath["/"] = fuse.RootInodeID
	return t
}

// idForPath returns the ID associated with path, minting one if this is
// the first time the kernel has been told about it, and bumping its
// lookup count by one (mirroring the kernel's own dentry refcounting: an
// ID remains valid until enough ForgetInode calls bring the count back to
// zero).
func (t *idTable) idForPath(path string) fuse.InodeID {
	if id, ok := t.idByPath[path]; ok {
		t.lookups[id]++
		return id
	}

	id := t.next
	t.next++
	t.pathByID[id] = path
	t.idByPath[path] = id
	t.lookups[id] = 1
	return id
}

// pathForID returns the path last associated with id, or "", false if the
// kernel is referencing an ID we never told it about (a protocol
// violation from our point of view, but callers handle it as ENOENT
// rather than panicking, since we can't prove it can't happen under
// concurrent rename).
func (t *idTable) pathForID(id fuse.InodeID) (string, bool) {
	p, ok := t.pathByID[id]
	return p, ok
}

// forget drops n references to id, removing it once the count reaches
// zero. The root is never forgotten.
func (t *idTable) forget(id fuse.InodeID, n uint64) {
	if id == fuse.RootInodeID {
		return
	}

	remaining := t.lookups[id]
	if n >= remaining {
		p := t.pathByID[id]
		delete(t.pathByID, id)
		delete(t.idByPath, p)
		delete(t.lookups, id)
		return
	}
	t.lookups[id] = remaining - n
}

// rename updates the path recorded for whichever ID (if any) currently
// tracks oldPath, so that later GetInodeAttributes/ReadFile/etc. calls
// using that same ID keep resolving to the right place after a rename.
func (t *idTable) rename(oldPath, newPath string) {
	id, ok := t.idByPath[oldPath]
	if !ok {
		return
	}
	delete(t.idByPath, oldPath)
	t.idByPath[newPath] = id
	t.pathByID[id] = newPath
}
