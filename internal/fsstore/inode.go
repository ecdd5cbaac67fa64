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

package fsstore

import (
	"bytes"
	"strings"
	"syscall"
	"time"
)

// Attrs mirrors the getattr row of spec.md section 4.5: the subset of
// POSIX stat(2) fields this filesystem actually tracks.
type Attrs struct {
	IsDir   bool
	Size    uint64
	Nlink   uint64
	ModTime time.Time
	AccTime time.Time
}

////////////////////////////////////////////////////////////////////////
// Field accessors
////////////////////////////////////////////////////////////////////////

func (s *Store) inoName(off uint64) string {
	raw := s.data[off+inoNameOffset : off+inoNameOffset+inoNameLen]
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	return string(raw)
}

func (s *Store) setInoName(off uint64, name string) {
	slot := s.data[off+inoNameOffset : off+inoNameOffset+inoNameLen]
	clear(slot)
	copy(slot, name)
}

func (s *Store) inoModTime(off uint64) time.Time {
	return time.Unix(0, getI64(s.data, off+inoModTimeOffset))
}

func (s *Store) setInoModTime(off uint64, t time.Time) {
	putI64(s.data, off+inoModTimeOffset, t.UnixNano())
}

func (s *Store) inoAccTime(off uint64) time.Time {
	return time.Unix(0, getI64(s.data, off+inoAccTimeOffset))
}

func (s *Store) setInoAccTime(off uint64, t time.Time) {
	putI64(s.data, off+inoAccTimeOffset, t.UnixNano())
}

func (s *Store) inoType(off uint64) byte {
	return s.data[off+inoTypeOffset]
}

func (s *Store) isDir(off uint64) bool {
	return s.inoType(off) == TypeDirectory
}

// numChildren / childrenOffset alias fieldA/fieldB for directories.
func (s *Store) numChildren(off uint64) uint64     { return getU64(s.data, off+inoFieldAOffset) }
func (s *Store) setNumChildren(off, n uint64)      { putU64(s.data, off+inoFieldAOffset, n) }
func (s *Store) childrenOffset(off uint64) uint64  { return getU64(s.data, off+inoFieldBOffset) }
func (s *Store) setChildrenOffset(off, c uint64)   { putU64(s.data, off+inoFieldBOffset, c) }

// fileSize / firstBlock alias fieldA/fieldB for regular files.
func (s *Store) fileSize(off uint64) uint64    { return getU64(s.data, off+inoFieldAOffset) }
func (s *Store) setFileSize(off, n uint64)     { putU64(s.data, off+inoFieldAOffset, n) }
func (s *Store) firstBlock(off uint64) uint64  { return getU64(s.data, off+inoFieldBOffset) }
func (s *Store) setFirstBlock(off, b uint64)   { putU64(s.data, off+inoFieldBOffset, b) }

// allocateInode carves out a fresh InodeSize record and initializes it. It
// does not link the record into any directory; callers do that themselves
// (the root is special-cased; all other inodes are born inline in
// AddChild).
func (s *Store) allocateInode(name string, typ byte) uint64 {
	off := s.alloc.Allocate(InodeSize)
	if off == 0 {
		return 0
	}

	clear(s.data[off : off+InodeSize])
	s.setInoName(off, name)
	now := s.clock.Now()
	s.setInoModTime(off, now)
	s.setInoAccTime(off, now)
	s.data[off+inoTypeOffset] = typ

	return off
}

////////////////////////////////////////////////////////////////////////
// Attrs / Stat
////////////////////////////////////////////////////////////////////////

// Attrs fills in stat-like attributes for the inode at off. Matches the
// getattr row of spec.md section 4.5: nlink is children+2 for a directory
// (self plus ".."), 1 for a file (no hard links supported); size is only
// meaningful for a file.
func (s *Store) Attrs(off uint64) Attrs {
	a := Attrs{
		IsDir:   s.isDir(off),
		ModTime: s.inoModTime(off),
		AccTime: s.inoAccTime(off),
	}

	if a.IsDir {
		a.Nlink = s.numChildren(off) + 2
	} else {
		a.Nlink = 1
		a.Size = s.fileSize(off)
	}

	return a
}

// Touch updates acc_time, mod_time, or both, mirroring utimens (spec.md
// section 4.5). A nil pointer leaves that timestamp unchanged.
func (s *Store) Touch(off uint64, atime, mtime *time.Time) {
	if atime != nil {
		s.setInoAccTime(off, *atime)
	}
	if mtime != nil {
		s.setInoModTime(off, *mtime)
	}
}

////////////////////////////////////////////////////////////////////////
// Directory children
////////////////////////////////////////////////////////////////////////

// findChild returns the index and offset of name within the directory at
// dirOff, or ok == false if there is no such child.
//
// SHARED_LOCKS_REQUIRED(s.mu)
func (s *Store) findChild(dirOff uint64, name string) (index int, childOff uint64, ok bool) {
	n := s.numChildren(dirOff)
	base := s.childrenOffset(dirOff)

	for i := uint64(0); i < n; i++ {
		off := base + i*InodeSize
		if s.inoName(off) == name {
			return int(i), off, true
		}
	}

	return 0, 0, false
}

// Len returns the number of children of the directory at dirOff.
func (s *Store) Len(dirOff uint64) int {
	return int(s.numChildren(dirOff))
}

// ListNames returns the names of all children of the directory at dirOff,
// in array order (not sorted -- spec.md section 4.3 notes listings are not
// sorted, since children order has no semantic meaning).
func (s *Store) ListNames(dirOff uint64) []string {
	n := s.numChildren(dirOff)
	base := s.childrenOffset(dirOff)

	names := make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		names = append(names, s.inoName(base+i*InodeSize))
	}

	return names
}

// AddChild creates a new inode of the given type named name inside the
// directory at parentOff, growing its children array by one slot.
//
// EXCLUSIVE_LOCKS_REQUIRED(s.mu)
func (s *Store) AddChild(parentOff uint64, name string, typ byte) (uint64, error) {
	if err := validateName(name); err != nil {
		return 0, err
	}

	if _, _, ok := s.findChild(parentOff, name); ok {
		return 0, syscall.EEXIST
	}

	n := s.numChildren(parentOff)
	oldArray := s.childrenOffset(parentOff)
	newCount := n + 1

	var newArray uint64
	if oldArray == 0 {
		newArray = s.alloc.Allocate(int(newCount) * InodeSize)
	} else {
		newArray = s.alloc.Reallocate(oldArray, int(newCount)*InodeSize)
	}
	if newArray == 0 {
		return 0, syscall.ENOMEM
	}

	slot := newArray + n*InodeSize
	clear(s.data[slot : slot+InodeSize])
	s.setInoName(slot, name)
	now := s.clock.Now()
	s.setInoModTime(slot, now)
	s.setInoAccTime(slot, now)
	s.data[slot+inoTypeOffset] = typ

	s.setChildrenOffset(parentOff, newArray)
	s.setNumChildren(parentOff, newCount)
	s.setInoModTime(parentOff, now)

	return slot, nil
}

// RemoveChild removes the child named name from the directory at
// parentOff via swap-remove (spec.md section 4.3): the last slot is moved
// on top of the removed one, and the array is shrunk by one element.
//
// The caller is responsible for freeing any file-block chain owned by the
// removed child before calling RemoveChild (Unlink does this; RmDir never
// needs to, since it only ever removes empty directories).
//
// EXCLUSIVE_LOCKS_REQUIRED(s.mu)
func (s *Store) RemoveChild(parentOff uint64, name string) error {
	index, _, ok := s.findChild(parentOff, name)
	if !ok {
		return syscall.ENOENT
	}

	n := s.numChildren(parentOff)
	base := s.childrenOffset(parentOff)
	last := int(n) - 1

	if index != last {
		victim := s.data[base+uint64(index)*InodeSize : base+uint64(index)*InodeSize+InodeSize]
		lastSlot := s.data[base+uint64(last)*InodeSize : base+uint64(last)*InodeSize+InodeSize]
		copy(victim, lastSlot)
	}

	newCount := n - 1
	var newArray uint64
	if newCount == 0 {
		s.alloc.Reallocate(base, 0)
		newArray = 0
	} else {
		newArray = s.alloc.Reallocate(base, int(newCount)*InodeSize)
		if newArray == 0 {
			return syscall.ENOMEM
		}
	}

	s.setChildrenOffset(parentOff, newArray)
	s.setNumChildren(parentOff, newCount)
	s.setInoModTime(parentOff, s.clock.Now())

	return nil
}

////////////////////////////////////////////////////////////////////////
// Path resolution
////////////////////////////////////////////////////////////////////////

func validateName(name string) error {
	if name == "" || strings.Contains(name, "/") {
		return syscall.ENOENT
	}
	if len(name) > MaxNameLen {
		return syscall.ENAMETOOLONG
	}
	return nil
}

// splitPath trims leading/trailing slashes and splits on "/"; a trailing
// slash is tolerated per spec.md section 4.3 ("a trailing slash is
// tolerated; empty final component stops the walk").
func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// Resolve walks path from the root, returning the offset of the inode it
// names. The root inode is allocated lazily on first call.
func (s *Store) Resolve(path string) (uint64, error) {
	cur := s.root()

	for _, comp := range splitPath(path) {
		if len(comp) > MaxNameLen {
			return 0, syscall.ENAMETOOLONG
		}
		if !s.isDir(cur) {
			return 0, syscall.ENOTDIR
		}

		_, child, ok := s.findChild(cur, comp)
		if !ok {
			return 0, syscall.ENOENT
		}
		cur = child
	}

	return cur, nil
}

// ResolveChild resolves name directly under the directory at parentOff,
// without walking from the root. Used by callers that already hold a
// parent offset (e.g. Unlink) and would otherwise have to re-walk the
// whole path just to recover the child's offset.
func (s *Store) ResolveChild(parentOff uint64, name string) (uint64, error) {
	if !s.isDir(parentOff) {
		return 0, syscall.ENOTDIR
	}
	_, off, ok := s.findChild(parentOff, name)
	if !ok {
		return 0, syscall.ENOENT
	}
	return off, nil
}

// ResolveParent splits path into its parent directory and final component,
// resolving the parent. It does not require the final component to exist.
func (s *Store) ResolveParent(path string) (parent uint64, name string, err error) {
	comps := splitPath(path)
	if len(comps) == 0 {
		return 0, "", syscall.EINVAL
	}

	name = comps[len(comps)-1]
	if err := validateName(name); err != nil {
		return 0, "", err
	}

	parent = s.root()
	for _, comp := range comps[:len(comps)-1] {
		if !s.isDir(parent) {
			return 0, "", syscall.ENOTDIR
		}
		_, child, ok := s.findChild(parent, comp)
		if !ok {
			return 0, "", syscall.ENOENT
		}
		parent = child
	}

	if !s.isDir(parent) {
		return 0, "", syscall.ENOTDIR
	}

	return parent, name, nil
}

// RootOffset exposes the root inode's offset, mainly so callers can detect
// "rename/rmdir of the root itself" (spec.md section 9, open question 3).
func (s *Store) RootOffset() uint64 {
	return s.root()
}

// Rename moves the child named oldName out of oldParent and into newParent
// under newName, POSIX rename(2) style: an existing non-directory
// destination is silently replaced; an existing empty directory
// destination is replaced only if the source is also a directory; a
// non-empty directory destination is rejected with ENOTEMPTY.
//
// Because a directory's children live inline in its parent's children
// array rather than behind a stable offset, a rename is implemented as a
// field copy into the destination slot followed by a source removal, not an
// in-place relink. When the destination already exists, its slot is reused
// directly (an unconditional field overwrite, which cannot fail partway);
// only when there is no destination slot yet does this allocate one via
// AddChild, which is attempted before the source is touched so an
// allocation failure never leaves the source half-removed.
//
// EXCLUSIVE_LOCKS_REQUIRED(s.mu)
func (s *Store) Rename(oldParent uint64, oldName string, newParent uint64, newName string) error {
	_, srcOff, ok := s.findChild(oldParent, oldName)
	if !ok {
		return syscall.ENOENT
	}

	if oldParent == newParent && oldName == newName {
		return nil
	}

	// Same-directory rename with no colliding destination: spec.md section
	// 4.5 calls for overwriting the name field in place rather than the
	// general copy/remove dance.
	if oldParent == newParent {
		if _, _, ok := s.findChild(newParent, newName); !ok {
			if err := validateName(newName); err != nil {
				return err
			}
			s.setInoName(srcOff, newName)
			s.setInoModTime(oldParent, s.clock.Now())
			return nil
		}
	}

	if _, dstOff, ok := s.findChild(newParent, newName); ok {
		if s.isDir(dstOff) {
			if !s.isDir(srcOff) {
				return syscall.EISDIR
			}
			if s.numChildren(dstOff) != 0 {
				return syscall.ENOTEMPTY
			}
		} else if s.isDir(srcOff) {
			return syscall.ENOTDIR
		}

		// Overwrite the destination's fields in place rather than removing
		// it and adding a fresh slot for the source: remove-then-add can
		// fail partway (ENOMEM growing newParent's children array) with the
		// destination already gone and the source still untouched. A field
		// copy onto an existing slot can't fail partway.
		s.data[dstOff+inoTypeOffset] = s.data[srcOff+inoTypeOffset]
		s.setInoModTime(dstOff, s.inoModTime(srcOff))
		s.setInoAccTime(dstOff, s.inoAccTime(srcOff))
		putU64(s.data, dstOff+inoFieldAOffset, getU64(s.data, srcOff+inoFieldAOffset))
		putU64(s.data, dstOff+inoFieldBOffset, getU64(s.data, srcOff+inoFieldBOffset))

		return s.RemoveChild(oldParent, oldName)
	}

	typ := s.inoType(srcOff)
	modTime := s.inoModTime(srcOff)
	accTime := s.inoAccTime(srcOff)
	fieldA := getU64(s.data, srcOff+inoFieldAOffset)
	fieldB := getU64(s.data, srcOff+inoFieldBOffset)

	// oldParent's own inode may sit in newParent's children array (moving an
	// entry up into its directory's parent). AddChild relocates that array,
	// so oldParent is recomputed from its slot index afterwards.
	newBase := s.childrenOffset(newParent)
	newEnd := newBase + s.numChildren(newParent)*InodeSize

	dstOff, err := s.AddChild(newParent, newName, typ)
	if err != nil {
		return err
	}
	if newBase != 0 && oldParent >= newBase && oldParent < newEnd {
		oldParent = s.childrenOffset(newParent) + (oldParent - newBase)
	}

	s.setInoModTime(dstOff, modTime)
	s.setInoAccTime(dstOff, accTime)
	putU64(s.data, dstOff+inoFieldAOffset, fieldA)
	putU64(s.data, dstOff+inoFieldBOffset, fieldB)

	// oldParent != newParent here (the same-directory cases above always
	// return before this point), so growing newParent's children array
	// above never touches oldParent's children array, and srcOff is still
	// valid.
	return s.RemoveChild(oldParent, oldName)
}
