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

// Package core assembles the superblock, allocator, and fsstore layers
// into the path-based operation surface: getattr, readdir, mknod, mkdir,
// unlink, rmdir, rename, truncate, open, read, write, utimens, and statfs.
// Every method takes paths and returns a syscall.Errno, mirroring a POSIX
// entry point rather than the inode-ID/handle protocol a kernel bridge
// actually speaks -- that translation is someone else's layer.
package core

import (
	"syscall"
	"time"

	"github.com/jacobsa/timeutil"

	"github.com/flemings/regionfs/internal/fsstore"
	"github.com/flemings/regionfs/internal/memregion"
)

// FileMode bits advertised by Getattr, matching spec.md's getattr row
// exactly: dir = 0755|S_IFDIR, file = 0755|S_IFREG. No access control is
// enforced here; uid/gid/mode are echoed for display purposes only.
const (
	dirPerm  = 0755 | syscall.S_IFDIR
	filePerm = 0755 | syscall.S_IFREG

	// StatfsBlockSize is the reporting unit advertised to statfs; it is not
	// an allocation granularity.
	StatfsBlockSize = 1024
)

// Attr is the subset of stat(2) fields this filesystem tracks.
type Attr struct {
	Mode    uint32
	Nlink   uint64
	Size    uint64
	ModTime time.Time
	AccTime time.Time
}

// StatfsResult mirrors the statfs row of spec.md section 4.5. BlocksFree is
// f_bfree (total free space, however fragmented); BlocksAvail is f_bavail,
// taken from the single biggest contiguous free block rather than the
// free-space total, so it shows how fragmented the free space is. It does
// not account for per-block header overhead, so it is not a guaranteed
// upper bound for a write.
type StatfsResult struct {
	BlockSize   uint64
	Blocks      uint64
	BlocksFree  uint64
	BlocksAvail uint64
	MaxNameLen  uint64
}

// FS is a mounted filesystem: a region plus the store built on top of it.
// Every method is a single core operation; per spec.md section 5 the core
// is single-threaded by contract. FS adds no locking of its own, and
// fsstore.Store's methods do not lock either; only the allocator beneath
// it takes its own invariant-checking mutex.
type FS struct {
	region *memregion.Region
	store  *fsstore.Store
}

// Mount wires a region into a usable FS, initializing the superblock on
// first touch (fsstore.Open is idempotent across remounts).
func Mount(region *memregion.Region, clock timeutil.Clock) (*FS, error) {
	store, err := fsstore.Open(region.Bytes(), clock)
	if err != nil {
		return nil, err
	}
	return &FS{region: region, store: store}, nil
}

// Sync flushes the underlying region to its backing file, if any.
func (fs *FS) Sync() error {
	return fs.region.Sync()
}

// Close syncs and unmaps the region.
func (fs *FS) Close() error {
	return fs.region.Close()
}

func attrFor(a fsstore.Attrs) Attr {
	mode := uint32(filePerm)
	if a.IsDir {
		mode = uint32(dirPerm)
	}
	return Attr{
		Mode:    mode,
		Nlink:   a.Nlink,
		Size:    a.Size,
		ModTime: a.ModTime,
		AccTime: a.AccTime,
	}
}

// GetAttr resolves path and returns its attributes.
func (fs *FS) GetAttr(path string) (Attr, error) {
	off, err := fs.store.Resolve(path)
	if err != nil {
		return Attr{}, err
	}
	return attrFor(fs.store.Attrs(off)), nil
}

// ReadDir lists the names of path's children, excluding "." and ".." --
// this filesystem never materializes either as real directory entries.
func (fs *FS) ReadDir(path string) ([]string, error) {
	off, err := fs.store.Resolve(path)
	if err != nil {
		return nil, err
	}
	if !fs.store.Attrs(off).IsDir {
		return nil, syscall.ENOTDIR
	}
	return fs.store.ListNames(off), nil
}

// preflightInode checks that an inode-sized allocation (plus slack, for
// the directory-children-array growth a create also triggers) could
// succeed before any mutation begins, per spec.md section 7's
// pre-flight-atomicity policy.
func (fs *FS) preflightInode() error {
	if fs.store.LargestFreeBlock() < uint64(fsstore.InodeSize)+16 {
		return syscall.ENOMEM
	}
	return nil
}

// Mknod creates an empty regular file at path.
func (fs *FS) Mknod(path string) error {
	if err := fs.preflightInode(); err != nil {
		return err
	}

	parent, name, err := fs.store.ResolveParent(path)
	if err != nil {
		return err
	}
	if !fs.store.Attrs(parent).IsDir {
		return syscall.ENOTDIR
	}

	_, err = fs.store.AddChild(parent, name, fsstore.TypeFile)
	return err
}

// Mkdir creates an empty directory at path.
func (fs *FS) Mkdir(path string) error {
	if err := fs.preflightInode(); err != nil {
		return err
	}

	parent, name, err := fs.store.ResolveParent(path)
	if err != nil {
		return err
	}
	if !fs.store.Attrs(parent).IsDir {
		return syscall.ENOTDIR
	}

	_, err = fs.store.AddChild(parent, name, fsstore.TypeDirectory)
	return err
}

// Unlink removes the regular file at path, freeing its block chain.
func (fs *FS) Unlink(path string) error {
	parent, name, err := fs.store.ResolveParent(path)
	if err != nil {
		return err
	}

	off, err := fs.store.ResolveChild(parent, name)
	if err != nil {
		return err
	}
	if fs.store.Attrs(off).IsDir {
		return syscall.EISDIR
	}

	if err := fs.store.Truncate(off, 0); err != nil {
		return err
	}
	return fs.store.RemoveChild(parent, name)
}

// Rmdir removes the empty directory at path. Removing the root itself, or
// a path that resolves to it after trailing-slash trimming, is rejected
// with EBUSY (spec.md section 9, open question 3) rather than silently
// doing nothing or corrupting the superblock's root pointer.
func (fs *FS) Rmdir(path string) error {
	off, err := fs.store.Resolve(path)
	if err != nil {
		return err
	}
	if off == fs.store.RootOffset() {
		return syscall.EBUSY
	}
	if !fs.store.Attrs(off).IsDir {
		return syscall.ENOTDIR
	}
	if fs.store.Len(off) != 0 {
		return syscall.ENOTEMPTY
	}

	parent, name, err := fs.store.ResolveParent(path)
	if err != nil {
		return err
	}
	return fs.store.RemoveChild(parent, name)
}

// Rename moves/renames from to to, within or across directories.
func (fs *FS) Rename(from, to string) error {
	if from == to {
		return nil
	}

	oldParent, oldName, err := fs.store.ResolveParent(from)
	if err != nil {
		return err
	}
	newParent, newName, err := fs.store.ResolveParent(to)
	if err != nil {
		return err
	}

	return fs.store.Rename(oldParent, oldName, newParent, newName)
}

// Truncate sets the file at path's length to size.
func (fs *FS) Truncate(path string, size uint64) error {
	off, err := fs.store.Resolve(path)
	if err != nil {
		return err
	}
	if fs.store.Attrs(off).IsDir {
		return syscall.EISDIR
	}
	if size > fs.store.Attrs(off).Size {
		if fs.store.LargestFreeBlock() == 0 {
			return syscall.ENOMEM
		}
	}
	return fs.store.Truncate(off, size)
}

// Open is an existence check: this filesystem keeps no open-file state of
// its own (no handles, no O_* flag semantics) since that belongs to the
// kernel bridge that is out of scope.
func (fs *FS) Open(path string) error {
	_, err := fs.store.Resolve(path)
	return err
}

// Read reads up to len(buf) bytes from path at offset.
func (fs *FS) Read(path string, offset uint64, buf []byte) (int, error) {
	off, err := fs.store.Resolve(path)
	if err != nil {
		return 0, err
	}
	if fs.store.Attrs(off).IsDir {
		return 0, syscall.EISDIR
	}
	return fs.store.ReadFile(off, offset, buf)
}

// Write writes data to path at offset, growing the file as needed.
func (fs *FS) Write(path string, offset uint64, data []byte) (int, error) {
	off, err := fs.store.Resolve(path)
	if err != nil {
		return 0, err
	}
	if fs.store.Attrs(off).IsDir {
		return 0, syscall.EISDIR
	}

	end := offset + uint64(len(data))
	if end > fs.store.Attrs(off).Size {
		if fs.store.LargestFreeBlock() == 0 {
			return 0, syscall.ENOMEM
		}
	}

	return fs.store.WriteFile(off, offset, data)
}

// Utimens sets atime and/or mtime on path. A nil pointer leaves that
// timestamp untouched.
func (fs *FS) Utimens(path string, atime, mtime *time.Time) error {
	off, err := fs.store.Resolve(path)
	if err != nil {
		return err
	}
	fs.store.Touch(off, atime, mtime)
	return nil
}

// Statfs reports aggregate space usage in StatfsBlockSize units.
func (fs *FS) Statfs() StatfsResult {
	total := fs.store.UsableSize()
	free := fs.store.FreeBytes()
	largest := fs.store.LargestFreeBlock()

	return StatfsResult{
		BlockSize:   StatfsBlockSize,
		Blocks:      total / StatfsBlockSize,
		BlocksFree:  free / StatfsBlockSize,
		BlocksAvail: largest / StatfsBlockSize,
		MaxNameLen:  fsstore.MaxNameLen,
	}
}
