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

// Package fsstore implements the superblock, inode/directory store, and
// file data layer described in spec.md sections 4.1, 4.3, and 4.4: the
// directory tree and file contents live entirely inside the region, cross
// referenced only by offset.
package fsstore

import (
	"fmt"
	"syscall"
	"time"

	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"

	"github.com/flemings/regionfs/internal/allocator"
)

// Store is a handle onto a mounted region: the superblock plus the
// allocator and inode/file machinery built on top of it.
//
// A Store is not safe for concurrent use from multiple goroutines without
// external synchronization -- per spec.md section 5 the core is
// single-writer, single-threaded. mu is built around checkInvariants, but
// no Store method acquires it, so that check does not run during normal
// operation.
type Store struct {
	mu syncutil.InvariantMutex

	data  []byte
	alloc *allocator.Allocator
	clock timeutil.Clock
}

// Open returns a handle onto data, initializing the superblock if this is
// the region's first mount (magic is unset) and leaving it untouched
// otherwise. data must be at least SuperblockSize bytes.
func Open(data []byte, clock timeutil.Clock) (*Store, error) {
	if len(data) < SuperblockSize {
		return nil, syscall.EFAULT
	}

	if getU64(data, sbMagicOffset) != sbMagicValue {
		usable := uint64(len(data) - SuperblockSize)

		clear(data[SuperblockSize:])

		freeOffset := uint64(SuperblockSize)
		putU64(data, freeOffset+0, usable) // free block header: size
		putU64(data, freeOffset+8, 0)      // free block header: next

		putU64(data, sbSizeOffset, usable)
		putU64(data, sbFreeMemoryOffset, freeOffset)
		putU64(data, sbRootDirOffset, 0)
		putU64(data, sbMagicOffset, sbMagicValue)
	}

	s := &Store{
		data:  data,
		alloc: allocator.New(data, sbFreeMemoryOffset),
		clock: clock,
	}
	s.mu = syncutil.NewInvariantMutex(s.checkInvariants)

	return s, nil
}

// SHARED_LOCKS_REQUIRED(s.mu)
func (s *Store) checkInvariants() {
	// Sum of free + allocated + superblock must equal the region size. We
	// can't independently enumerate "allocated" without walking the whole
	// tree, so this only checks that the superblock's recorded usable size
	// still matches the region; free-list ordering and coalescing are
	// checked by allocator.Allocator's own invariant mutex. Full-tree size
	// accounting is not checked.
	usable := getU64(s.data, sbSizeOffset)
	if usable != uint64(len(s.data)-SuperblockSize) {
		panic(fmt.Sprintf("fsstore: superblock size %d does not match region", usable))
	}
}

// root returns the offset of the root inode, allocating it (per spec.md
// section 4.3: "The root inode is born lazily on the first path
// resolution") if this is the first call since mount.
func (s *Store) root() uint64 {
	root := getU64(s.data, sbRootDirOffset)
	if root != 0 {
		return root
	}

	root = s.allocateInode("/", TypeDirectory)
	if root == 0 {
		// The region is too small to hold even a root inode; nothing sane to
		// do but panic, since every operation depends on having a root.
		panic("fsstore: out of space allocating root inode")
	}

	putU64(s.data, sbRootDirOffset, root)
	return root
}

// FreeBytes and LargestFreeBlock expose the allocator's diagnostic queries
// for Statfs.
func (s *Store) FreeBytes() uint64        { return s.alloc.FreeSize() }
func (s *Store) LargestFreeBlock() uint64 { return s.alloc.MaxFreeBlock() }

// UsableSize is the region size minus the superblock.
func (s *Store) UsableSize() uint64 {
	return getU64(s.data, sbSizeOffset)
}

// Now is the store's clock, exposed so callers (the operation surface) can
// stamp request-level metadata without importing timeutil themselves.
func (s *Store) Now() time.Time {
	return s.clock.Now()
}
