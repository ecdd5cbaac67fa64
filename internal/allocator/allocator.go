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

// Package allocator implements a position-independent, coalescing free-list
// heap over a byte slice. Every value it hands out or accepts is an offset
// relative to the start of that slice; no absolute address is ever stored
// back into it, so the slice (and everything built on it) can be remapped at
// a different virtual address across mounts without invalidating anything.
package allocator

import (
	"encoding/binary"

	"github.com/jacobsa/syncutil"
)

// HeaderSize is the number of bytes every block (free or allocated) spends
// on bookkeeping before its payload begins.
const HeaderSize = 16

// Allocator sub-allocates byte ranges from data, a region that the caller
// owns and keeps mapped for the allocator's lifetime. headOffset is the byte
// offset within data of an 8-byte field holding the offset of the first free
// block (0 if the free list is empty); the caller (typically a superblock)
// owns that field's storage and semantics, the allocator only reads/writes
// it as the head pointer of its own list.
type Allocator struct {
	// EXCLUSIVE_LOCKS_REQUIRED for all mutating methods; SHARED for queries.
	mu syncutil.InvariantMutex

	data       []byte
	headOffset int
}

// New returns an allocator operating over data, using the 8-byte
// little-endian field at data[headOffset:headOffset+8] as the free-list
// head. The caller is responsible for having already seeded that field and
// the single free block it points to (see fsstore.Open's lazy init).
func New(data []byte, headOffset int) *Allocator {
	a := &Allocator{data: data, headOffset: headOffset}
	a.mu = syncutil.NewInvariantMutex(a.checkInvariants)
	return a
}

// checkInvariants verifies that the free list is strictly offset-ascending
// and has no two physically contiguous entries (spec invariant: free blocks
// are always coalesced).
//
// SHARED_LOCKS_REQUIRED(a.mu)
func (a *Allocator) checkInvariants() {
	prevOffset := uint64(0)
	prevEnd := uint64(0)

	for off := a.freeHead(); off != 0; {
		if prevOffset != 0 {
			if off <= prevOffset {
				panic("allocator: free list not strictly ascending")
			}
			if prevEnd == off {
				panic("allocator: adjacent free blocks were not coalesced")
			}
		}

		size, next := a.readHeader(off)
		prevOffset = off
		prevEnd = off + size
		off = next
	}
}

func (a *Allocator) freeHead() uint64 {
	return binary.LittleEndian.Uint64(a.data[a.headOffset:])
}

func (a *Allocator) setFreeHead(off uint64) {
	binary.LittleEndian.PutUint64(a.data[a.headOffset:], off)
}

func (a *Allocator) readHeader(off uint64) (size, next uint64) {
	size = binary.LittleEndian.Uint64(a.data[off:])
	next = binary.LittleEndian.Uint64(a.data[off+8:])
	return
}

func (a *Allocator) writeHeader(off, size, next uint64) {
	binary.LittleEndian.PutUint64(a.data[off:], size)
	binary.LittleEndian.PutUint64(a.data[off+8:], next)
}

// Allocate returns the payload offset of a block with at least n usable
// bytes, or 0 if no free block is large enough.
func (a *Allocator) Allocate(n int) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n < 0 {
		return 0
	}
	required := uint64(n) + HeaderSize

	var prevOffset uint64 // 0 means "the head field itself"
	for off := a.freeHead(); off != 0; {
		size, next := a.readHeader(off)

		if size < required {
			prevOffset = off
			off = next
			continue
		}

		if size == required {
			// Exact fit: unlink the node entirely.
			a.setNext(prevOffset, next)
		} else {
			// Split: the tail becomes a new, smaller free block in place.
			tailOffset := off + required
			tailSize := size - required
			a.writeHeader(tailOffset, tailSize, next)
			a.setNext(prevOffset, tailOffset)
		}

		a.writeHeader(off, required, 0)
		return off + HeaderSize
	}

	return 0
}

// setNext sets the link at prevOffset (0 meaning the free-list head field)
// to point at off.
func (a *Allocator) setNext(prevOffset, off uint64) {
	if prevOffset == 0 {
		a.setFreeHead(off)
		return
	}

	size, _ := a.readHeader(prevOffset)
	a.writeHeader(prevOffset, size, off)
}

// Free releases the block whose payload begins at payloadOffset, inserting
// it into the free list in address order and coalescing with its left and
// right neighbors if they are physically contiguous.
func (a *Allocator) Free(payloadOffset uint64) {
	if payloadOffset == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	blockOffset := payloadOffset - HeaderSize
	size, _ := a.readHeader(blockOffset)

	// Find the insertion point: the first free block whose address exceeds
	// ours, and the free block (if any) immediately before it.
	var prevOffset uint64
	next := a.freeHead()
	for next != 0 && next < blockOffset {
		prevOffset = next
		_, n := a.readHeader(next)
		next = n
	}

	a.writeHeader(blockOffset, size, next)
	a.setNext(prevOffset, blockOffset)

	// Merge right first: the list was coalesced before this insertion, so at
	// most one merge on each side can ever apply.
	if next != 0 {
		if blockOffset+size == next {
			rightSize, rightNext := a.readHeader(next)
			size += rightSize
			a.writeHeader(blockOffset, size, rightNext)
		}
	}

	// Merge left.
	if prevOffset != 0 {
		prevSize, _ := a.readHeader(prevOffset)
		if prevOffset+prevSize == blockOffset {
			_, mergedNext := a.readHeader(blockOffset)
			prevSize += size
			a.writeHeader(prevOffset, prevSize, mergedNext)
		}
	}
}

// Reallocate resizes the block at payloadOffset to n usable bytes,
// preserving min(old size, n) bytes of its contents. n == 0 is equivalent to
// Free and always returns 0. payloadOffset == 0 returns 0 without
// allocating (there is no implicit malloc-from-nil).
func (a *Allocator) Reallocate(payloadOffset uint64, n int) uint64 {
	if n == 0 {
		a.Free(payloadOffset)
		return 0
	}

	if payloadOffset == 0 {
		return 0
	}

	oldSize := a.payloadSize(payloadOffset)

	newOffset := a.Allocate(n)
	if newOffset == 0 {
		return 0
	}

	copyLen := oldSize
	if n < copyLen {
		copyLen = n
	}

	a.mu.Lock()
	copy(a.data[newOffset:newOffset+uint64(copyLen)], a.data[payloadOffset:payloadOffset+uint64(copyLen)])
	a.mu.Unlock()

	a.Free(payloadOffset)
	return newOffset
}

// payloadSize returns the usable byte count of the block at payloadOffset.
func (a *Allocator) payloadSize(payloadOffset uint64) int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	blockOffset := payloadOffset - HeaderSize
	size, _ := a.readHeader(blockOffset)
	return int(size) - HeaderSize
}

// FreeSize returns the total number of bytes (including headers) currently
// on the free list.
func (a *Allocator) FreeSize() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var total uint64
	for off := a.freeHead(); off != 0; {
		size, next := a.readHeader(off)
		total += size
		off = next
	}
	return total
}

// MaxFreeBlock returns the size (including header) of the largest single
// free block, or 0 if the free list is empty. Used for pre-flight checks
// before a mutating sequence that must not fail partway through.
func (a *Allocator) MaxFreeBlock() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var max uint64
	for off := a.freeHead(); off != 0; {
		size, next := a.readHeader(off)
		if size > max {
			max = size
		}
		off = next
	}
	return max
}
