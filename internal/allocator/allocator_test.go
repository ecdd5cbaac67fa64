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

package allocator

import (
	"encoding/binary"
	"testing"
)

const headOffset = 0
const dataStart = 8

func newTestAllocator(size int) *Allocator {
	data := make([]byte, dataStart+size)
	binary.LittleEndian.PutUint64(data[headOffset:], dataStart)
	binary.LittleEndian.PutUint64(data[dataStart:], uint64(size))
	binary.LittleEndian.PutUint64(data[dataStart+8:], 0)
	return New(data, headOffset)
}

func TestAllocateAndFreeRoundTrip(t *testing.T) {
	a := newTestAllocator(256)

	off := a.Allocate(32)
	if off == 0 {
		t.Fatalf("Allocate returned 0")
	}

	a.Free(off)
	if got := a.FreeSize(); got != 256 {
		t.Errorf("FreeSize after single free-and-return = %d, want 256", got)
	}
}

func TestAllocateExhaustion(t *testing.T) {
	a := newTestAllocator(64)

	if off := a.Allocate(64 - HeaderSize); off == 0 {
		t.Fatalf("Allocate(%d) failed in a freshly-created 64 byte arena", 64-HeaderSize)
	}

	if off := a.Allocate(1); off != 0 {
		t.Errorf("Allocate(1) on an exhausted arena = %d, want 0", off)
	}
}

func TestCoalescesAdjacentFreedBlocks(t *testing.T) {
	a := newTestAllocator(256)

	p1 := a.Allocate(32)
	p2 := a.Allocate(32)
	p3 := a.Allocate(32)

	a.Free(p1)
	a.Free(p3)
	a.Free(p2)
	// All three blocks are now free and physically contiguous: the whole
	// arena must collapse into a single free block again.
	if got := a.FreeSize(); got != 256 {
		t.Errorf("FreeSize after freeing all blocks = %d, want 256", got)
	}
	if got := a.MaxFreeBlock(); got != 256 {
		t.Errorf("MaxFreeBlock after freeing all blocks = %d, want 256 (not coalesced)", got)
	}
}

func TestReallocateGrowPreservesContent(t *testing.T) {
	a := newTestAllocator(4096)

	off := a.Allocate(16)
	copy(a.dataSlice(off, 16), []byte("0123456789abcdef"))

	newOff := a.Reallocate(off, 64)
	if newOff == 0 {
		t.Fatalf("Reallocate grow failed")
	}
	if got := string(a.dataSlice(newOff, 16)); got != "0123456789abcdef" {
		t.Errorf("content after grow = %q, want %q", got, "0123456789abcdef")
	}
}

func TestReallocateShrinkPreservesPrefix(t *testing.T) {
	a := newTestAllocator(4096)

	off := a.Allocate(64)
	copy(a.dataSlice(off, 64), []byte("0123456789abcdef"))

	newOff := a.Reallocate(off, 8)
	if newOff == 0 {
		t.Fatalf("Reallocate shrink failed")
	}
	if got := string(a.dataSlice(newOff, 8)); got != "01234567" {
		t.Errorf("content after shrink = %q, want %q", got, "01234567")
	}
}

func TestReallocateToZeroFrees(t *testing.T) {
	a := newTestAllocator(256)

	off := a.Allocate(32)
	if got := a.Reallocate(off, 0); got != 0 {
		t.Errorf("Reallocate(off, 0) = %d, want 0", got)
	}
	if got := a.FreeSize(); got != 256 {
		t.Errorf("FreeSize after Reallocate-to-zero = %d, want 256", got)
	}
}

func TestFragmentationThenLargeAllocationFails(t *testing.T) {
	a := newTestAllocator(128)

	// Carve the arena into several small blocks, free every other one, and
	// confirm a request bigger than any single surviving free hole fails
	// even though the total free byte count would otherwise suffice.
	var blocks []uint64
	for i := 0; i < 4; i++ {
		off := a.Allocate(16)
		if off == 0 {
			t.Fatalf("setup Allocate(16) #%d failed", i)
		}
		blocks = append(blocks, off)
	}

	a.Free(blocks[0])
	a.Free(blocks[2])

	if off := a.Allocate(16 + 16 + 1); off != 0 {
		t.Errorf("Allocate across two non-adjacent holes unexpectedly succeeded at %d", off)
	}
}

// dataSlice is a small test helper exposing the allocator's payload region
// directly, since Allocator otherwise only ever returns offsets.
func (a *Allocator) dataSlice(payloadOffset uint64, n int) []byte {
	return a.data[payloadOffset : payloadOffset+uint64(n)]
}
