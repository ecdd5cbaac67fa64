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

// Package memregion owns the single contiguous byte region that the whole
// filesystem lives inside. The region may be anonymous (volatile, process
// lifetime only) or backed by a file (persists across mounts when cleanly
// unmounted). Nothing outside this package ever sees an absolute address
// into the region; everything downstream works in offsets.
package memregion

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Region is a caller-supplied range of memory of fixed size, mapped once at
// mount time. Its virtual base address is not guaranteed to be the same
// across mounts, which is exactly why every persisted structure built on top
// of it must address the region by offset rather than by pointer.
type Region struct {
	data []byte
	file *os.File
}

// Create maps size bytes of anonymous, zero-filled memory. The filesystem
// built on top of it does not survive process exit.
func Create(size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("memregion: size must be positive, got %d", size)
	}

	data, err := unix.Mmap(
		-1,
		0,
		size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("memregion: mmap anon: %w", err)
	}

	return &Region{data: data}, nil
}

// Open maps size bytes of f, growing the file to size first if it is
// smaller. The returned Region's Sync method flushes dirty pages back to f;
// Close unmaps without closing f.
func Open(f *os.File, size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("memregion: size must be positive, got %d", size)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("memregion: stat: %w", err)
	}

	if info.Size() < int64(size) {
		if err := f.Truncate(int64(size)); err != nil {
			return nil, fmt.Errorf("memregion: truncate: %w", err)
		}
	}

	data, err := unix.Mmap(
		int(f.Fd()),
		0,
		size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("memregion: mmap file: %w", err)
	}

	return &Region{data: data, file: f}, nil
}

// Bytes returns the region's backing slice. Callers must never retain a
// pointer derived from it across a remount; only offsets into it may be
// persisted.
func (r *Region) Bytes() []byte {
	return r.data
}

// Size returns the total number of bytes in the region, including whatever
// the superblock occupies at offset zero.
func (r *Region) Size() int {
	return len(r.data)
}

// Sync flushes dirty pages to the backing file. It is a no-op for anonymous
// regions.
func (r *Region) Sync() error {
	if r.file == nil {
		return nil
	}

	if err := unix.Msync(r.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("memregion: msync: %w", err)
	}

	return nil
}

// Close flushes (for file-backed regions) and unmaps the region. It does not
// close the backing file descriptor; the caller owns that.
func (r *Region) Close() error {
	if err := r.Sync(); err != nil {
		return err
	}

	if err := unix.Munmap(r.data); err != nil {
		return fmt.Errorf("memregion: munmap: %w", err)
	}

	r.data = nil
	return nil
}
