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

import "encoding/binary"

// On-disk layout. All multi-byte fields are fixed-width, little-endian; the
// format is therefore consistent across architectures of different
// endianness, but (per design, see SPEC_FULL.md) still assumes a region
// mapped by this same codebase -- it is not a general interchange format.

const (
	// Superblock, at region offset 0.
	sbMagicOffset      = 0
	sbSizeOffset       = 8
	sbFreeMemoryOffset = 16
	sbRootDirOffset    = 24
	SuperblockSize     = 32

	sbMagicValue = 1

	// MaxNameLen is the maximum length of a path component, not counting the
	// NUL terminator.
	MaxNameLen = 255

	// Inode record. Stored inline in a directory's children array, or as the
	// standalone root inode.
	inoNameOffset    = 0
	inoNameLen       = MaxNameLen + 1 // room for the NUL terminator
	inoModTimeOffset = inoNameOffset + inoNameLen
	inoAccTimeOffset = inoModTimeOffset + 8
	inoTypeOffset    = inoAccTimeOffset + 8
	inoFieldAOffset  = inoTypeOffset + 8 // numChildren (dir) | size (file)
	inoFieldBOffset  = inoFieldAOffset + 8 // children offset (dir) | first block (file)
	InodeSize        = inoFieldBOffset + 8

	// InodeType values.
	TypeDirectory = byte(1)
	TypeFile      = byte(2)

	// File-block header and payload share one allocation: a block is carved
	// out as Allocate(FileBlockHeaderSize+n), and the offset that call
	// returns is both the header's base and the base every fbXxxOffset below
	// is relative to. fbDataOffset is where the payload begins within that
	// same allocation, not a separately-allocated buffer's address.
	fbBlockSizeOffset = 0
	fbNextOffset      = 8
	fbDataOffset      = 16
	FileBlockHeaderSize = 16
)

func getU64(data []byte, off uint64) uint64 {
	return binary.LittleEndian.Uint64(data[off:])
}

func putU64(data []byte, off, v uint64) {
	binary.LittleEndian.PutUint64(data[off:], v)
}

func getI64(data []byte, off uint64) int64 {
	return int64(getU64(data, off))
}

func putI64(data []byte, off uint64, v int64) {
	putU64(data, off, uint64(v))
}
