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

import (
	"encoding/binary"

	"github.com/jacobsa/fuse"
)

// POSIX d_type values (see dirent.h); the kernel's getdents(2) consumer
// expects these, not an OS-specific enum.
const (
	dtDir = 4
	dtReg = 8
)

// dirent describes one entry in a ReadDir response, before encoding to
// the wire format the kernel expects.
type dirent struct {
	inode  fuse.InodeID
	offset fuse.DirOffset
	name   string
	dtype  uint32
}

// appendDirent writes d in fuse_dirent layout (8-byte aligned: ino, off,
// namelen, type, name, padding) to buf, returning the result in a fresh
// slice; buf itself is not modified. It always appends, with no size
// limit -- callers that have one compare the result's length against it.
func appendDirent(buf []byte, d dirent) []byte {
	const headerSize = 8 + 8 + 4 + 4

	padLen := 0
	if rem := len(d.name) % 8; rem != 0 {
		padLen = 8 - rem
	}
	total := headerSize + len(d.name) + padLen

	out := make([]byte, len(buf), len(buf)+total)
	copy(out, buf)

	var header [headerSize]byte
	binary.LittleEndian.PutUint64(header[0:8], uint64(d.inode))
	binary.LittleEndian.PutUint64(header[8:16], uint64(d.offset))
	binary.LittleEndian.PutUint32(header[16:20], uint32(len(d.name)))
	binary.LittleEndian.PutUint32(header[20:24], d.dtype)

	out = append(out, header[:]...)
	out = append(out, d.name...)
	out = append(out, make([]byte, padLen)...)

	return out
}
