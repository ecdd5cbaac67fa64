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
	"testing"

	"github.com/jacobsa/fuse"
)

func TestAppendDirentLayoutAndPadding(t *testing.T) {
	d := dirent{inode: fuse.InodeID(7), offset: fuse.DirOffset(1), name: "abc", dtype: dtReg}

	out := appendDirent(nil, d)

	if got := binary.LittleEndian.Uint64(out[0:8]); got != 7 {
		t.Errorf("ino field = %d, want 7", got)
	}
	if got := binary.LittleEndian.Uint64(out[8:16]); got != 1 {
		t.Errorf("off field = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(out[16:20]); got != 3 {
		t.Errorf("namelen field = %d, want 3", got)
	}
	if got := binary.LittleEndian.Uint32(out[20:24]); got != dtReg {
		t.Errorf("type field = %d, want %d", got, dtReg)
	}
	if string(out[24:27]) != "abc" {
		t.Errorf("name bytes = %q, want %q", out[24:27], "abc")
	}
	if len(out)%8 != 0 {
		t.Errorf("len(out) = %d, not 8-byte aligned", len(out))
	}
}

func TestAppendDirentAppendsToExistingBuffer(t *testing.T) {
	first := appendDirent(nil, dirent{inode: 1, name: "a", dtype: dtDir})
	both := appendDirent(first, dirent{inode: 2, name: "bb", dtype: dtReg})

	if len(both) <= len(first) {
		t.Fatalf("appending a second entry did not grow the buffer")
	}
	if string(both[:len(first)]) != string(first) {
		t.Errorf("appendDirent mutated the existing prefix")
	}
}
