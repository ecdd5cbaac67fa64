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
	"testing"

	"github.com/jacobsa/fuse"
)

func TestNewIDTableSeedsRoot(t *testing.T) {
	tbl := newIDTable()

	p, ok := tbl.pathForID(fuse.RootInodeID)
	if !ok || p != "/" {
		t.Fatalf("pathForID(RootInodeID) = %q, %v, want \"/\", true", p, ok)
	}
}

func TestIDForPathMintsThenReuses(t *testing.T) {
	tbl := newIDTable()

	id1 := tbl.idForPath("/a")
	id2 := tbl.idForPath("/a")
	if id1 != id2 {
		t.Errorf("idForPath called twice on the same path = %d, %d, want equal", id1, id2)
	}

	id3 := tbl.idForPath("/b")
	if id3 == id1 {
		t.Errorf("idForPath(/b) reused /a's ID %d", id1)
	}
}

func TestForgetRemovesMapping(t *testing.T) {
	tbl := newIDTable()

	id := tbl.idForPath("/a") // lookup count now 1
	tbl.forget(id, 1)

	if _, ok := tbl.pathForID(id); ok {
		t.Errorf("pathForID(%d) still resolves after forgetting its only reference", id)
	}
}

func TestForgetRootIsNoop(t *testing.T) {
	tbl := newIDTable()

	tbl.forget(fuse.RootInodeID, 1000)

	if _, ok := tbl.pathForID(fuse.RootInodeID); !ok {
		t.Errorf("forget(RootInodeID, ...) removed the root mapping")
	}
}

func TestForgetPartialDecrementKeepsMapping(t *testing.T) {
	tbl := newIDTable()

	id := tbl.idForPath("/a")
	tbl.idForPath("/a") // lookup count now 2
	tbl.forget(id, 1)

	if _, ok := tbl.pathForID(id); !ok {
		t.Errorf("pathForID(%d) removed after only one of two references was forgotten", id)
	}
}

func TestRenameRepointsPath(t *testing.T) {
	tbl := newIDTable()

	id := tbl.idForPath("/old")
	tbl.rename("/old", "/new")

	if p, ok := tbl.pathForID(id); !ok || p != "/new" {
		t.Errorf("pathForID(%d) after rename = %q, %v, want \"/new\", true", id, p, ok)
	}
	if _, ok := tbl.idByPath["/old"]; ok {
		t.Errorf("idByPath still has an entry for /old after rename")
	}
}

func TestInvariantsHoldAfterMintAndForget(t *testing.T) {
	fs := &FS{ids: newIDTable()}

	fs.ids.idForPath("/a")
	fs.ids.idForPath("/b")
	fs.checkInvariants() // must not panic

	fs.ids.forget(fs.ids.idByPath["/a"], 1)
	fs.checkInvariants() // must not panic
}
