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
	"errors"
	"os"
	"syscall"
	"testing"

	"github.com/flemings/regionfs/internal/core"
)

func TestToErrnoPassesThroughSyscallErrno(t *testing.T) {
	if got := toErrno(syscall.ENOENT); got != syscall.ENOENT {
		t.Errorf("toErrno(ENOENT) = %v, want ENOENT", got)
	}
	if got := toErrno(nil); got != nil {
		t.Errorf("toErrno(nil) = %v, want nil", got)
	}
}

func TestToErrnoWrapsOtherErrors(t *testing.T) {
	if got := toErrno(errors.New("boom")); got != syscall.EIO {
		t.Errorf("toErrno(non-errno) = %v, want EIO", got)
	}
}

func TestAttrForMarksDirectoryMode(t *testing.T) {
	dirAttr := attrFor(core.Attr{Mode: uint32(syscall.S_IFDIR) | 0755})
	if dirAttr.Mode&os.ModeDir == 0 {
		t.Errorf("attrFor(dir) Mode = %v, want ModeDir set", dirAttr.Mode)
	}

	fileAttr := attrFor(core.Attr{Mode: uint32(syscall.S_IFREG) | 0755})
	if fileAttr.Mode&os.ModeDir != 0 {
		t.Errorf("attrFor(file) Mode = %v, want ModeDir unset", fileAttr.Mode)
	}
}

func TestChildPathJoins(t *testing.T) {
	cases := []struct{ parent, name, want string }{
		{"/", "a", "/a"},
		{"/a", "b", "/a/b"},
	}
	for _, c := range cases {
		if got := childPath(c.parent, c.name); got != c.want {
			t.Errorf("childPath(%q, %q) = %q, want %q", c.parent, c.name, got, c.want)
		}
	}
}
