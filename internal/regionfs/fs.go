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

// Package regionfs adapts internal/core's path-based operation surface to
// the inode-ID/handle-keyed protocol fuse.FileSystem actually speaks. It
// is the one place in this module that needs to remember anything about
// kernel-minted IDs; the core itself stays entirely path-based.
package regionfs

import (
	"os"
	"path"
	"syscall"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"
	"golang.org/x/net/context"

	"github.com/flemings/regionfs/internal/core"
)

// entryTTL is how long the kernel may cache attributes/dentries before
// revalidating. This filesystem only mutates in response to requests it
// has already seen, so, like the teacher's memfs, there is no harm in
// caching for a long time.
const entryTTL = 365 * 24 * time.Hour

type dirHandle struct {
	entries []dirent
}

// FS implements fuse.FileSystem over a mounted core.FS.
type FS struct {
	clock timeutil.Clock

	mu syncutil.InvariantMutex

	core *core.FS // GUARDED_BY(mu)
	ids  *idTable // GUARDED_BY(mu)

	nextHandle fuse.HandleID                // GUARDED_BY(mu)
	dirHandles map[fuse.HandleID]*dirHandle // GUARDED_BY(mu)
}

var _ fuse.FileSystem = (*FS)(nil)

// New wraps fs as a fuse.FileSystem.
func New(fs *core.FS, clock timeutil.Clock) fuse.FileSystem {
	r := &FS{
		clock:      clock,
		core:       fs,
		ids:        newIDTable(),
		dirHandles: make(map[fuse.HandleID]*dirHandle),
	}
	r.mu = syncutil.NewInvariantMutex(r.checkInvariants)
	return r
}

func (fs *FS) checkInvariants() {
	if len(fs.ids.pathByID) != len(fs.ids.idByPath) {
		panic("regionfs: id table path/id maps diverged")
	}
}

// toErrno maps an error from internal/core (always a syscall.Errno, since
// that is the only error type fsstore/core ever returns) to itself;
// anything else is a programming error in this adapter.
func toErrno(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(syscall.Errno); ok {
		return err
	}
	return syscall.EIO
}

func isDirMode(mode uint32) bool {
	return mode&uint32(syscall.S_IFDIR) == uint32(syscall.S_IFDIR)
}

func attrFor(a core.Attr) fuse.InodeAttributes {
	perm := os.FileMode(0755)
	if isDirMode(a.Mode) {
		perm |= os.ModeDir
	}

	return fuse.InodeAttributes{
		Size:   a.Size,
		Nlink:  a.Nlink,
		Mode:   perm,
		Atime:  a.AccTime,
		Mtime:  a.ModTime,
		Ctime:  a.ModTime,
		Crtime: a.ModTime,
	}
}

func childPath(parent string, name string) string {
	return path.Join(parent, name)
}

////////////////////////////////////////////////////////////////////////
// Inodes
////////////////////////////////////////////////////////////////////////

func (fs *FS) Init(
	ctx context.Context,
	req *fuse.InitRequest) (*fuse.InitResponse, error) {
	return &fuse.InitResponse{}, nil
}

func (fs *FS) LookUpInode(
	ctx context.Context,
	req *fuse.LookUpInodeRequest) (*fuse.LookUpInodeResponse, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parentPath, ok := fs.ids.pathForID(req.Parent)
	if !ok {
		return nil, syscall.ENOENT
	}

	childP := childPath(parentPath, req.Name)
	attr, err := fs.core.GetAttr(childP)
	if err != nil {
		return nil, toErrno(err)
	}

	resp := &fuse.LookUpInodeResponse{}
	resp.Entry.Child = fs.ids.idForPath(childP)
	resp.Entry.Attributes = attrFor(attr)
	resp.Entry.AttributesExpiration = fs.clock.Now().Add(entryTTL)
	resp.Entry.EntryExpiration = resp.Entry.AttributesExpiration
	return resp, nil
}

func (fs *FS) GetInodeAttributes(
	ctx context.Context,
	req *fuse.GetInodeAttributesRequest) (*fuse.GetInodeAttributesResponse, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	p, ok := fs.ids.pathForID(req.Inode)
	if !ok {
		return nil, syscall.ENOENT
	}

	attr, err := fs.core.GetAttr(p)
	if err != nil {
		return nil, toErrno(err)
	}

	return &fuse.GetInodeAttributesResponse{
		Attributes:           attrFor(attr),
		AttributesExpiration: fs.clock.Now().Add(entryTTL),
	}, nil
}

func (fs *FS) SetInodeAttributes(
	ctx context.Context,
	req *fuse.SetInodeAttributesRequest) (*fuse.SetInodeAttributesResponse, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	p, ok := fs.ids.pathForID(req.Inode)
	if !ok {
		return nil, syscall.ENOENT
	}

	if req.Size != nil {
		if err := fs.core.Truncate(p, *req.Size); err != nil {
			return nil, toErrno(err)
		}
	}

	if req.Atime != nil || req.Mtime != nil {
		if err := fs.core.Utimens(p, req.Atime, req.Mtime); err != nil {
			return nil, toErrno(err)
		}
	}

	attr, err := fs.core.GetAttr(p)
	if err != nil {
		return nil, toErrno(err)
	}

	return &fuse.SetInodeAttributesResponse{
		Attributes:           attrFor(attr),
		AttributesExpiration: fs.clock.Now().Add(entryTTL),
	}, nil
}

func (fs *FS) ForgetInode(
	ctx context.Context,
	req *fuse.ForgetInodeRequest) (*fuse.ForgetInodeResponse, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.ids.forget(req.ID, 1)
	return &fuse.ForgetInodeResponse{}, nil
}

////////////////////////////////////////////////////////////////////////
// Inode creation
////////////////////////////////////////////////////////////////////////

func (fs *FS) MkDir(
	ctx context.Context,
	req *fuse.MkDirRequest) (*fuse.MkDirResponse, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parentPath, ok := fs.ids.pathForID(req.Parent)
	if !ok {
		return nil, syscall.ENOENT
	}

	childP := childPath(parentPath, req.Name)
	if err := fs.core.Mkdir(childP); err != nil {
		return nil, toErrno(err)
	}

	attr, err := fs.core.GetAttr(childP)
	if err != nil {
		return nil, toErrno(err)
	}

	resp := &fuse.MkDirResponse{}
	resp.Entry.Child = fs.ids.idForPath(childP)
	resp.Entry.Attributes = attrFor(attr)
	resp.Entry.AttributesExpiration = fs.clock.Now().Add(entryTTL)
	resp.Entry.EntryExpiration = resp.Entry.AttributesExpiration
	return resp, nil
}

func (fs *FS) CreateFile(
	ctx context.Context,
	req *fuse.CreateFileRequest) (*fuse.CreateFileResponse, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parentPath, ok := fs.ids.pathForID(req.Parent)
	if !ok {
		return nil, syscall.ENOENT
	}

	childP := childPath(parentPath, req.Name)
	if err := fs.core.Mknod(childP); err != nil {
		return nil, toErrno(err)
	}

	attr, err := fs.core.GetAttr(childP)
	if err != nil {
		return nil, toErrno(err)
	}

	id := fs.ids.idForPath(childP)

	resp := &fuse.CreateFileResponse{}
	resp.Entry.Child = id
	resp.Entry.Attributes = attrFor(attr)
	resp.Entry.AttributesExpiration = fs.clock.Now().Add(entryTTL)
	resp.Entry.EntryExpiration = resp.Entry.AttributesExpiration
	resp.Handle = fuse.HandleID(id)
	return resp, nil
}

////////////////////////////////////////////////////////////////////////
// Inode destruction
////////////////////////////////////////////////////////////////////////

func (fs *FS) RmDir(
	ctx context.Context,
	req *fuse.RmDirRequest) (*fuse.RmDirResponse, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parentPath, ok := fs.ids.pathForID(req.Parent)
	if !ok {
		return nil, syscall.ENOENT
	}

	if err := fs.core.Rmdir(childPath(parentPath, req.Name)); err != nil {
		return nil, toErrno(err)
	}
	return &fuse.RmDirResponse{}, nil
}

func (fs *FS) Unlink(
	ctx context.Context,
	req *fuse.UnlinkRequest) (*fuse.UnlinkResponse, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parentPath, ok := fs.ids.pathForID(req.Parent)
	if !ok {
		return nil, syscall.ENOENT
	}

	if err := fs.core.Unlink(childPath(parentPath, req.Name)); err != nil {
		return nil, toErrno(err)
	}
	return &fuse.UnlinkResponse{}, nil
}

////////////////////////////////////////////////////////////////////////
// Directory handles
////////////////////////////////////////////////////////////////////////

func (fs *FS) OpenDir(
	ctx context.Context,
	req *fuse.OpenDirRequest) (*fuse.OpenDirResponse, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	p, ok := fs.ids.pathForID(req.Inode)
	if !ok {
		return nil, syscall.ENOENT
	}

	names, err := fs.core.ReadDir(p)
	if err != nil {
		return nil, toErrno(err)
	}

	entries := make([]dirent, 0, len(names))
	for i, name := range names {
		childAttr, err := fs.core.GetAttr(childPath(p, name))
		if err != nil {
			continue
		}

		dt := uint32(dtReg)
		if isDirMode(childAttr.Mode) {
			dt = dtDir
		}

		entries = append(entries, dirent{
			offset: fuse.DirOffset(i + 1),
			inode:  fs.ids.idForPath(childPath(p, name)),
			name:   name,
			dtype:  dt,
		})
	}

	fs.nextHandle++
	h := fs.nextHandle
	fs.dirHandles[h] = &dirHandle{entries: entries}

	return &fuse.OpenDirResponse{Handle: h}, nil
}

func (fs *FS) ReadDir(
	ctx context.Context,
	req *fuse.ReadDirRequest) (*fuse.ReadDirResponse, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	h, ok := fs.dirHandles[req.Handle]
	if !ok {
		return nil, syscall.EINVAL
	}

	resp := &fuse.ReadDirResponse{}
	for i := int(req.Offset); i < len(h.entries); i++ {
		data := appendDirent(resp.Data, h.entries[i])
		if len(data) > req.Size {
			break
		}
		resp.Data = data
	}

	return resp, nil
}

func (fs *FS) ReleaseDirHandle(
	ctx context.Context,
	req *fuse.ReleaseDirHandleRequest) (*fuse.ReleaseDirHandleResponse, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	delete(fs.dirHandles, req.Handle)
	return &fuse.ReleaseDirHandleResponse{}, nil
}

////////////////////////////////////////////////////////////////////////
// File handles
////////////////////////////////////////////////////////////////////////

func (fs *FS) OpenFile(
	ctx context.Context,
	req *fuse.OpenFileRequest) (*fuse.OpenFileResponse, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	p, ok := fs.ids.pathForID(req.Inode)
	if !ok {
		return nil, syscall.ENOENT
	}
	if err := fs.core.Open(p); err != nil {
		return nil, toErrno(err)
	}

	return &fuse.OpenFileResponse{Handle: fuse.HandleID(req.Inode)}, nil
}

func (fs *FS) ReadFile(
	ctx context.Context,
	req *fuse.ReadFileRequest) (*fuse.ReadFileResponse, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	p, ok := fs.ids.pathForID(req.Inode)
	if !ok {
		return nil, syscall.ENOENT
	}

	buf := make([]byte, req.Size)
	n, err := fs.core.Read(p, uint64(req.Offset), buf)
	if err != nil {
		return nil, toErrno(err)
	}

	return &fuse.ReadFileResponse{Data: buf[:n]}, nil
}

func (fs *FS) WriteFile(
	ctx context.Context,
	req *fuse.WriteFileRequest) (*fuse.WriteFileResponse, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	p, ok := fs.ids.pathForID(req.Inode)
	if !ok {
		return nil, syscall.ENOENT
	}

	if _, err := fs.core.Write(p, uint64(req.Offset), req.Data); err != nil {
		return nil, toErrno(err)
	}
	return &fuse.WriteFileResponse{}, nil
}

func (fs *FS) SyncFile(
	ctx context.Context,
	req *fuse.SyncFileRequest) (*fuse.SyncFileResponse, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.core.Sync(); err != nil {
		return nil, err
	}
	return &fuse.SyncFileResponse{}, nil
}

func (fs *FS) FlushFile(
	ctx context.Context,
	req *fuse.FlushFileRequest) (*fuse.FlushFileResponse, error) {
	return &fuse.FlushFileResponse{}, nil
}

func (fs *FS) ReleaseFileHandle(
	ctx context.Context,
	req *fuse.ReleaseFileHandleRequest) (*fuse.ReleaseFileHandleResponse, error) {
	return &fuse.ReleaseFileHandleResponse{}, nil
}
