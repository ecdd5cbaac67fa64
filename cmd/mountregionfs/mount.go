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

package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/timeutil"

	"github.com/flemings/regionfs/internal/core"
	"github.com/flemings/regionfs/internal/memregion"
	"github.com/flemings/regionfs/internal/regionfs"
)

var fMountPoint = flag.String("mount_point", "", "Path to mount point.")

var fRegionSize = flag.Int(
	"region_size",
	64<<20,
	"Size in bytes of the backing region. Ignored (and taken from the "+
		"file's own size instead) once the backing file already exists and "+
		"is larger than this.")

var fBackingFile = flag.String(
	"backing_file",
	"",
	"Path to a file to back the region with, so its contents survive an "+
		"unmount. If empty, the region is anonymous and volatile.")

func openRegion() (*memregion.Region, error) {
	if *fBackingFile == "" {
		return memregion.Create(*fRegionSize)
	}

	f, err := os.OpenFile(*fBackingFile, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}

	size := *fRegionSize
	if info, err := f.Stat(); err == nil && int(info.Size()) > size {
		size = int(info.Size())
	}

	return memregion.Open(f, size)
}

func main() {
	flag.Parse()

	if *fMountPoint == "" {
		log.Fatalf("You must set --mount_point.")
	}

	region, err := openRegion()
	if err != nil {
		log.Fatalf("openRegion: %v", err)
	}

	fs, err := core.Mount(region, timeutil.RealClock())
	if err != nil {
		log.Fatalf("core.Mount: %v", err)
	}

	server := regionfs.New(fs, timeutil.RealClock())

	cfg := &fuse.MountConfig{
		// Disable writeback caching so that pid is always available in OpContext.
		DisableWritebackCaching: true,
	}

	mfs, err := fuse.Mount(*fMountPoint, server, cfg)
	if err != nil {
		log.Fatalf("Mount: %v", err)
	}

	// Wait for it to be unmounted.
	if err = mfs.Join(context.Background()); err != nil {
		log.Fatalf("Join: %v", err)
	}

	if err := fs.Close(); err != nil {
		log.Fatalf("Close: %v", err)
	}
}
