// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archivefs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/bureau-foundation/rattrap/lib/archive"
)

// DefaultCacheTimeout is used when Options.CacheTimeout is zero.
const DefaultCacheTimeout = time.Hour

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory where the filesystem is mounted.
	// It is created if it does not exist.
	Mountpoint string

	// Archive is the open archive to expose. It must stay open until
	// the server is unmounted.
	Archive *archive.Archive

	// CacheTimeout bounds kernel caching of entries and attributes.
	CacheTimeout time.Duration

	// AllowOther permits other users (including root) to access the
	// mount. Requires user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Logger receives diagnostic messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger
}

// Mount mounts the archive at the configured mountpoint. The caller
// must call Unmount on the returned server when done.
func Mount(ctx context.Context, options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.Archive == nil {
		return nil, fmt.Errorf("archive is required")
	}
	if options.CacheTimeout == 0 {
		options.CacheTimeout = DefaultCacheTimeout
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}

	files, err := options.Archive.ListFiles(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("listing archive files: %w", err)
	}
	tree, conflicts := buildTree(files)
	for _, conflict := range conflicts {
		options.Logger.Warn("file left out of mount", "error", conflict)
	}

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	shared := &mountState{
		ctx:     ctx,
		archive: options.Archive,
		mtime:   options.Archive.Metadata().CreatedAt,
		logger:  options.Logger,
	}
	root := &dirNode{state: shared, entry: tree}

	timeout := options.CacheTimeout
	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &timeout,
		AttrTimeout:     &timeout,
		NegativeTimeout: &timeout,
		MountOptions: fuse.MountOptions{
			FsName:     options.Archive.Path(),
			Name:       "rattrap",
			AllowOther: options.AllowOther,
			Options:    []string{"ro"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", options.Mountpoint, err)
	}

	options.Logger.Info("archive mounted",
		"archive", options.Archive.Path(),
		"mountpoint", options.Mountpoint,
		"files", len(files)-len(conflicts),
	)
	return server, nil
}

// mountState is shared by every node of one mount.
type mountState struct {
	// ctx bounds reads made through open file handles. Request
	// contexts end with their request, handles outlive it.
	ctx     context.Context
	archive *archive.Archive
	mtime   time.Time
	logger  *slog.Logger
}

func (s *mountState) setTimes(out *fuse.Attr) {
	out.SetTimes(&s.mtime, &s.mtime, &s.mtime)
}

// dirNode is a directory. Its children are created in OnAdd and never
// change.
type dirNode struct {
	gofuse.Inode
	state *mountState
	entry *dirEntry
}

var _ gofuse.InodeEmbedder = (*dirNode)(nil)
var _ gofuse.NodeOnAdder = (*dirNode)(nil)
var _ gofuse.NodeGetattrer = (*dirNode)(nil)

func (d *dirNode) OnAdd(ctx context.Context) {
	dirs, files := d.entry.names()
	for _, name := range dirs {
		child := d.NewPersistentInode(ctx, &dirNode{state: d.state, entry: d.entry.dirs[name]},
			gofuse.StableAttr{Mode: syscall.S_IFDIR})
		d.AddChild(name, child, false)
	}
	for _, name := range files {
		child := d.NewPersistentInode(ctx, &fileNode{state: d.state, summary: d.entry.files[name]},
			gofuse.StableAttr{Mode: syscall.S_IFREG})
		d.AddChild(name, child, false)
	}
}

func (d *dirNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFDIR | 0o555
	d.state.setTimes(&out.Attr)
	return 0
}

// fileNode is one archived file.
type fileNode struct {
	gofuse.Inode
	state   *mountState
	summary archive.FileSummary
}

var _ gofuse.InodeEmbedder = (*fileNode)(nil)
var _ gofuse.NodeGetattrer = (*fileNode)(nil)
var _ gofuse.NodeOpener = (*fileNode)(nil)
var _ gofuse.NodeReader = (*fileNode)(nil)

func (n *fileNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFREG | 0o444
	out.Size = uint64(n.summary.Size)
	out.Blocks = (out.Size + 511) / 512
	out.Blksize = uint32(n.state.archive.Metadata().ChunkSize)
	n.state.setTimes(&out.Attr)
	return 0
}

func (n *fileNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR|syscall.O_TRUNC) != 0 {
		return nil, 0, syscall.EROFS
	}
	file, err := n.state.archive.OpenFile(n.state.ctx, n.summary.Path)
	if err != nil {
		n.state.logger.Error("open failed", "path", n.summary.Path, "error", err)
		return nil, 0, syscall.EIO
	}
	return &fileHandle{file: file, logger: n.state.logger}, fuse.FOPEN_KEEP_CACHE, 0
}

// Read serves reads through the open handle, whose decoded-chunk cache
// covers the run of kernel reads within one chunk. Reads without a
// handle fall back to a direct range read.
func (n *fileNode) Read(ctx context.Context, f gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	if handle, ok := f.(*fileHandle); ok {
		return handle.Read(ctx, dest, off)
	}
	if off >= n.summary.Size {
		return fuse.ReadResultData(nil), 0
	}
	data, err := n.state.archive.ReadRange(ctx, n.summary.Path, off, off+int64(len(dest)))
	if err != nil {
		n.state.logger.Error("read failed",
			"path", n.summary.Path,
			"offset", off,
			"length", len(dest),
			"error", err,
		)
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(data), 0
}

// fileHandle is one open of an archived file.
type fileHandle struct {
	file   *archive.File
	logger *slog.Logger
}

var _ gofuse.FileReader = (*fileHandle)(nil)

func (h *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := h.file.ReadAt(dest, off)
	if err != nil && !errors.Is(err, io.EOF) {
		h.logger.Error("read failed",
			"path", h.file.Name(),
			"offset", off,
			"length", len(dest),
			"error", err,
		)
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(dest[:n]), 0
}
