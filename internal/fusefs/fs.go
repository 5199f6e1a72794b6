package fusefs

import (
	"context"
	"path"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/rs/zerolog"

	"github.com/librfs/rfs-fuse/internal/metrics"
	"github.com/librfs/rfs-fuse/internal/rfs"
	"github.com/librfs/rfs-fuse/internal/util"
)

// Options configures one mount's request handler.
type Options struct {
	// EntryTimeout and AttrTimeout are the cache validities handed to the
	// kernel on lookup and getattr replies.
	EntryTimeout time.Duration
	AttrTimeout  time.Duration

	// RequestTimeout bounds the backend call made on behalf of a single
	// kernel request.
	RequestTimeout time.Duration

	// MountID correlates this mount's log lines; MountPoint labels its
	// metrics.
	MountID    string
	MountPoint string

	// Metrics receives per-operation observations; nil disables recording.
	Metrics *metrics.Collector
}

// Filesystem implements the low-level FUSE wire protocol for one mount,
// translating kernel requests into backend listing calls. The only state
// it keeps is the mount's inode table; every callback is a self-contained
// transaction against a fresh listing.
// See https://www.man7.org/linux/man-pages/man4/fuse.4.html
type Filesystem struct {
	fuse.RawFileSystem

	backend  rfs.Backend
	poolRoot string
	table    *InodeTable
	opts     Options
	server   *fuse.Server
	log      zerolog.Logger
}

// New constructs the handler for one mount of poolRoot through backend.
// Zero timeouts fall back to 1s entry/attr validity and a 30s backend
// deadline.
func New(backend rfs.Backend, poolRoot string, opts Options) *Filesystem {
	if opts.EntryTimeout <= 0 {
		opts.EntryTimeout = 1 * time.Second
	}
	if opts.AttrTimeout <= 0 {
		opts.AttrTimeout = 1 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	return &Filesystem{
		RawFileSystem: fuse.NewDefaultRawFileSystem(),
		backend:       backend,
		poolRoot:      poolRoot,
		table:         NewInodeTable(),
		opts:          opts,
		log:           util.GetLogger("fusefs").With().Str("mount_id", opts.MountID).Logger(),
	}
}

func (fs *Filesystem) String() string {
	return FSName
}

func (fs *Filesystem) Init(s *fuse.Server) {
	fs.server = s
	fs.log.Debug().Str("pool_root", fs.poolRoot).Msg("Kernel session initialized")
}

func (fs *Filesystem) OnUnmount() {
	fs.log.Info().Msg("FUSE unmounted")
}

// requestCtx scopes one backend call. Kernel interrupts are deliberately
// not propagated: an in-flight callback always completes naturally, the
// deadline is the only cancellation path.
func (fs *Filesystem) requestCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), fs.opts.RequestTimeout)
}

// listDir fetches dir's listing, mapping backend failure to EIO.
func (fs *Filesystem) listDir(ctx context.Context, dir string) (*rfs.Listing, fuse.Status) {
	start := time.Now()
	listing, err := fs.backend.ListDirectory(ctx, fs.poolRoot, dir)
	fs.opts.Metrics.ObserveBackend(fs.backend.String(), err == nil, time.Since(start))
	if err != nil {
		fs.log.Error().Err(err).Str("path", dir).Msg("Backend listing failed")
		return nil, fuse.EIO
	}
	return listing, fuse.OK
}

// GetAttr answers a kernel attribute fetch for one inode.
func (fs *Filesystem) GetAttr(cancel <-chan struct{}, in *fuse.GetAttrIn, out *fuse.AttrOut) fuse.Status {
	start := time.Now()
	status := fs.getattr(in.NodeId, &out.Attr)
	if status == fuse.OK {
		out.SetTimeout(fs.opts.AttrTimeout)
	}
	fs.record("getattr", start, status)
	return status
}

// getattr resolves the inode's path and revalidates it against its
// parent's current listing; the root never consults the backend.
func (fs *Filesystem) getattr(ino uint64, out *fuse.Attr) fuse.Status {
	if ino == RootID {
		fillRootAttr(out)
		return fuse.OK
	}

	p, ok := fs.table.Resolve(ino)
	if !ok {
		return fuse.ENOENT
	}

	ctx, cancel := fs.requestCtx()
	defer cancel()
	listing, status := fs.listDir(ctx, path.Dir(p))
	if status != fuse.OK {
		return status
	}

	entry, ok := listing.Get(path.Base(p))
	if !ok {
		// Path vanished from the backend since the number was handed out
		return fuse.ENOENT
	}
	fillEntryAttr(ino, entry, out)
	return fuse.OK
}

// Lookup resolves one name inside a directory, assigning the child a
// stable inode number on first sight.
func (fs *Filesystem) Lookup(cancel <-chan struct{}, header *fuse.InHeader, name string, out *fuse.EntryOut) fuse.Status {
	start := time.Now()
	status := fs.lookup(header.NodeId, name, out)
	fs.record("lookup", start, status)
	return status
}

func (fs *Filesystem) lookup(parent uint64, name string, out *fuse.EntryOut) fuse.Status {
	parentPath, ok := fs.table.Resolve(parent)
	if !ok {
		return fuse.ENOENT
	}

	ctx, cancel := fs.requestCtx()
	defer cancel()
	listing, status := fs.listDir(ctx, parentPath)
	if status != fuse.OK {
		return status
	}

	entry, ok := listing.Get(name)
	if !ok {
		fs.log.Trace().Str("parent", parentPath).Str("name", name).Msg("Lookup miss")
		return fuse.ENOENT
	}

	ino := fs.table.GetOrCreate(path.Join(parentPath, name))
	out.NodeId = ino
	out.Generation = 0
	fillEntryAttr(ino, entry, &out.Attr)
	out.SetEntryTimeout(fs.opts.EntryTimeout)
	out.SetAttrTimeout(fs.opts.AttrTimeout)
	return fuse.OK
}

// dirent is one logical directory stream entry. The stream for a directory
// is always [".", "..", children in listing order]; virtual marks the two
// synthetic entries, which carry no backend attributes.
type dirent struct {
	e       fuse.DirEntry
	entry   rfs.Entry
	virtual bool
}

// enumerate feeds the directory stream for ino to emit, starting at the
// given logical offset, until the stream ends or emit reports a full
// buffer. The listing is refetched on every call, so continuation is
// stateless: the kernel's resume offset is simply a position in the
// rebuilt stream.
func (fs *Filesystem) enumerate(ino, offset uint64, emit func(dirent) bool) fuse.Status {
	p, ok := fs.table.Resolve(ino)
	if !ok {
		return fuse.ENOENT
	}
	parentIno, _ := fs.table.Parent(ino)

	ctx, cancel := fs.requestCtx()
	defer cancel()
	listing, status := fs.listDir(ctx, p)
	if status != fuse.OK {
		return status
	}

	total := uint64(listing.Len()) + 2
	for idx := offset; idx < total; idx++ {
		var d dirent
		switch idx {
		case 0:
			d = dirent{e: fuse.DirEntry{Name: ".", Mode: fuse.S_IFDIR, Ino: ino}, virtual: true}
		case 1:
			d = dirent{e: fuse.DirEntry{Name: "..", Mode: fuse.S_IFDIR, Ino: parentIno}, virtual: true}
		default:
			name, entry := listing.At(int(idx - 2))
			mode := uint32(fuse.S_IFREG)
			if entry.IsDir() {
				mode = fuse.S_IFDIR
			}
			childIno := fs.table.GetOrCreate(path.Join(p, name))
			d = dirent{e: fuse.DirEntry{Name: name, Mode: mode, Ino: childIno}, entry: entry}
		}
		if !emit(d) {
			// Buffer full; the kernel re-invokes with a later offset
			break
		}
	}
	return fuse.OK
}

// ReadDir streams directory entries starting at the requested offset.
func (fs *Filesystem) ReadDir(cancel <-chan struct{}, in *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	start := time.Now()
	status := fs.enumerate(in.NodeId, in.Offset, func(d dirent) bool {
		return out.AddDirEntry(d.e)
	})
	fs.record("readdir", start, status)
	return status
}

// ReadDirPlus streams entries with attributes fused in, saving the kernel
// a lookup round-trip per child.
func (fs *Filesystem) ReadDirPlus(cancel <-chan struct{}, in *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	start := time.Now()
	status := fs.enumerate(in.NodeId, in.Offset, func(d dirent) bool {
		entryOut := out.AddDirLookupEntry(d.e)
		if entryOut == nil {
			return false
		}
		// "." and ".." are part of the stream but not of the tree; Linux
		// ignores their EntryOut, so it stays zeroed.
		if d.virtual {
			return true
		}
		entryOut.NodeId = d.e.Ino
		fillEntryAttr(d.e.Ino, d.entry, &entryOut.Attr)
		entryOut.SetEntryTimeout(fs.opts.EntryTimeout)
		entryOut.SetAttrTimeout(fs.opts.AttrTimeout)
		return true
	})
	fs.record("readdirplus", start, status)
	return status
}

// OpenDir admits any known inode; directory reads keep no handle state.
func (fs *Filesystem) OpenDir(cancel <-chan struct{}, in *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	if _, ok := fs.table.Resolve(in.NodeId); !ok {
		return fuse.ENOENT
	}
	return fuse.OK
}

// Open is the reserved extension point for content access negotiation;
// file content is not served by this driver.
func (fs *Filesystem) Open(cancel <-chan struct{}, in *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	fs.record("open", time.Now(), fuse.ENOENT)
	return fuse.ENOENT
}

// Read is the reserved extension point for content reads.
func (fs *Filesystem) Read(cancel <-chan struct{}, in *fuse.ReadIn, buf []byte) (fuse.ReadResult, fuse.Status) {
	fs.record("read", time.Now(), fuse.ENOENT)
	return nil, fuse.ENOENT
}

// StatFs reports nominal filesystem statistics so statfs on the mount
// point succeeds; the backend has no capacity notion to surface.
func (fs *Filesystem) StatFs(cancel <-chan struct{}, in *fuse.InHeader, out *fuse.StatfsOut) fuse.Status {
	out.Bsize = blockSize
	out.NameLen = 255
	return fuse.OK
}

func (fs *Filesystem) record(op string, start time.Time, status fuse.Status) {
	fs.opts.Metrics.ObserveOp(fs.opts.MountPoint, op, statusLabel(status), time.Since(start))
}

// statusLabel folds a reply status into a low-cardinality metrics label.
func statusLabel(status fuse.Status) string {
	switch status {
	case fuse.OK:
		return "ok"
	case fuse.ENOENT:
		return "enoent"
	case fuse.EIO:
		return "eio"
	default:
		return "error"
	}
}
