package fusefs

import (
	"os"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/librfs/rfs-fuse/internal/rfs"
)

// Fixed modes reported for pool entries; the backend does not track
// permissions.
const (
	dirMode  = fuse.S_IFDIR | 0755
	fileMode = fuse.S_IFREG | 0644

	// blockSize is the unit Blocks is counted in.
	blockSize = 512

	// Nominal size the mount root reports; it has no backend entry of its
	// own to measure.
	rootSize   = 4096
	rootBlocks = 8
)

// Everything is reported as owned by the driver process.
var owner = fuse.Owner{
	Uid: uint32(os.Getuid()),
	Gid: uint32(os.Getgid()),
}

// fillEntryAttr translates a backend entry into the kernel attribute record
// for the given inode number. Modify/change times come from the entry;
// access time is "now" because the backend does not track it.
func fillEntryAttr(ino uint64, e rfs.Entry, out *fuse.Attr) {
	now := time.Now()

	out.Ino = ino
	out.Size = e.Size
	out.Blocks = (e.Size + blockSize - 1) / blockSize
	out.Blksize = blockSize
	out.SetTimes(&now, &e.ModifiedAt, &e.ModifiedAt)
	if e.IsDir() {
		out.Mode = dirMode
		out.Nlink = 2
	} else {
		out.Mode = fileMode
		out.Nlink = 1
	}
	out.Owner = owner
}

// fillRootAttr reports the fixed attributes of the mount root. The root has
// no parent listing to consult, so it never goes to the backend.
func fillRootAttr(out *fuse.Attr) {
	now := time.Now()

	out.Ino = RootID
	out.Size = rootSize
	out.Blocks = rootBlocks
	out.Blksize = blockSize
	out.SetTimes(&now, &now, &now)
	out.Mode = dirMode
	out.Nlink = 2
	out.Owner = owner
}
