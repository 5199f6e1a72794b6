package fusefs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/librfs/rfs-fuse/internal/rfs"
)

// fakeBackend serves canned listings keyed by directory path and counts
// calls, so tests can assert which requests reached the backend.
type fakeBackend struct {
	listings map[string]*rfs.Listing
	err      error
	calls    int
}

func (b *fakeBackend) ListDirectory(ctx context.Context, poolRoot, dir string) (*rfs.Listing, error) {
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	if l, ok := b.listings[dir]; ok {
		return l, nil
	}
	return nil, fmt.Errorf("no listing for %s", dir)
}

func (b *fakeBackend) String() string {
	return "fake"
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	fs := New(&fakeBackend{}, "/pool", Options{})

	assert.Equal(t, time.Second, fs.opts.EntryTimeout)
	assert.Equal(t, time.Second, fs.opts.AttrTimeout)
	assert.Equal(t, 30*time.Second, fs.opts.RequestTimeout)
	assert.Equal(t, FSName, fs.String())
}

// The root's attributes are fixed; even a dead backend must not prevent
// statting the mount point.
func TestGetAttr_Root(t *testing.T) {
	t.Parallel()

	fake := &fakeBackend{err: errors.New("backend down")}
	fs := New(fake, "/pool", Options{})

	var out fuse.AttrOut
	status := fs.GetAttr(nil, &fuse.GetAttrIn{InHeader: fuse.InHeader{NodeId: RootID}}, &out)

	require.Equal(t, fuse.OK, status)
	assert.Equal(t, RootID, out.Ino)
	assert.EqualValues(t, fuse.S_IFDIR|0755, out.Mode)
	assert.EqualValues(t, 1, out.AttrValid, "reply must carry the attr cache validity")
	assert.Zero(t, fake.calls, "the root must never consult the backend")
}

func TestLookup(t *testing.T) {
	t.Parallel()

	modified := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	fs := New(newRootBackend(modified), "/pool", Options{})

	var out fuse.EntryOut
	status := fs.Lookup(nil, &fuse.InHeader{NodeId: RootID}, "a.txt", &out)

	require.Equal(t, fuse.OK, status)
	assert.EqualValues(t, 2, out.NodeId, "first child must get the first free number")
	assert.EqualValues(t, 0, out.Generation)
	assert.EqualValues(t, 12, out.Size)
	assert.EqualValues(t, fuse.S_IFREG|0644, out.Mode)
	assert.EqualValues(t, modified.Unix(), out.Mtime)
	assert.EqualValues(t, 1, out.EntryValid)
	assert.EqualValues(t, 1, out.AttrValid)

	p, ok := fs.table.Resolve(out.NodeId)
	require.True(t, ok)
	assert.Equal(t, "/a.txt", p)
}

// Repeated lookups of one name must keep returning the same number.
func TestLookup_StableIdentity(t *testing.T) {
	t.Parallel()

	fs := New(newRootBackend(time.Now()), "/pool", Options{})

	var first, second fuse.EntryOut
	require.Equal(t, fuse.OK, fs.Lookup(nil, &fuse.InHeader{NodeId: RootID}, "docs", &first))
	require.Equal(t, fuse.OK, fs.Lookup(nil, &fuse.InHeader{NodeId: RootID}, "docs", &second))

	assert.Equal(t, first.NodeId, second.NodeId)
}

func TestLookup_Directory(t *testing.T) {
	t.Parallel()

	fs := New(newRootBackend(time.Now()), "/pool", Options{})

	var out fuse.EntryOut
	status := fs.Lookup(nil, &fuse.InHeader{NodeId: RootID}, "docs", &out)

	require.Equal(t, fuse.OK, status)
	assert.EqualValues(t, fuse.S_IFDIR|0755, out.Mode)
	assert.EqualValues(t, 2, out.Nlink)
}

func TestLookup_Miss(t *testing.T) {
	t.Parallel()

	fs := New(newRootBackend(time.Now()), "/pool", Options{})

	var out fuse.EntryOut
	status := fs.Lookup(nil, &fuse.InHeader{NodeId: RootID}, "nope.txt", &out)

	assert.Equal(t, fuse.ENOENT, status)
}

func TestLookup_UnknownParent(t *testing.T) {
	t.Parallel()

	fake := &fakeBackend{}
	fs := New(fake, "/pool", Options{})

	var out fuse.EntryOut
	status := fs.Lookup(nil, &fuse.InHeader{NodeId: 9999}, "a.txt", &out)

	assert.Equal(t, fuse.ENOENT, status)
	assert.Zero(t, fake.calls, "an unknown parent must fail before the backend is asked")
}

func TestLookup_BackendError(t *testing.T) {
	t.Parallel()

	fs := New(&fakeBackend{err: errors.New("backend down")}, "/pool", Options{})

	var out fuse.EntryOut
	status := fs.Lookup(nil, &fuse.InHeader{NodeId: RootID}, "a.txt", &out)

	assert.Equal(t, fuse.EIO, status)
}

func TestGetAttr_File(t *testing.T) {
	t.Parallel()

	fs := New(newRootBackend(time.Now()), "/pool", Options{})
	ino := lookupIno(t, fs, RootID, "a.txt")

	var out fuse.AttrOut
	status := fs.GetAttr(nil, &fuse.GetAttrIn{InHeader: fuse.InHeader{NodeId: ino}}, &out)

	require.Equal(t, fuse.OK, status)
	assert.Equal(t, ino, out.Ino)
	assert.EqualValues(t, 12, out.Size)
	assert.EqualValues(t, fuse.S_IFREG|0644, out.Mode)
}

func TestGetAttr_UnknownIno(t *testing.T) {
	t.Parallel()

	fs := New(newRootBackend(time.Now()), "/pool", Options{})

	var out fuse.AttrOut
	status := fs.GetAttr(nil, &fuse.GetAttrIn{InHeader: fuse.InHeader{NodeId: 9999}}, &out)

	assert.Equal(t, fuse.ENOENT, status)
}

// An entry that disappears from the backend keeps its number but stops
// resolving.
func TestGetAttr_Vanished(t *testing.T) {
	t.Parallel()

	fake := newRootBackend(time.Now())
	fs := New(fake, "/pool", Options{})
	ino := lookupIno(t, fs, RootID, "a.txt")

	fake.listings["/"] = rfs.NewListing()

	var out fuse.AttrOut
	status := fs.GetAttr(nil, &fuse.GetAttrIn{InHeader: fuse.InHeader{NodeId: ino}}, &out)

	assert.Equal(t, fuse.ENOENT, status)

	p, ok := fs.table.Resolve(ino)
	require.True(t, ok, "the number must survive the entry")
	assert.Equal(t, "/a.txt", p)
}

func TestGetAttr_BackendError(t *testing.T) {
	t.Parallel()

	fake := newRootBackend(time.Now())
	fs := New(fake, "/pool", Options{})
	ino := lookupIno(t, fs, RootID, "a.txt")

	fake.err = errors.New("backend down")

	var out fuse.AttrOut
	status := fs.GetAttr(nil, &fuse.GetAttrIn{InHeader: fuse.InHeader{NodeId: ino}}, &out)

	assert.Equal(t, fuse.EIO, status)
}

// The directory stream is always dot, dotdot, then children in listing
// order.
func TestEnumerate_Stream(t *testing.T) {
	t.Parallel()

	fs := New(newRootBackend(time.Now()), "/pool", Options{})

	got := collect(t, fs, RootID, 0)

	require.Len(t, got, 4)
	assert.Equal(t, ".", got[0].e.Name)
	assert.Equal(t, RootID, got[0].e.Ino)
	assert.True(t, got[0].virtual)
	assert.Equal(t, "..", got[1].e.Name)
	assert.Equal(t, RootID, got[1].e.Ino, "the root's dotdot points at itself")
	assert.True(t, got[1].virtual)
	assert.Equal(t, "docs", got[2].e.Name)
	assert.EqualValues(t, fuse.S_IFDIR, got[2].e.Mode)
	assert.False(t, got[2].virtual)
	assert.Equal(t, "a.txt", got[3].e.Name)
	assert.EqualValues(t, fuse.S_IFREG, got[3].e.Mode)
	assert.EqualValues(t, 12, got[3].entry.Size)
}

// Resuming at an offset replays the stream from that logical position.
func TestEnumerate_Offsets(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		offset    uint64
		wantNames []string
	}{
		{"from start", 0, []string{".", "..", "docs", "a.txt"}},
		{"skip dot", 1, []string{"..", "docs", "a.txt"}},
		{"children only", 2, []string{"docs", "a.txt"}},
		{"last child", 3, []string{"a.txt"}},
		{"at end", 4, nil},
		{"past end", 10, nil},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fs := New(newRootBackend(time.Now()), "/pool", Options{})

			got := collect(t, fs, RootID, tt.offset)

			var names []string
			for _, d := range got {
				names = append(names, d.e.Name)
			}
			assert.Equal(t, tt.wantNames, names)
		})
	}
}

// A full reply buffer stops the stream; the kernel re-asks from the next
// offset.
func TestEnumerate_EmitStop(t *testing.T) {
	t.Parallel()

	fs := New(newRootBackend(time.Now()), "/pool", Options{})

	var got []dirent
	status := fs.enumerate(RootID, 0, func(d dirent) bool {
		got = append(got, d)
		return len(got) < 2
	})

	require.Equal(t, fuse.OK, status)
	require.Len(t, got, 2)
	assert.Equal(t, "..", got[1].e.Name)
}

// Child numbers handed out during enumeration and during lookup must
// agree.
func TestEnumerate_MatchesLookup(t *testing.T) {
	t.Parallel()

	fs := New(newRootBackend(time.Now()), "/pool", Options{})

	got := collect(t, fs, RootID, 0)
	require.Len(t, got, 4)

	assert.Equal(t, got[2].e.Ino, lookupIno(t, fs, RootID, "docs"))
	assert.Equal(t, got[3].e.Ino, lookupIno(t, fs, RootID, "a.txt"))
}

func TestEnumerate_Subdirectory(t *testing.T) {
	t.Parallel()

	fake := newRootBackend(time.Now())
	sub := rfs.NewListing()
	sub.Add("readme.md", rfs.Entry{Kind: rfs.KindFile, Size: 5, ModifiedAt: time.Now()})
	fake.listings["/docs"] = sub

	fs := New(fake, "/pool", Options{})
	docsIno := lookupIno(t, fs, RootID, "docs")

	got := collect(t, fs, docsIno, 0)

	require.Len(t, got, 3)
	assert.Equal(t, docsIno, got[0].e.Ino, "dot must carry the directory's own number")
	assert.Equal(t, RootID, got[1].e.Ino, "dotdot must carry the parent's number")
	assert.Equal(t, "readme.md", got[2].e.Name)
}

func TestEnumerate_UnknownIno(t *testing.T) {
	t.Parallel()

	fake := &fakeBackend{}
	fs := New(fake, "/pool", Options{})

	status := fs.enumerate(9999, 0, func(dirent) bool { return true })

	assert.Equal(t, fuse.ENOENT, status)
	assert.Zero(t, fake.calls)
}

func TestEnumerate_BackendError(t *testing.T) {
	t.Parallel()

	fs := New(&fakeBackend{err: errors.New("backend down")}, "/pool", Options{})

	status := fs.enumerate(RootID, 0, func(dirent) bool { return true })

	assert.Equal(t, fuse.EIO, status)
}

func TestReadDir(t *testing.T) {
	t.Parallel()

	fs := New(newRootBackend(time.Now()), "/pool", Options{})

	out := fuse.NewDirEntryList(make([]byte, 4096), 0)
	status := fs.ReadDir(nil, &fuse.ReadIn{InHeader: fuse.InHeader{NodeId: RootID}}, out)

	assert.Equal(t, fuse.OK, status)
}

// A buffer too small for the whole stream is not an error; the reply just
// carries fewer entries.
func TestReadDir_SmallBuffer(t *testing.T) {
	t.Parallel()

	fs := New(newRootBackend(time.Now()), "/pool", Options{})

	out := fuse.NewDirEntryList(make([]byte, 48), 0)
	status := fs.ReadDir(nil, &fuse.ReadIn{InHeader: fuse.InHeader{NodeId: RootID}}, out)

	assert.Equal(t, fuse.OK, status)
}

func TestReadDir_UnknownIno(t *testing.T) {
	t.Parallel()

	fs := New(newRootBackend(time.Now()), "/pool", Options{})

	out := fuse.NewDirEntryList(make([]byte, 4096), 0)
	status := fs.ReadDir(nil, &fuse.ReadIn{InHeader: fuse.InHeader{NodeId: 9999}}, out)

	assert.Equal(t, fuse.ENOENT, status)
}

func TestReadDirPlus(t *testing.T) {
	t.Parallel()

	fs := New(newRootBackend(time.Now()), "/pool", Options{})

	out := fuse.NewDirEntryList(make([]byte, 8192), 0)
	status := fs.ReadDirPlus(nil, &fuse.ReadIn{InHeader: fuse.InHeader{NodeId: RootID}}, out)

	assert.Equal(t, fuse.OK, status)
}

func TestReadDirPlus_BackendError(t *testing.T) {
	t.Parallel()

	fs := New(&fakeBackend{err: errors.New("backend down")}, "/pool", Options{})

	out := fuse.NewDirEntryList(make([]byte, 8192), 0)
	status := fs.ReadDirPlus(nil, &fuse.ReadIn{InHeader: fuse.InHeader{NodeId: RootID}}, out)

	assert.Equal(t, fuse.EIO, status)
}

func TestOpenDir(t *testing.T) {
	t.Parallel()

	fake := &fakeBackend{}
	fs := New(fake, "/pool", Options{})

	var out fuse.OpenOut
	status := fs.OpenDir(nil, &fuse.OpenIn{InHeader: fuse.InHeader{NodeId: RootID}}, &out)
	assert.Equal(t, fuse.OK, status)

	status = fs.OpenDir(nil, &fuse.OpenIn{InHeader: fuse.InHeader{NodeId: 9999}}, &out)
	assert.Equal(t, fuse.ENOENT, status)
	assert.Zero(t, fake.calls, "opendir must not trigger a listing")
}

// Content access is not served; open and read answer ENOENT.
func TestOpenAndRead(t *testing.T) {
	t.Parallel()

	fs := New(newRootBackend(time.Now()), "/pool", Options{})
	ino := lookupIno(t, fs, RootID, "a.txt")

	var openOut fuse.OpenOut
	assert.Equal(t, fuse.ENOENT, fs.Open(nil, &fuse.OpenIn{InHeader: fuse.InHeader{NodeId: ino}}, &openOut))

	res, status := fs.Read(nil, &fuse.ReadIn{InHeader: fuse.InHeader{NodeId: ino}}, make([]byte, 16))
	assert.Equal(t, fuse.ENOENT, status)
	assert.Nil(t, res)
}

func TestStatFs(t *testing.T) {
	t.Parallel()

	fs := New(&fakeBackend{}, "/pool", Options{})

	var out fuse.StatfsOut
	status := fs.StatFs(nil, &fuse.InHeader{NodeId: RootID}, &out)

	require.Equal(t, fuse.OK, status)
	assert.EqualValues(t, blockSize, out.Bsize)
	assert.EqualValues(t, 255, out.NameLen)
}

func TestStatusLabel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ok", statusLabel(fuse.OK))
	assert.Equal(t, "enoent", statusLabel(fuse.ENOENT))
	assert.Equal(t, "eio", statusLabel(fuse.EIO))
	assert.Equal(t, "error", statusLabel(fuse.ENOSYS))
}

// newRootBackend returns a fake whose root holds the two canonical
// children: the docs directory first, then a.txt (12 bytes).
func newRootBackend(modified time.Time) *fakeBackend {
	root := rfs.NewListing()
	root.Add("docs", rfs.Entry{Kind: rfs.KindDirectory, ModifiedAt: modified})
	root.Add("a.txt", rfs.Entry{Kind: rfs.KindFile, Size: 12, ModifiedAt: modified})
	return &fakeBackend{listings: map[string]*rfs.Listing{"/": root}}
}

// lookupIno resolves name under parent and fails the test on any status
// but OK.
func lookupIno(t *testing.T, fs *Filesystem, parent uint64, name string) uint64 {
	t.Helper()
	var out fuse.EntryOut
	require.Equal(t, fuse.OK, fs.Lookup(nil, &fuse.InHeader{NodeId: parent}, name, &out))
	return out.NodeId
}

// collect drains the directory stream from offset into a slice.
func collect(t *testing.T, fs *Filesystem, ino, offset uint64) []dirent {
	t.Helper()
	var got []dirent
	status := fs.enumerate(ino, offset, func(d dirent) bool {
		got = append(got, d)
		return true
	})
	require.Equal(t, fuse.OK, status)
	return got
}
