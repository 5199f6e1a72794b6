package fusefs

import (
	"fmt"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/librfs/rfs-fuse/internal/util"
)

// FSName is the fixed filesystem label every mount reports to the kernel.
// Operator tooling keys off it, so it does not vary per mount.
const FSName = "rfs"

// MountOptions holds high-level settings for mounting.
// No go-fuse types are exposed here.
type MountOptions struct {
	AllowOther  bool // permit access by users other than the mounting one, including root
	AutoUnmount bool // tear the mount down when the process exits
	Debug       bool // raw FUSE protocol debug logs
}

// Server wraps the underlying fuse.Server for one active kernel mount.
// Releasing it with Unmount is the only operation its owner needs.
type Server struct {
	server     *fuse.Server
	mountPoint string
}

// Mount establishes the kernel session for fs at mountPoint according to
// opts. The returned Server is not serving yet; call Serve.
func Mount(fs *Filesystem, mountPoint string, opts *MountOptions) (*Server, error) {
	if opts == nil {
		opts = &MountOptions{AllowOther: true, AutoUnmount: true}
	}

	// The fuse server reports protocol problems and, with Debug, the raw
	// request dump through this logger
	fuseLogLvl := util.WarnLevel
	if opts.Debug {
		fuseLogLvl = util.TraceLevel
	}

	fuseOpts := &fuse.MountOptions{
		FsName:     FSName,
		Name:       FSName,
		AllowOther: opts.AllowOther,
		Debug:      opts.Debug,
		Logger:     util.NewLogLogger("fuse", fuseLogLvl),
		// Every xattr request would be ENOSYS; telling the kernel up front
		// avoids the round-trips
		DisableXAttrs: true,
	}
	if opts.AutoUnmount {
		fuseOpts.Options = append(fuseOpts.Options, "auto_unmount")
	}

	srv, err := fuse.NewServer(fs, mountPoint, fuseOpts)
	if err != nil {
		return nil, fmt.Errorf("mount %s: %w", mountPoint, err)
	}
	return &Server{server: srv, mountPoint: mountPoint}, nil
}

// Serve starts the kernel request loop and waits until the mount is live.
func (s *Server) Serve() error {
	go s.server.Serve()
	return s.server.WaitMount()
}

// Unmount cleanly unmounts the filesystem.
func (s *Server) Unmount() error {
	return s.server.Unmount()
}

// MountPoint returns where this session is mounted.
func (s *Server) MountPoint() string {
	return s.mountPoint
}
