package daemon

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/librfs/rfs-fuse/internal/config"
	"github.com/librfs/rfs-fuse/internal/fusefs"
	"github.com/librfs/rfs-fuse/internal/metrics"
	"github.com/librfs/rfs-fuse/internal/rfs"
	"github.com/librfs/rfs-fuse/internal/util"
)

// UnknownPoolError reports a mount definition referencing a pool that is
// not declared in the registry.
type UnknownPoolError struct {
	MountPoint string
	PoolID     uint64
}

func (e *UnknownPoolError) Error() string {
	return fmt.Sprintf("mount point '%s' references non-existent pool_id '%d'", e.MountPoint, e.PoolID)
}

// binding is one mount definition joined with its resolved pool.
type binding struct {
	mount config.Mount
	pool  config.Pool
}

// Daemon owns every kernel session for the process lifetime and releases
// them together at shutdown.
type Daemon struct {
	cfg      *config.Config
	metrics  *metrics.Collector
	sessions *xsync.MapOf[string, *fusefs.Server]
	log      zerolog.Logger
}

// New builds a daemon from loaded process configuration. collector may be
// nil when metrics are disabled.
func New(cfg *config.Config, collector *metrics.Collector) *Daemon {
	return &Daemon{
		cfg:      cfg,
		metrics:  collector,
		sessions: xsync.NewMapOf[string, *fusefs.Server](),
		log:      util.GetLogger("daemon"),
	}
}

// Run loads the pool registry at poolPath, establishes every configured
// mount, and blocks until ctx is cancelled by a shutdown signal. A nil
// return means a clean run, including the "nothing to mount" case; any
// error is fatal for the process. All established sessions are released
// before Run returns, on every path.
func (d *Daemon) Run(ctx context.Context, poolPath string) error {
	pc, err := config.LoadPools(poolPath)
	if err != nil {
		return err
	}
	if len(pc.Mounts) == 0 {
		d.log.Warn().Str("config", poolPath).Msg("No mounts configured, nothing to do")
		return nil
	}

	pools := pc.PoolByID()
	bindings := make([]binding, 0, len(pc.Mounts))
	for _, m := range pc.Mounts {
		pool, ok := pools[m.PoolID]
		if !ok {
			return &UnknownPoolError{MountPoint: m.MountPoint, PoolID: m.PoolID}
		}
		bindings = append(bindings, binding{mount: m, pool: pool})
	}

	drivers, err := d.buildDrivers(ctx, bindings)
	if err != nil {
		return err
	}

	if d.cfg.Metrics.Listen != "" {
		go func() {
			if err := d.metrics.Serve(ctx, d.cfg.Metrics.Listen, d.cfg.Metrics.Path); err != nil {
				d.log.Error().Err(err).Msg("Metrics exporter failed")
			}
		}()
	}

	// Sessions are released no matter how Run exits
	defer d.releaseAll()

	g, _ := errgroup.WithContext(ctx)
	for _, b := range bindings {
		b := b
		g.Go(func() error {
			return d.establish(b, drivers)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	d.log.Info().Int("mounts", len(bindings)).Msg("All mounts established")
	<-ctx.Done()
	d.log.Info().Msg("Shutdown signal received")
	return nil
}

// buildDrivers constructs one backend per driver kind used by the
// bindings. Drivers are shared across mounts; the cache decorator keys by
// pool root, so sharing stays correct.
func (d *Daemon) buildDrivers(ctx context.Context, bindings []binding) (map[string]rfs.Backend, error) {
	drivers := make(map[string]rfs.Backend)
	for _, b := range bindings {
		kind := b.pool.Backend
		if kind == "" {
			kind = config.BackendHTTP
		}
		if _, ok := drivers[kind]; ok {
			continue
		}

		var (
			backend rfs.Backend
			err     error
		)
		switch kind {
		case config.BackendHTTP:
			backend = rfs.NewHTTPBackend(d.cfg.Backend.Endpoint, d.cfg.Backend.Timeout)
		case config.BackendS3:
			backend, err = rfs.NewS3Backend(ctx, rfs.S3Options{
				Region:    d.cfg.Backend.S3.Region,
				Endpoint:  d.cfg.Backend.S3.Endpoint,
				PathStyle: d.cfg.Backend.S3.PathStyle,
			})
		}
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", kind, err)
		}

		if d.cfg.Cache.Enabled {
			backend, err = rfs.NewCachedBackend(backend, d.cfg.Cache.MaxEntries, d.cfg.Cache.TTL)
			if err != nil {
				return nil, err
			}
		}
		drivers[kind] = backend
	}
	return drivers, nil
}

// establish constructs the handler for one binding and brings its kernel
// session up. The session is registered as soon as it is live so teardown
// covers it even when a sibling mount fails.
func (d *Daemon) establish(b binding, drivers map[string]rfs.Backend) error {
	kind := b.pool.Backend
	if kind == "" {
		kind = config.BackendHTTP
	}
	backend := drivers[kind]

	mountID := uuid.NewString()
	fs := fusefs.New(backend, b.pool.Path, fusefs.Options{
		EntryTimeout:   d.cfg.Fuse.EntryTimeout,
		AttrTimeout:    d.cfg.Fuse.AttrTimeout,
		RequestTimeout: d.cfg.Fuse.RequestTimeout,
		MountID:        mountID,
		MountPoint:     b.mount.MountPoint,
		Metrics:        d.metrics,
	})

	srv, err := fusefs.Mount(fs, b.mount.MountPoint, &fusefs.MountOptions{
		AllowOther:  d.cfg.Fuse.AllowOther,
		AutoUnmount: d.cfg.Fuse.AutoUnmount,
		Debug:       d.cfg.Fuse.Debug,
	})
	if err != nil {
		return err
	}
	if err := srv.Serve(); err != nil {
		return fmt.Errorf("mount %s: %w", b.mount.MountPoint, err)
	}

	d.sessions.Store(b.mount.MountPoint, srv)
	d.metrics.MountUp()
	d.log.Info().
		Str("mount_id", mountID).
		Str("mount_point", b.mount.MountPoint).
		Uint64("pool_id", b.pool.ID).
		Str("backend", backend.String()).
		Msg("Mounted pool")
	return nil
}

// releaseAll unmounts every registered session. A session that fails to
// unmount is logged and the rest are still released.
func (d *Daemon) releaseAll() {
	d.sessions.Range(func(mountPoint string, srv *fusefs.Server) bool {
		if err := srv.Unmount(); err != nil {
			d.log.Error().Err(err).Str("mount_point", mountPoint).Msg("Failed to unmount")
		} else {
			d.log.Info().Str("mount_point", mountPoint).Msg("Unmounted")
		}
		d.metrics.MountDown()
		d.sessions.Delete(mountPoint)
		return true
	})
}
