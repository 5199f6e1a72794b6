package rfs

import "context"

// Backend fetches directory listings from a storage pool. Given a pool
// root and a directory path inside it, implementations return the ordered
// child listing or fail. Listing is the only operation the driver consumes;
// file content access is a reserved extension point of the kernel handler,
// not of the backend.
type Backend interface {
	// ListDirectory returns the children of dir under poolRoot in the
	// backend's natural order. dir is a clean absolute path within the
	// pool ("/" for the pool root itself).
	ListDirectory(ctx context.Context, poolRoot, dir string) (*Listing, error)

	// String names the driver for logs and metrics labels.
	String() string
}
