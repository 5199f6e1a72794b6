package rfs

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/librfs/rfs-fuse/internal/util"
)

// S3Options configures the S3 listing driver.
type S3Options struct {
	Region    string // empty defers to the SDK's resolution chain
	Endpoint  string // custom endpoint for S3-compatible stores
	PathStyle bool   // path-style addressing (MinIO and friends)
}

// S3Backend lists pool directories straight from an S3-compatible object
// store, without going through the rfsd service. A pool root is "bucket"
// or "bucket/prefix"; child directories are the common prefixes under the
// "/" delimiter.
type S3Backend struct {
	client *s3.Client
	log    zerolog.Logger
}

// NewS3Backend builds a client from the ambient AWS configuration chain
// with the given overrides applied.
func NewS3Backend(ctx context.Context, opts S3Options) (*S3Backend, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		if opts.PathStyle {
			o.UsePathStyle = true
		}
	})

	return &S3Backend{client: client, log: util.GetLogger("rfs.s3")}, nil
}

func (b *S3Backend) String() string {
	return "s3"
}

// ListDirectory enumerates one directory level with ListObjectsV2 and the
// "/" delimiter. Common prefixes become directory entries (size 0, modified
// "now" since S3 has no directory mtime); objects become file entries.
func (b *S3Backend) ListDirectory(ctx context.Context, poolRoot, dir string) (*Listing, error) {
	bucket, base, err := splitPoolRoot(poolRoot)
	if err != nil {
		return nil, err
	}
	prefix := keyPrefix(base, dir)

	listing := NewListing()
	now := time.Now()

	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", dir, err)
		}

		for _, cp := range page.CommonPrefixes {
			name := childName(aws.ToString(cp.Prefix), prefix)
			if name == "" {
				continue
			}
			listing.Add(name, Entry{Kind: KindDirectory, ModifiedAt: now})
		}
		for _, obj := range page.Contents {
			name := childName(aws.ToString(obj.Key), prefix)
			if name == "" {
				// The directory marker object for the prefix itself
				continue
			}
			listing.Add(name, Entry{
				Kind:       KindFile,
				Size:       uint64(aws.ToInt64(obj.Size)),
				ModifiedAt: aws.ToTime(obj.LastModified),
			})
		}
	}

	b.log.Trace().
		Str("bucket", bucket).
		Str("prefix", prefix).
		Int("entries", listing.Len()).
		Msg("Listed directory")

	return listing, nil
}

// splitPoolRoot splits "bucket/sub/dir" into bucket and base key prefix.
func splitPoolRoot(poolRoot string) (bucket, base string, err error) {
	trimmed := strings.Trim(poolRoot, "/")
	if trimmed == "" {
		return "", "", fmt.Errorf("s3 pool root must name a bucket")
	}
	bucket, base, _ = strings.Cut(trimmed, "/")
	return bucket, base, nil
}

// keyPrefix maps a pool-relative directory path onto an S3 key prefix that
// ends with the delimiter (or is empty for the bucket root).
func keyPrefix(base, dir string) string {
	d := strings.Trim(path.Clean("/"+dir), "/")
	switch {
	case base == "" && d == "":
		return ""
	case base == "":
		return d + "/"
	case d == "":
		return base + "/"
	default:
		return base + "/" + d + "/"
	}
}

// childName strips the listing prefix and the directory delimiter off a
// returned key, leaving the bare child name.
func childName(key, prefix string) string {
	name := strings.TrimPrefix(key, prefix)
	name = strings.TrimSuffix(name, "/")
	if strings.Contains(name, "/") {
		// Deeper than one level; cannot happen with a delimiter but guard anyway
		return ""
	}
	return name
}
