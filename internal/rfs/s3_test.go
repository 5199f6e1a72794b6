package rfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitPoolRoot(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		poolRoot   string
		wantBucket string
		wantBase   string
		wantErr    bool
	}{
		{"bucket only", "media", "media", "", false},
		{"bucket with prefix", "media/videos", "media", "videos", false},
		{"deep prefix", "media/videos/2024", "media", "videos/2024", false},
		{"leading and trailing slashes", "/media/videos/", "media", "videos", false},
		{"empty", "", "", "", true},
		{"slashes only", "///", "", "", true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			bucket, base, err := splitPoolRoot(tt.poolRoot)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBucket, bucket)
			assert.Equal(t, tt.wantBase, base)
		})
	}
}

func TestKeyPrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		base string
		dir  string
		want string
	}{
		{"bucket root", "", "/", ""},
		{"bucket root empty dir", "", "", ""},
		{"dir in bucket root", "", "/docs", "docs/"},
		{"nested dir in bucket root", "", "/docs/api", "docs/api/"},
		{"prefixed root", "videos", "/", "videos/"},
		{"dir under prefix", "videos", "/2024", "videos/2024/"},
		{"unclean dir", "videos", "2024/../2025", "videos/2025/"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, keyPrefix(tt.base, tt.dir))
		})
	}
}

func TestChildName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		key    string
		prefix string
		want   string
	}{
		{"object", "docs/a.txt", "docs/", "a.txt"},
		{"common prefix", "docs/api/", "docs/", "api"},
		{"bucket root object", "a.txt", "", "a.txt"},
		{"bucket root prefix", "docs/", "", "docs"},
		{"directory marker for the prefix itself", "docs/", "docs/", ""},
		{"deeper than one level", "docs/api/v1/spec.json", "docs/", ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, childName(tt.key, tt.prefix))
		})
	}
}
