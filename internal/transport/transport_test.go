package transport

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepositoryURL(t *testing.T) {
	tests := []struct {
		name string
		base string
		path string
		want string
	}{
		{"plain", "http://repo.example/releases", "com/acme/lib/1.0/lib-1.0.jar", "http://repo.example/releases/com/acme/lib/1.0/lib-1.0.jar"},
		{"trailing slash on base", "http://repo.example/releases/", "a/b.jar", "http://repo.example/releases/a/b.jar"},
		{"leading slash on path", "http://repo.example/releases", "/a/b.jar", "http://repo.example/releases/a/b.jar"},
		{"both slashes", "http://repo.example/releases/", "/a/b.jar", "http://repo.example/releases/a/b.jar"},
		{"spaces", "http://repo.example", "my lib/a b.jar", "http://repo.example/my+lib/a+b.jar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Repository{BaseURL: tt.base}.URL(tt.path))
		})
	}
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	src, err := NewFileSource(path)
	require.NoError(t, err)
	assert.Equal(t, int64(5), src.Length())

	for i := 0; i < 2; i++ {
		rc, err := src.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		assert.Equal(t, "hello", string(data))
	}
}

func TestFileSourceRejectsDirectory(t *testing.T) {
	_, err := NewFileSource(t.TempDir())
	assert.Error(t, err)
}

func TestBytesSource(t *testing.T) {
	src := BytesSource("abc")
	assert.Equal(t, int64(3), src.Length())

	rc, err := src.Open()
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
}
