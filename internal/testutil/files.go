package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Gracecr/sacred/internal/digest"
)

// WriteFile creates dir/name with content and returns its path and md5
// digest. Parent directories are created as needed.
func WriteFile(t testing.TB, dir, name, content string) (path, sum string) {
	t.Helper()
	path = filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("failed to create directory for %s: %v", name, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path, digest.Bytes([]byte(content))
}
