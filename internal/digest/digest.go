// Package digest computes the content digests used to deduplicate sources
// and resources.
package digest

import (
	"crypto/md5" //nolint:gosec // content addressing, not security
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Bytes returns the hex md5 digest of b.
func Bytes(b []byte) string {
	sum := md5.Sum(b) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// Reader returns the hex md5 digest of everything read from r.
func Reader(r io.Reader) (string, error) {
	h := md5.New() //nolint:gosec
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// File returns the hex md5 digest of the file at path.
func File(path string) (string, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the run's own event stream
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	sum, err := Reader(f)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return sum, nil
}
