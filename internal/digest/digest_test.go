package digest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytes(t *testing.T) {
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", Bytes(nil))
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", Bytes([]byte("hello")))
}

func TestReader(t *testing.T) {
	sum, err := Reader(strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, Bytes([]byte("hello")), sum)
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

	sum, err := File(path)
	require.NoError(t, err)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", sum)

	_, err = File(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
