package archive

import (
	"archive/zip"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func entryNames(t *testing.T, dest string) []string {
	t.Helper()
	reader, err := zip.OpenReader(dest)
	require.NoError(t, err)
	defer reader.Close()

	var names []string
	for _, f := range reader.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

// The archive must contain exactly the files under the root at their
// relative paths, subdirectories preserved, and nothing else.
func TestDirCompleteness(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "digits", "1.mp3"), "one")
	writeFile(t, filepath.Join(root, "digits", "2.mp3"), "two")
	writeFile(t, filepath.Join(root, "welcome.mp3"), "welcome")

	dest := filepath.Join(t.TempDir(), "job.zip")
	require.NoError(t, Dir(root, dest))

	assert.Equal(t, []string{"digits/1.mp3", "digits/2.mp3", "welcome.mp3"}, entryNames(t, dest))
}

func TestDirEmptyRoot(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "empty.zip")
	require.NoError(t, Dir(t.TempDir(), dest))

	reader, err := zip.OpenReader(dest)
	require.NoError(t, err)
	defer reader.Close()
	assert.Empty(t, reader.File)
}

func TestFilesSkipsMissing(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.mp3"), "alpha")
	writeFile(t, filepath.Join(root, "sub", "b.mp3"), "beta")

	dest := filepath.Join(t.TempDir(), "ws.zip")
	require.NoError(t, Files(root, []string{"a.mp3", "sub/b.mp3", "gone.mp3"}, dest))

	assert.Equal(t, []string{"a.mp3", "sub/b.mp3"}, entryNames(t, dest))
}

func TestFilesContentRoundTrip(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "voice.mp3"), "payload")

	dest := filepath.Join(t.TempDir(), "one.zip")
	require.NoError(t, Files(root, []string{"voice.mp3"}, dest))

	reader, err := zip.OpenReader(dest)
	require.NoError(t, err)
	defer reader.Close()

	require.Len(t, reader.File, 1)
	rc, err := reader.File[0].Open()
	require.NoError(t, err)
	defer rc.Close()

	buf := make([]byte, 16)
	n, _ := rc.Read(buf)
	assert.Equal(t, "payload", string(buf[:n]))
}

// Manifest entries that escape the root must never reach the archive,
// even when the target file exists and is readable.
func TestFilesSkipsEntriesOutsideRoot(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "ws")
	writeFile(t, filepath.Join(root, "a.mp3"), "alpha")
	writeFile(t, filepath.Join(parent, "secret.txt"), "do not leak")

	dest := filepath.Join(t.TempDir(), "ws.zip")
	require.NoError(t, Files(root, []string{"../secret.txt", "/etc/hostname", "a.mp3"}, dest))

	assert.Equal(t, []string{"a.mp3"}, entryNames(t, dest))
}

// Failing to create the container is a hard failure of the operation.
func TestUncreatableContainer(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.mp3"), "alpha")

	dest := filepath.Join(t.TempDir(), "no", "such", "dir", "out.zip")
	assert.Error(t, Dir(root, dest))
	assert.Error(t, Files(root, []string{"a.mp3"}, dest))
}
