package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestSafeJoin(t *testing.T) {
	root := string(filepath.Separator) + filepath.Join("data", "jobs", "j1")

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"plain name", "welcome", false},
		{"nested name", "digits/1", false},
		{"dot segments collapse inside root", "a/./b", false},
		{"empty", "", true},
		{"dot", ".", true},
		{"absolute", "/etc/passwd", true},
		{"parent", "..", true},
		{"traversal prefix", "../outside", true},
		{"nested traversal escaping root", "a/../../outside", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SafeJoin(root, tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(got, root+string(filepath.Separator)),
				"joined path %q must stay under root", got)
		})
	}
}

func TestWriteRowNestedName(t *testing.T) {
	s := newStorage(t)
	root, err := s.JobRoot("job-1")
	require.NoError(t, err)

	rel, err := s.WriteRow(root, "digits/1", "mp3", []byte("audio-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "digits/1.mp3", rel)

	data, err := os.ReadFile(filepath.Join(root, "digits", "1.mp3"))
	require.NoError(t, err)
	assert.Equal(t, "audio-bytes", string(data))

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Join(root, "digits"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteRowOverwrite(t *testing.T) {
	s := newStorage(t)
	root, err := s.JobRoot("job-2")
	require.NoError(t, err)

	_, err = s.WriteRow(root, "welcome", "mp3", []byte("first"))
	require.NoError(t, err)
	rel, err := s.WriteRow(root, "welcome", "mp3", []byte("second"))
	require.NoError(t, err)
	assert.Equal(t, "welcome.mp3", rel)

	data, err := os.ReadFile(filepath.Join(root, "welcome.mp3"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestWriteRowRejectsTraversal(t *testing.T) {
	s := newStorage(t)
	root, err := s.JobRoot("job-3")
	require.NoError(t, err)

	_, err = s.WriteRow(root, "../escape", "mp3", []byte("x"))
	assert.Error(t, err)
}

func TestWorkspaceSnapshotRoundTrip(t *testing.T) {
	s := newStorage(t)

	type snapshot struct {
		Profile string `json:"profile"`
		Format  string `json:"format"`
	}

	require.NoError(t, s.WriteWorkspaceSnapshot("ws-1", snapshot{Profile: "3", Format: "wav"}))
	assert.True(t, s.WorkspaceExists("ws-1"))
	assert.False(t, s.WorkspaceExists("ws-missing"))

	var got snapshot
	require.NoError(t, s.ReadWorkspaceSnapshot("ws-1", &got))
	assert.Equal(t, snapshot{Profile: "3", Format: "wav"}, got)
}

func TestSweep(t *testing.T) {
	s := newStorage(t)

	oldJob, err := s.JobRoot("old-job")
	require.NoError(t, err)
	activeJob, err := s.JobRoot("active-job")
	require.NoError(t, err)
	ws, err := s.WorkspaceRoot("old-ws")
	require.NoError(t, err)

	archive := s.ArchivePath("old.zip")
	require.NoError(t, os.WriteFile(archive, []byte("zip"), 0o644))

	// Age everything past the cutoff.
	past := time.Now().Add(-48 * time.Hour)
	for _, p := range []string{oldJob, activeJob, ws, archive} {
		require.NoError(t, os.Chtimes(p, past, past))
	}

	freshJob, err := s.JobRoot("fresh-job")
	require.NoError(t, err)

	s.Sweep(time.Now().Add(-24*time.Hour), func(jobID string) bool {
		return jobID == "active-job"
	})

	assert.NoDirExists(t, oldJob)
	assert.NoDirExists(t, ws)
	assert.NoFileExists(t, archive)
	assert.DirExists(t, activeJob, "in-flight job output must survive the sweep")
	assert.DirExists(t, freshJob)
}
