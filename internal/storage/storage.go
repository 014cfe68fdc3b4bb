package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Storage owns the on-disk layout for generated audio:
//
//	<dataDir>/jobs/<jobID>/<row path>.<format>          batch outputs
//	<dataDir>/workspaces/<workspaceID>/...              real-time outputs
//	<dataDir>/archives/<name>.zip                       downloadable archives
//
// Row outputs keep the row's relative name verbatim, one path segment per
// "/", with the profile's format appended as the extension. This layout is
// a compatibility contract; both execution paths build paths through the
// same helpers.
type Storage struct {
	jobsDir       string
	workspacesDir string
	archivesDir   string
	log           *logrus.Entry
}

const snapshotName = "request.json"

func New(dataDir string) (*Storage, error) {
	s := &Storage{
		jobsDir:       filepath.Join(dataDir, "jobs"),
		workspacesDir: filepath.Join(dataDir, "workspaces"),
		archivesDir:   filepath.Join(dataDir, "archives"),
		log:           logrus.WithField("component", "storage"),
	}

	for _, dir := range []string{s.jobsDir, s.workspacesDir, s.archivesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	return s, nil
}

// SafeJoin joins an untrusted relative name onto root, rejecting absolute
// paths and any traversal outside root. The returned path always has root
// as a prefix.
func SafeJoin(root, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty file name")
	}

	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("absolute path not allowed: %s", name)
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes root: %s", name)
	}
	if cleaned == "." {
		return "", fmt.Errorf("invalid file name: %s", name)
	}

	return filepath.Join(root, cleaned), nil
}

// JobRoot returns (and creates) the output directory for a batch job.
func (s *Storage) JobRoot(jobID string) (string, error) {
	root := filepath.Join(s.jobsDir, jobID)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("failed to create job directory: %w", err)
	}
	return root, nil
}

// WorkspaceRoot returns (and creates) the directory for a real-time
// workspace.
func (s *Storage) WorkspaceRoot(workspaceID string) (string, error) {
	root := filepath.Join(s.workspacesDir, workspaceID)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("failed to create workspace directory: %w", err)
	}
	return root, nil
}

// WorkspaceExists reports whether a workspace directory is present.
func (s *Storage) WorkspaceExists(workspaceID string) bool {
	info, err := os.Stat(filepath.Join(s.workspacesDir, workspaceID))
	return err == nil && info.IsDir()
}

// WriteRow writes one synthesized row under root at the row's relative
// name with the format appended as extension. Intermediate directories are
// created as needed. The write goes to a temp file first and is renamed
// into place, so a failed write never leaves a visible partial file.
// Returns the stored path relative to root, in slash form.
func (s *Storage) WriteRow(root, relativeName, format string, audio []byte) (string, error) {
	target, err := SafeJoin(root, relativeName+"."+format)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".row-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := tmp.Write(audio); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write audio: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to move audio into place: %w", err)
	}

	rel, err := filepath.Rel(root, target)
	if err != nil {
		return "", fmt.Errorf("failed to relativize stored path: %w", err)
	}
	return filepath.ToSlash(rel), nil
}

// WriteWorkspaceSnapshot persists the original request next to a
// workspace's outputs for diagnostics and for upload-time format lookup.
func (s *Storage) WriteWorkspaceSnapshot(workspaceID string, snapshot interface{}) error {
	root, err := s.WorkspaceRoot(workspaceID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal workspace snapshot: %w", err)
	}

	if err := os.WriteFile(filepath.Join(root, snapshotName), data, 0o644); err != nil {
		return fmt.Errorf("failed to write workspace snapshot: %w", err)
	}
	return nil
}

// ReadWorkspaceSnapshot loads the snapshot written at workspace creation.
func (s *Storage) ReadWorkspaceSnapshot(workspaceID string, snapshot interface{}) error {
	data, err := os.ReadFile(filepath.Join(s.workspacesDir, workspaceID, snapshotName))
	if err != nil {
		return fmt.Errorf("failed to read workspace snapshot: %w", err)
	}
	if err := json.Unmarshal(data, snapshot); err != nil {
		return fmt.Errorf("failed to parse workspace snapshot: %w", err)
	}
	return nil
}

// ArchivePath returns the destination path for an archive file name.
func (s *Storage) ArchivePath(name string) string {
	return filepath.Join(s.archivesDir, name)
}

// Sweep deletes generated output older than cutoff: per-job output trees,
// workspaces and archive files. A job tree is only removed when isActive
// reports its job id as no longer in flight, so a queued job's outputs
// survive until the job reaches a terminal state.
func (s *Storage) Sweep(cutoff time.Time, isActive func(jobID string) bool) {
	s.sweepDirs(s.jobsDir, cutoff, isActive)
	s.sweepDirs(s.workspacesDir, cutoff, nil)
	s.sweepFiles(s.archivesDir, cutoff)
}

func (s *Storage) sweepDirs(root string, cutoff time.Time, isActive func(string) bool) {
	entries, err := os.ReadDir(root)
	if err != nil {
		s.log.WithError(err).WithField("dir", root).Warn("sweep: cannot read directory")
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if isActive != nil && isActive(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(root, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			s.log.WithError(err).WithField("path", path).Warn("sweep: failed to remove")
		} else {
			s.log.WithField("path", path).Info("sweep: removed expired output")
		}
	}
}

func (s *Storage) sweepFiles(root string, cutoff time.Time) {
	entries, err := os.ReadDir(root)
	if err != nil {
		s.log.WithError(err).WithField("dir", root).Warn("sweep: cannot read directory")
		return
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(root, entry.Name())
		if err := os.Remove(path); err != nil {
			s.log.WithError(err).WithField("path", path).Warn("sweep: failed to remove")
		}
	}
}
