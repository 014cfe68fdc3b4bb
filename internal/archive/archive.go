package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/vocaldesk/vocaldesk/internal/storage"
)

// The archiver bundles generated audio into one zip per invocation.
// Internal entry names are always relative slash paths, so subdirectories
// embedded in row names survive extraction. A file that vanished between
// selection and archiving is skipped; failing to create or finalize the
// container itself is a hard error.

var log = logrus.WithField("component", "archive")

// Dir walks root recursively and archives every regular file into dest,
// with entry names relative to root.
func Dir(root, dest string) error {
	out, zw, err := createContainer(dest)
	if err != nil {
		return err
	}

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Entry disappeared mid-walk; skip it.
			log.WithField("path", path).WithError(err).Warn("skipping unreadable entry")
			return nil
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("failed to relativize %s: %w", path, err)
		}

		addFile(zw, path, filepath.ToSlash(rel))
		return nil
	})

	return closeContainer(out, zw, dest, walkErr)
}

// Files archives an explicit manifest of paths relative to root into dest.
// The manifest is untrusted caller input: entries are contained to root
// through the same join used for row writes, and entries that escape it or
// are missing on disk are skipped, not failed.
func Files(root string, relPaths []string, dest string) error {
	out, zw, err := createContainer(dest)
	if err != nil {
		return err
	}

	for _, rel := range relPaths {
		path, err := storage.SafeJoin(root, rel)
		if err != nil {
			log.WithField("entry", rel).WithError(err).Warn("skipping entry outside root")
			continue
		}

		name, err := filepath.Rel(root, path)
		if err != nil {
			log.WithField("entry", rel).WithError(err).Warn("skipping unrelativizable entry")
			continue
		}

		addFile(zw, path, filepath.ToSlash(name))
	}

	return closeContainer(out, zw, dest, nil)
}

func createContainer(dest string) (*os.File, *zip.Writer, error) {
	out, err := os.Create(dest)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create archive %s: %w", dest, err)
	}
	return out, zip.NewWriter(out), nil
}

// addFile copies one file into the archive. Per-file failures are logged
// and skipped so one bad entry cannot sink a whole batch's archive.
func addFile(zw *zip.Writer, path, name string) {
	in, err := os.Open(path)
	if err != nil {
		log.WithField("path", path).WithError(err).Warn("skipping missing file")
		return
	}
	defer in.Close()

	entry, err := zw.Create(name)
	if err != nil {
		log.WithField("entry", name).WithError(err).Warn("failed to create archive entry")
		return
	}

	if _, err := io.Copy(entry, in); err != nil {
		log.WithField("entry", name).WithError(err).Warn("failed to write archive entry")
	}
}

func closeContainer(out *os.File, zw *zip.Writer, dest string, walkErr error) error {
	if err := zw.Close(); err != nil {
		out.Close()
		os.Remove(dest)
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return fmt.Errorf("failed to close archive: %w", err)
	}
	if walkErr != nil {
		os.Remove(dest)
		return fmt.Errorf("failed to walk output tree: %w", walkErr)
	}
	return nil
}
