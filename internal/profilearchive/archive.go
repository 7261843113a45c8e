// Package profilearchive exports and restores a user's persistent browser
// profile directory as a tar.gz archive, for the admin-only profile backup
// endpoint. Adapted from the teacher's internal/context manager, which
// compressed/extracted a context's user-data directory to a generic
// content-addressed store; here the source of truth is always
// {profilesDir}/{urlencode(userId)}/, and the archive is a one-shot export
// rather than a tracked, updatable Context record.
package profilearchive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Archiver compresses and restores profile directories rooted under one
// profilesDir.
type Archiver struct {
	profilesDir string
}

// New creates an Archiver rooted at profilesDir.
func New(profilesDir string) *Archiver {
	return &Archiver{profilesDir: profilesDir}
}

func (a *Archiver) userDir(userID string) string {
	return filepath.Join(a.profilesDir, url.QueryEscape(userID))
}

// Export compresses userID's profile directory into a tar.gz archive at
// destPath.
func (a *Archiver) Export(userID, destPath string) error {
	source := a.userDir(userID)
	if _, err := os.Stat(source); err != nil {
		return fmt.Errorf("profile for %s does not exist: %w", userID, err)
	}
	if err := a.compressDirectory(source, destPath); err != nil {
		return fmt.Errorf("failed to compress profile for %s: %w", userID, err)
	}
	return nil
}

// Import extracts a previously exported archive back into userID's profile
// directory. The directory must not already exist, to avoid silently
// merging two profiles together.
func (a *Archiver) Import(userID, archivePath string) error {
	target := a.userDir(userID)
	if _, err := os.Stat(target); err == nil {
		return fmt.Errorf("profile for %s already exists, refusing to overwrite", userID)
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("failed to create profile directory: %w", err)
	}
	if err := a.extractDirectory(archivePath, target); err != nil {
		return fmt.Errorf("failed to extract profile for %s: %w", userID, err)
	}
	return nil
}

func (a *Archiver) compressDirectory(source, target string) error {
	file, err := os.Create(target)
	if err != nil {
		return err
	}
	defer file.Close()

	gzWriter := gzip.NewWriter(file)
	defer gzWriter.Close()

	tarWriter := tar.NewWriter(gzWriter)
	defer tarWriter.Close()

	return filepath.Walk(source, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		header, err := tar.FileInfoHeader(info, info.Name())
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		header.Name = relPath

		if err := tarWriter.WriteHeader(header); err != nil {
			return err
		}

		if !info.IsDir() {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			_, err = io.Copy(tarWriter, f)
			return err
		}

		return nil
	})
}

func (a *Archiver) extractDirectory(source, target string) error {
	file, err := os.Open(source)
	if err != nil {
		return err
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return err
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		targetPath := filepath.Join(target, header.Name)
		if err := validateWithinRoot(target, targetPath); err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
				return err
			}
			outFile, err := os.Create(targetPath)
			if err != nil {
				return err
			}
			if _, err := io.Copy(outFile, tarReader); err != nil {
				outFile.Close()
				return err
			}
			outFile.Close()
		}
	}

	return nil
}

// validateWithinRoot guards against a crafted archive using ".." entries to
// write outside the target directory (Zip Slip / tar Slip).
func validateWithinRoot(root, candidate string) error {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return err
	}
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return fmt.Errorf("archive entry escapes target directory: %s", candidate)
	}
	return nil
}
