package backup

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"

	"github.com/cavaliba/backupconf/internal/logging"
	"github.com/cavaliba/backupconf/internal/types"
)

// ArchiveExtension is appended to the archive base path.
const ArchiveExtension = ".tar.gz"

// Archive is a finished backup archive.
type Archive struct {
	Path        string
	Size        int64
	Compression types.CompressionType
}

// ArchiveError marks a failure that invalidates the whole run output.
type ArchiveError struct {
	Op  string
	Err error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("archive %s failed: %v", e.Op, e.Err)
}

func (e *ArchiveError) Unwrap() error {
	return e.Err
}

// Archiver packs a staging directory into a gzip-compressed tar.
type Archiver struct {
	logger           *logging.Logger
	compressionLevel int
	removeAll        func(string) error
}

// NewArchiver creates an archiver. Levels outside 1-9 select the gzip default.
func NewArchiver(logger *logging.Logger, level int) *Archiver {
	if level < gzip.BestSpeed || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	return &Archiver{
		logger:           logger,
		compressionLevel: level,
		removeAll:        os.RemoveAll,
	}
}

// Build writes <archiveBase>.tar.gz from the children of stagingRoot.
// The archive is written to a .tmp sibling, synced and renamed into place
// with mode 0600. On success the staging directory is removed; a failed
// removal only logs a warning.
func (a *Archiver) Build(ctx context.Context, stagingRoot, archiveBase string) (*Archive, error) {
	info, err := os.Stat(stagingRoot)
	if err != nil {
		return nil, &ArchiveError{Op: "stat staging", Err: err}
	}
	if !info.IsDir() {
		return nil, &ArchiveError{Op: "stat staging", Err: fmt.Errorf("%s is not a directory", stagingRoot)}
	}

	finalPath := archiveBase + ArchiveExtension
	tmpPath := finalPath + ".tmp"
	a.logger.Info("Creating archive %s", finalPath)
	a.logger.Debug("Archiving %s -> %s (gzip level %d)", stagingRoot, tmpPath, a.compressionLevel)

	if err := a.writeArchive(ctx, stagingRoot, tmpPath); err != nil {
		if rmErr := os.Remove(tmpPath); rmErr != nil && !os.IsNotExist(rmErr) {
			a.logger.Warning("Failed to remove partial archive %s: %v", tmpPath, rmErr)
		}
		return nil, err
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return nil, &ArchiveError{Op: "rename", Err: err}
	}
	if err := os.Chmod(finalPath, 0o600); err != nil {
		return nil, &ArchiveError{Op: "chmod", Err: err}
	}

	stat, err := os.Stat(finalPath)
	if err != nil {
		return nil, &ArchiveError{Op: "stat", Err: err}
	}
	archive := &Archive{Path: finalPath, Size: stat.Size(), Compression: types.CompressionGzip}
	a.logger.Info("Archive created: %s (%s)", finalPath, humanize.IBytes(uint64(archive.Size)))

	if err := a.removeAll(stagingRoot); err != nil {
		a.logger.Warning("Failed to remove staging directory %s: %v", stagingRoot, err)
	} else {
		a.logger.Debug("Removed staging directory %s", stagingRoot)
	}
	return archive, nil
}

func (a *Archiver) writeArchive(ctx context.Context, sourceDir, outputPath string) (err error) {
	done := logging.DebugStart(a.logger, "archive write", "%s", outputPath)
	defer func() { done(err) }()

	outFile, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return &ArchiveError{Op: "create", Err: err}
	}
	defer func() {
		if cerr := outFile.Close(); cerr != nil && err == nil {
			err = &ArchiveError{Op: "close", Err: cerr}
		}
	}()

	gzWriter, err := gzip.NewWriterLevel(outFile, a.compressionLevel)
	if err != nil {
		return &ArchiveError{Op: "gzip", Err: err}
	}

	if err := a.writeTar(ctx, sourceDir, gzWriter); err != nil {
		gzWriter.Close()
		return &ArchiveError{Op: "write", Err: err}
	}
	if err := gzWriter.Close(); err != nil {
		return &ArchiveError{Op: "gzip", Err: err}
	}
	if err := outFile.Sync(); err != nil {
		return &ArchiveError{Op: "sync", Err: err}
	}
	return nil
}

// writeTar writes the directory contents to w as a tar stream.
func (a *Archiver) writeTar(ctx context.Context, sourceDir string, w io.Writer) error {
	tarWriter := tar.NewWriter(w)
	err := a.addToTar(ctx, tarWriter, sourceDir)
	if closeErr := tarWriter.Close(); err == nil {
		err = closeErr
	}
	return err
}

// addToTar adds every entry below sourceDir. The root itself is skipped,
// names are ./-prefixed and symlinks are stored as links.
func (a *Archiver) addToTar(ctx context.Context, tarWriter *tar.Writer, sourceDir string) error {
	return filepath.Walk(sourceDir, func(path string, info os.FileInfo, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			return fmt.Errorf("access %s: %w", path, err)
		}

		relPath, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}

		linkInfo, err := os.Lstat(path)
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}

		var linkTarget string
		if linkInfo.Mode()&os.ModeSymlink != 0 {
			if linkTarget, err = os.Readlink(path); err != nil {
				return fmt.Errorf("read symlink %s: %w", path, err)
			}
		}

		header, err := tar.FileInfoHeader(linkInfo, linkTarget)
		if err != nil {
			return fmt.Errorf("header for %s: %w", path, err)
		}

		// Keep ownership and timestamps of the staged copy.
		if stat, ok := linkInfo.Sys().(*syscall.Stat_t); ok {
			header.Uid = int(stat.Uid)
			header.Gid = int(stat.Gid)
			header.AccessTime = time.Unix(stat.Atim.Sec, stat.Atim.Nsec)
			header.ChangeTime = time.Unix(stat.Ctim.Sec, stat.Ctim.Nsec)
		}
		header.Format = tar.FormatPAX

		name := strings.ReplaceAll(relPath, string(filepath.Separator), "/")
		header.Name = "./" + name
		if linkInfo.IsDir() {
			header.Name += "/"
		}

		if err := tarWriter.WriteHeader(header); err != nil {
			return fmt.Errorf("write tar header: %w", err)
		}

		if linkInfo.Mode().IsRegular() {
			if err := copyIntoTar(tarWriter, path); err != nil {
				return err
			}
			a.logger.Debug("Added file to archive: %s", name)
		}
		return nil
	})
}

func copyIntoTar(tarWriter *tar.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	if _, err := io.Copy(tarWriter, file); err != nil {
		return fmt.Errorf("write %s to archive: %w", path, err)
	}
	return nil
}

// ListArchive returns the entry names of a gzip-compressed tar.
func ListArchive(archivePath string) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gzReader, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("gzip verification failed: %w", err)
	}
	defer gzReader.Close()

	var names []string
	tarReader := tar.NewReader(gzReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("tar verification failed: %w", err)
		}
		if _, err := io.Copy(io.Discard, tarReader); err != nil {
			return nil, fmt.Errorf("tar verification failed: %w", err)
		}
		names = append(names, header.Name)
	}
	return names, nil
}

// VerifyArchive reads the archive back and reports its entry count.
func (a *Archiver) VerifyArchive(archive *Archive) (int, error) {
	names, err := ListArchive(archive.Path)
	if err != nil {
		return 0, &ArchiveError{Op: "verify", Err: err}
	}
	a.logger.Debug("Archive verification passed: %d entries", len(names))
	return len(names), nil
}
