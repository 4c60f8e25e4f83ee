package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cavaliba/backupconf/internal/logging"
)

// ChecksumExtension is appended to the archive path for its sidecar.
const ChecksumExtension = ".sha256"

// GenerateChecksum calculates SHA256 checksum of a file
func GenerateChecksum(ctx context.Context, logger *logging.Logger, filePath string) (string, error) {
	logger.Debug("Generating SHA256 checksum for: %s", filePath)

	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	hash := sha256.New()
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		n, err := file.Read(buf)
		if n > 0 {
			hash.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read file: %w", err)
		}
	}

	checksum := hex.EncodeToString(hash.Sum(nil))
	logger.Debug("Generated checksum: %s", checksum)
	return checksum, nil
}

// WriteChecksumFile writes <archive>.sha256 in sha256sum(1) format so the
// archive can be checked with `sha256sum -c`.
func WriteChecksumFile(ctx context.Context, logger *logging.Logger, archivePath string) (string, error) {
	checksum, err := GenerateChecksum(ctx, logger, archivePath)
	if err != nil {
		return "", err
	}
	line := fmt.Sprintf("%s  %s\n", checksum, filepath.Base(archivePath))
	if err := os.WriteFile(archivePath+ChecksumExtension, []byte(line), 0o600); err != nil {
		return "", fmt.Errorf("failed to write checksum file: %w", err)
	}
	return checksum, nil
}
