package clients

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// StorageClient archives settlement reports on the local filesystem and
// serves them under PublicPrefix.
type StorageClient struct {
	BaseDir      string
	PublicPrefix string
	BaseURL      string
}

func NewLocalStorage(baseDir, publicPrefix, baseURL string) (*StorageClient, error) {
	if baseDir == "" {
		baseDir = "./reports"
	}
	if publicPrefix == "" {
		publicPrefix = "/files"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure storage dir %q: %w", baseDir, err)
	}
	return &StorageClient{
		BaseDir:      baseDir,
		PublicPrefix: "/" + strings.Trim(publicPrefix, "/"),
		BaseURL:      strings.TrimRight(baseURL, "/"),
	}, nil
}

// Save writes data under a collision-free name derived from fileName and
// returns that name. The write goes through a temp file and a rename.
func (s *StorageClient) Save(_ context.Context, fileName string, data []byte) (string, error) {
	fileName = filepath.Base(fileName)

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return "", fmt.Errorf("failed to generate file name: %w", err)
	}
	final := hex.EncodeToString(randBytes) + "_" + fileName

	path := filepath.Join(s.BaseDir, final)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to finalize file: %w", err)
	}
	return final, nil
}

// ArchiveReport stores a report and returns the URL it is served from.
func (s *StorageClient) ArchiveReport(ctx context.Context, name string, data []byte) (string, error) {
	saved, err := s.Save(ctx, name, data)
	if err != nil {
		return "", err
	}
	return s.GetURL(saved), nil
}

func (s *StorageClient) GetURL(fileName string) string {
	return s.BaseURL + s.PublicPrefix + "/" + fileName
}

// Path resolves a served file name inside BaseDir. Names that try to escape
// the directory are rejected.
func (s *StorageClient) Path(fileName string) (string, error) {
	clean := filepath.Base(fileName)
	if clean != fileName || clean == "." || clean == ".." {
		return "", fmt.Errorf("invalid file name %q", fileName)
	}
	return filepath.Join(s.BaseDir, clean), nil
}

// CleanupOlderThan removes archived reports past the retention window and
// returns how many were deleted.
func (s *StorageClient) CleanupOlderThan(d time.Duration) (int, error) {
	cutoff := time.Now().Add(-d)
	removed := 0
	err := filepath.WalkDir(s.BaseDir, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if de.IsDir() {
			return nil
		}
		info, err := de.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if os.Remove(path) == nil {
				removed++
			}
		}
		return nil
	})
	return removed, err
}
