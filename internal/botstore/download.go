package botstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// SaveModel downloads modelID into dir and returns the final path. The
// artifact is written to a temporary file first and only renamed into place
// once the transfer completed, so a failed download never leaves a partial
// archive behind.
func (c *Client) SaveModel(ctx context.Context, modelID, dir string) (string, int64, error) {
	if err := validateModelID(modelID); err != nil {
		return "", 0, err
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("creating download directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".rasac-download-*")
	if err != nil {
		return "", 0, fmt.Errorf("creating temp file: %w", err)
	}
	n, err := c.DownloadModel(ctx, modelID, tmp)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("closing temp file: %w", cerr)
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return "", 0, err
	}

	path := filepath.Join(dir, modelID)
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("moving artifact into place: %w", err)
	}
	return path, n, nil
}
