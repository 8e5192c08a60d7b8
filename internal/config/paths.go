package config

import (
	"os"
	"path/filepath"
	"strings"
)

// StoreName keys the persisted session file, mirroring the web client's
// session-storage key.
const StoreName = "tokenStore"

func SessionPath(override string) (string, error) {
	if trimmed := strings.TrimSpace(override); trimmed != "" {
		return filepath.Abs(trimmed)
	}
	root, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "marketplace", StoreName+".json"), nil
}
