package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateFilePath rejects empty paths and paths that climb out of their
// starting directory. Absolute paths are allowed.
func ValidateFilePath(path string) error {
	if path == "" {
		return fmt.Errorf("file path cannot be empty")
	}

	for _, segment := range strings.Split(filepath.ToSlash(path), "/") {
		if segment == ".." {
			return fmt.Errorf("path contains directory traversal: %s", path)
		}
	}

	return nil
}

// ValidateFilePathWithBase checks that path resolves inside baseDir. Relative
// paths are taken relative to baseDir.
func ValidateFilePathWithBase(path, baseDir string) error {
	if path == "" {
		return fmt.Errorf("file path cannot be empty")
	}

	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(baseDir, path)
	}

	rel, err := filepath.Rel(filepath.Clean(baseDir), filepath.Clean(full))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path escapes base directory: %s", path)
	}

	return nil
}
