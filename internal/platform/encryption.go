package platform

import (
	"path/filepath"
	"strings"
)

// RootsDetector treats every file below one of its roots as transport-encrypted.
type RootsDetector struct {
	roots []string
}

// NewRootsDetector returns a detector for the provided absolute roots.
func NewRootsDetector(roots []string) *RootsDetector {
	cleaned := make([]string, 0, len(roots))
	for _, root := range roots {
		cleaned = append(cleaned, filepath.Clean(root))
	}

	return &RootsDetector{roots: cleaned}
}

// IsEncrypted reports whether path lies inside an encrypted root.
func (d *RootsDetector) IsEncrypted(path string) bool {
	absolute, err := filepath.Abs(path)
	if err != nil {
		return false
	}

	for _, root := range d.roots {
		rel, relErr := filepath.Rel(root, absolute)
		if relErr != nil {
			continue
		}

		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}

	return false
}
