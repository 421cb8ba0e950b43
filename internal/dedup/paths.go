package dedup

import (
	"os"
	"path/filepath"

	"github.com/stitchtrace/stitch/internal/utils"
)

// PathChecker answers whether a recorded test file path still resolves
// to a real file. Injectable so orphan detection is testable without a
// filesystem layout.
type PathChecker interface {
	Exists(path string) bool
}

// DefaultRoots are the candidate base directories tried when a recorded
// path does not resolve as-is.
var DefaultRoots = []string{".", ".."}

type osPathChecker struct {
	roots []string
}

// NewOSPathChecker checks paths against the real filesystem, trying the
// path as-is and joined under each root, in both separator encodings.
// With no roots it uses DefaultRoots.
func NewOSPathChecker(roots ...string) PathChecker {
	if len(roots) == 0 {
		roots = DefaultRoots
	}
	return &osPathChecker{roots: roots}
}

func (c *osPathChecker) Exists(path string) bool {
	if path == "" {
		return false
	}
	for _, variant := range utils.SeparatorVariants(path) {
		if fileExists(variant) {
			return true
		}
		for _, root := range c.roots {
			if fileExists(filepath.Join(root, variant)) {
				return true
			}
		}
	}
	return false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
