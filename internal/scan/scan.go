// Package scan discovers test functions in source trees. The dedup
// invariant says surviving test rows should match the functions actually
// present on disk; this package provides the disk side of that check.
package scan

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"regexp"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/stitchtrace/stitch/internal/debug"
)

// DefaultPatterns match the common pytest file layouts.
var DefaultPatterns = []string{"**/test_*.py", "**/*_test.py"}

// testDefRe matches top-level and class-nested test definitions,
// sync or async.
var testDefRe = regexp.MustCompile(`^\s*(?:async\s+)?def\s+(test_\w+)\s*\(`)

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	".venv":        true,
	"__pycache__":  true,
	"node_modules": true,
	"vendor":       true,
}

// Finding is one discovered test function. FilePath is slash-separated
// and relative to the scanned root.
type Finding struct {
	FunctionName string `json:"function_name"`
	FilePath     string `json:"file_path"`
}

// Scanner walks a tree and extracts test functions from files matching
// its glob patterns.
type Scanner struct {
	Patterns []string
}

// NewScanner returns a scanner over the given patterns, or
// DefaultPatterns when none are given.
func NewScanner(patterns ...string) *Scanner {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	return &Scanner{Patterns: patterns}
}

// Discover walks root and returns every test function in pattern-matched
// files, in walk order.
func (s *Scanner) Discover(ctx context.Context, root string) ([]Finding, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}

	fsys := os.DirFS(root)
	var findings []Finding

	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return fs.SkipDir
			}
			return nil
		}
		if !s.matches(path) {
			return nil
		}

		found, err := extractTestFunctions(fsys, path)
		if err != nil {
			return err
		}
		debug.Logf("scan: %s: %d test functions\n", path, len(found))
		findings = append(findings, found...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}
	return findings, nil
}

// CountTestFunctions returns the number of discoverable test functions
// under root.
func (s *Scanner) CountTestFunctions(ctx context.Context, root string) (int, error) {
	findings, err := s.Discover(ctx, root)
	if err != nil {
		return 0, err
	}
	return len(findings), nil
}

func (s *Scanner) matches(path string) bool {
	for _, pattern := range s.Patterns {
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return true
		}
	}
	return false
}

func extractTestFunctions(fsys fs.FS, path string) ([]Finding, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var findings []Finding
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if m := testDefRe.FindStringSubmatch(scanner.Text()); m != nil {
			findings = append(findings, Finding{FunctionName: m[1], FilePath: path})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return findings, nil
}
