package utils

import (
	"strings"
)

// NormalizeTestPath converts a test file path to its canonical form:
// forward-slash separators, no leading "./", no trailing slash. Windows and
// POSIX encodings of the same path normalize to the same string, which is
// the identity the deduplication engine keys on.
func NormalizeTestPath(path string) string {
	p := strings.ReplaceAll(path, `\`, "/")
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	p = strings.TrimSuffix(p, "/")
	return p
}

// IsSlashStyle reports whether a stored path already uses forward-slash
// separators only.
func IsSlashStyle(path string) bool {
	return !strings.Contains(path, `\`)
}

// SeparatorVariants returns the path in both separator encodings, starting
// with the input itself. Used when probing the filesystem for a path whose
// stored encoding may not match the host convention.
func SeparatorVariants(path string) []string {
	variants := []string{path}
	if fwd := strings.ReplaceAll(path, `\`, "/"); fwd != path {
		variants = append(variants, fwd)
	}
	if back := strings.ReplaceAll(path, "/", `\`); back != path {
		variants = append(variants, back)
	}
	return variants
}
