// Package utils provides helpers for component tag lists and test file paths.
package utils

import (
	"strings"
)

// SplitTags splits a comma-joined component value into its tag list,
// trimming whitespace and dropping empty entries. Order is preserved;
// position 0 is the tag inheritance propagates.
func SplitTags(component string) []string {
	if component == "" {
		return []string{}
	}
	parts := strings.Split(component, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}

// FirstTag returns the first tag of a comma-joined component value, or ""
// when the value holds no tags.
func FirstTag(component string) string {
	tags := SplitTags(component)
	if len(tags) == 0 {
		return ""
	}
	return tags[0]
}

// JoinTags is the inverse of SplitTags.
func JoinTags(tags []string) string {
	return strings.Join(tags, ",")
}
