package uploader

import "strings"

// MatchesSharedPath reports whether a virtual path falls under the
// configured share filter. A filter of "*" matches everything; any
// other filter must be a whole path-segment prefix of the path, so
// "Work" matches "Work/Notes" but not "Workspace/Notes".
func MatchesSharedPath(fullPath, filter string) bool {
	if filter == "*" {
		return true
	}
	if filter == "" {
		return false
	}
	if !strings.HasPrefix(fullPath, filter) {
		return false
	}
	// The next byte must end the path or start a deeper segment.
	return len(fullPath) == len(filter) || fullPath[len(filter)] == '/'
}
