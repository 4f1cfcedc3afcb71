package store

import (
	"fmt"
	"regexp"
	"strconv"
)

// Model versions are strings of the form "v1", "v2", ... with no gaps and
// no reuse. All version string logic lives here.

var versionPattern = regexp.MustCompile(`^v(\d+)$`)

// InitialVersion is the version of the deterministically seeded first model.
func InitialVersion() string { return "v1" }

// ParseVersionNumber extracts N from "vN". ok is false for anything that is
// not a well-formed version string.
func ParseVersionNumber(version string) (int, bool) {
	m := versionPattern.FindStringSubmatch(version)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// NextVersion returns the successor of a well-formed version string.
func NextVersion(version string) (string, error) {
	n, ok := ParseVersionNumber(version)
	if !ok {
		return "", fmt.Errorf("invalid model version %q", version)
	}
	return fmt.Sprintf("v%d", n+1), nil
}

// IsValidVersion reports whether a string is a well-formed version.
func IsValidVersion(version string) bool {
	_, ok := ParseVersionNumber(version)
	return ok
}
