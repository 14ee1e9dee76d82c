package catalog

import (
	"strings"

	"golang.org/x/mod/semver"
)

// CompareOSVersions compares two dotted OS versions ("17.4", "17.4.1", "10.0.19045.1").
// Only the first three numeric components count. If either side cannot be parsed the
// versions compare equal, so a malformed bound never blocks an install.
func CompareOSVersions(a, b string) int {
	va, vb := normalizeOSVersion(a), normalizeOSVersion(b)
	if va == "" || vb == "" {
		return 0
	}
	return semver.Compare(va, vb)
}

func normalizeOSVersion(v string) string {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if v == "" {
		return ""
	}

	parts := strings.Split(v, ".")
	if len(parts) > 3 {
		parts = parts[:3]
	}
	for i, p := range parts {
		end := 0
		for end < len(p) && p[end] >= '0' && p[end] <= '9' {
			end++
		}
		if end == 0 {
			return ""
		}
		parts[i] = strings.TrimLeft(p[:end], "0")
		if parts[i] == "" {
			parts[i] = "0"
		}
	}
	for len(parts) < 3 {
		parts = append(parts, "0")
	}

	normalized := "v" + strings.Join(parts, ".")
	if !semver.IsValid(normalized) {
		return ""
	}
	return normalized
}
