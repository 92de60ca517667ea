// Package validate provides input validation for package names, versions
// and argv fragments crossing the adapter boundary.
package validate

import "strings"

// PackageNameMaxLen bounds names accepted from callers; well beyond any
// real manager's own limit, it exists to reject obviously-oversized input
// before it reaches a subprocess argv.
const PackageNameMaxLen = 256

// VersionMaxLen bounds version strings for the same reason.
const VersionMaxLen = 128

// PackageName reports whether name is acceptable as a package name argument:
// non-empty, no leading or trailing whitespace, does not begin with '-'
// (which argv parsers would treat as a flag), and within PackageNameMaxLen.
func PackageName(name string) bool {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || trimmed != name {
		return false
	}
	if len(name) > PackageNameMaxLen {
		return false
	}
	if strings.HasPrefix(name, "-") {
		return false
	}
	return true
}

// Version reports whether v is an acceptable version argument. An empty
// string is accepted (means "unspecified"); a non-empty value must not
// begin with '-' and must stay within VersionMaxLen.
func Version(v string) bool {
	if v == "" {
		return true
	}
	if len(v) > VersionMaxLen {
		return false
	}
	return !strings.HasPrefix(v, "-")
}

// ManagerID reports whether id looks like a registry manager id: lowercase
// alphanumeric and underscore, 1-64 chars.
func ManagerID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			continue
		}
		return false
	}
	return true
}

