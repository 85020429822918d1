// Package workspace holds the helpers that touch a session's working
// directory on disk.
package workspace

import (
	"path"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
)

var (
	msysDrive  = regexp.MustCompile(`^/([a-zA-Z])(/|$)`)
	windowsAbs = regexp.MustCompile(`^[a-zA-Z]:/`)
)

// ResolveFilePath turns p into an absolute slash-separated path rooted at
// base. Backslashes are accepted as separators. On windows, MSYS style paths
// such as /d/projects/x are mapped to D:/projects/x.
func ResolveFilePath(p, base, goos string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	base = strings.ReplaceAll(base, `\`, "/")

	if goos == "windows" {
		if m := msysDrive.FindStringSubmatch(p); m != nil {
			return path.Clean(strings.ToUpper(m[1]) + ":/" + p[len(m[0]):])
		}
		if windowsAbs.MatchString(p) {
			return path.Clean(p)
		}
	}
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Join(base, p)
}

// Resolve is ResolveFilePath for the running platform, returned with native
// separators.
func Resolve(p, base string) string {
	return filepath.FromSlash(ResolveFilePath(p, base, runtime.GOOS))
}
