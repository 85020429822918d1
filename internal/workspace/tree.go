package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
)

// DefaultIgnore lists entry names skipped by ReadDirectoryTree. Names
// starting with a dot are always skipped.
var DefaultIgnore = []string{
	"node_modules", "__pycache__", "Thumbs.db",
	"dist", "build", "out", "target",
	"coverage", "venv", "env",
}

// Entry is one node of a directory listing.
type Entry struct {
	Name        string  `json:"name"`
	Path        string  `json:"path"`
	IsDirectory bool    `json:"isDirectory"`
	Children    []Entry `json:"children,omitempty"`
}

// TreeOptions controls ReadDirectoryTree.
type TreeOptions struct {
	// Depth is the number of directory levels to descend. Values below 1
	// list only the immediate children.
	Depth int
	// Ignore holds glob patterns matched against entry names. Nil means
	// DefaultIgnore.
	Ignore []string
}

func (o TreeOptions) ignored(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	patterns := o.Ignore
	if patterns == nil {
		patterns = DefaultIgnore
	}
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

// ReadDirectoryTree lists root, directories first then files, each group
// sorted by name.
func ReadDirectoryTree(fs afero.Fs, root string, opts TreeOptions) ([]Entry, error) {
	info, err := fs.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}
	if opts.Depth < 1 {
		opts.Depth = 1
	}
	return readDir(fs, root, opts, opts.Depth)
}

func readDir(fs afero.Fs, dir string, opts TreeOptions, depth int) ([]Entry, error) {
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(infos))
	for _, fi := range infos {
		if opts.ignored(fi.Name()) {
			continue
		}
		e := Entry{
			Name:        fi.Name(),
			Path:        filepath.Join(dir, fi.Name()),
			IsDirectory: fi.IsDir(),
		}
		if e.IsDirectory && depth > 1 {
			children, err := readDir(fs, e.Path, opts, depth-1)
			if err != nil && !os.IsPermission(err) {
				return nil, err
			}
			e.Children = children
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDirectory != entries[j].IsDirectory {
			return entries[i].IsDirectory
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

// EnsureDir creates dir if needed and returns it.
func EnsureDir(fs afero.Fs, dir string) (string, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	return dir, nil
}
