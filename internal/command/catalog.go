package command

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/opencode-ai/cowork/internal/logging"
)

// Command is a slash command discovered on disk.
type Command struct {
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	ArgumentHint string `json:"argumentHint,omitempty"`
	FilePath     string `json:"filePath"`
}

type frontmatter struct {
	Description  string `yaml:"description"`
	ArgumentHint string `yaml:"argument-hint"`
}

var frontmatterRe = regexp.MustCompile(`(?s)\A---\r?\n(.*?)\r?\n---(?:\r?\n|\z)`)

// DefaultDir returns ~/.claude/commands.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".claude", "commands")
	}
	return filepath.Join(home, ".claude", "commands")
}

// Catalog lists the commands of one directory.
type Catalog struct {
	fs  afero.Fs
	dir string

	mu       sync.RWMutex
	commands map[string]Command
}

// NewCatalog creates a catalog for dir and loads it.
func NewCatalog(fs afero.Fs, dir string) *Catalog {
	c := &Catalog{fs: fs, dir: dir}
	c.Reload()
	return c
}

// Reload rescans the directory. A missing directory yields no commands.
func (c *Catalog) Reload() {
	commands := make(map[string]Command)
	infos, err := afero.ReadDir(c.fs, c.dir)
	if err != nil && !os.IsNotExist(err) {
		logging.Warn().Err(err).Str("dir", c.dir).Msg("failed to read commands directory")
	}
	for _, fi := range infos {
		if fi.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(fi.Name()))
		if ext != ".md" && ext != ".txt" {
			continue
		}
		path := filepath.Join(c.dir, fi.Name())
		data, err := afero.ReadFile(c.fs, path)
		if err != nil {
			logging.Warn().Err(err).Str("file", path).Msg("failed to read command file")
			continue
		}
		fm, _ := split(data)
		name := strings.TrimSuffix(fi.Name(), filepath.Ext(fi.Name()))
		commands[name] = Command{
			Name:         name,
			Description:  fm.Description,
			ArgumentHint: fm.ArgumentHint,
			FilePath:     path,
		}
	}

	c.mu.Lock()
	c.commands = commands
	c.mu.Unlock()
}

// split separates the frontmatter from the body. Malformed frontmatter is
// ignored but still stripped.
func split(data []byte) (frontmatter, string) {
	var fm frontmatter
	m := frontmatterRe.FindSubmatchIndex(data)
	if m == nil {
		return fm, strings.TrimSpace(string(data))
	}
	if err := yaml.Unmarshal(data[m[2]:m[3]], &fm); err != nil {
		logging.Debug().Err(err).Msg("ignoring malformed command frontmatter")
		fm = frontmatter{}
	}
	return fm, strings.TrimSpace(string(bytes.TrimSpace(data[m[1]:])))
}

// List returns the commands sorted by name.
func (c *Catalog) List() []Command {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Command, 0, len(c.commands))
	for _, cmd := range c.commands {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns a command by name.
func (c *Catalog) Get(name string) (Command, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cmd, ok := c.commands[name]
	return cmd, ok
}

// Content returns the command body without frontmatter.
func (c *Catalog) Content(name string) (string, error) {
	cmd, ok := c.Get(name)
	if !ok {
		return "", fmt.Errorf("command not found: %s", name)
	}
	data, err := afero.ReadFile(c.fs, cmd.FilePath)
	if err != nil {
		return "", err
	}
	_, body := split(data)
	return body, nil
}

var positionalRe = regexp.MustCompile(`\$(\d+)`)

// Expand returns the body of name with its arguments substituted.
func (c *Catalog) Expand(name, args string) (string, error) {
	body, err := c.Content(name)
	if err != nil {
		return "", err
	}
	args = strings.TrimSpace(args)
	fields := strings.Fields(args)

	body = strings.ReplaceAll(body, "$ARGUMENTS", args)
	body = positionalRe.ReplaceAllStringFunc(body, func(m string) string {
		n, _ := strconv.Atoi(m[1:])
		if n >= 1 && n <= len(fields) {
			return fields[n-1]
		}
		return ""
	})
	return body, nil
}
