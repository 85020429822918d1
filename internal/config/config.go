package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"

	"github.com/opencode-ai/cowork/internal/logging"
	"github.com/opencode-ai/cowork/pkg/types"
)

const (
	// DefaultDebounce is the aggregation quiescence window.
	DefaultDebounce = 300 * time.Millisecond
	// DefaultPort is the HTTP port used when none is configured.
	DefaultPort = 4096
)

// Load loads configuration from multiple sources (priority order):
// 1. .env in directory (does not override variables already set)
// 2. Global config (~/.config/cowork/cowork.json[c])
// 3. Project config (<directory>/.cowork/cowork.json[c])
// 4. COWORK_CONFIG file
// 5. Environment variables
// 6. ~/.claude/settings.json env block, only when no API key was found
func Load(directory string) (*types.Config, error) {
	if directory != "" {
		if err := godotenv.Load(filepath.Join(directory, ".env")); err != nil && !os.IsNotExist(err) {
			logging.Warn().Err(err).Msg("failed to load .env")
		}
	}

	config := &types.Config{}
	for _, path := range Sources(directory) {
		if err := loadConfigFile(path, config, filepath.Dir(path)); err != nil && !os.IsNotExist(err) {
			logging.Warn().Err(err).Str("path", path).Msg("skipping invalid config file")
		}
	}

	applyEnvOverrides(config)

	if !config.HasAPI() {
		applyClaudeSettings(config, ClaudeSettingsPath())
	}
	return config, nil
}

// Sources returns the config files Load reads, in order.
func Sources(directory string) []string {
	global := GetPaths().Config
	paths := []string{
		filepath.Join(global, "cowork.json"),
		filepath.Join(global, "cowork.jsonc"),
	}
	if directory != "" {
		projectDir := filepath.Join(directory, ".cowork")
		paths = append(paths,
			filepath.Join(projectDir, "cowork.json"),
			filepath.Join(projectDir, "cowork.jsonc"),
		)
	}
	if p := os.Getenv("COWORK_CONFIG"); p != "" {
		paths = append(paths, p)
	}

	seen := make(map[string]bool, len(paths))
	out := paths[:0]
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		out = append(out, abs)
	}
	return out
}

// loadConfigFile loads a single config file with interpolation support.
func loadConfigFile(path string, config *types.Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	data = jsonc.ToJSON(data)
	data = interpolate(data, baseDir)

	var fileConfig types.Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	mergeConfig(config, &fileConfig)
	return nil
}

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := envPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]
		if strings.HasPrefix(filePath, "~/") {
			filePath = filepath.Join(homeDir(), filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match
		}
		// Trailing newlines in key files are never intended.
		escaped, _ := json.Marshal(strings.TrimRight(string(content), "\r\n"))
		return string(escaped[1 : len(escaped)-1])
	})

	return []byte(str)
}

// mergeConfig merges source config into target.
func mergeConfig(target, source *types.Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.API != nil {
		if target.API == nil {
			target.API = &types.APIConfig{}
		}
		if source.API.APIKey != "" {
			target.API.APIKey = source.API.APIKey
		}
		if source.API.BaseURL != "" {
			target.API.BaseURL = source.API.BaseURL
		}
		if source.API.Model != "" {
			target.API.Model = source.API.Model
		}
	}
	if source.Agent != nil {
		if target.Agent == nil {
			target.Agent = &types.AgentConfig{}
		}
		if source.Agent.Command != "" {
			target.Agent.Command = source.Agent.Command
		}
		if source.Agent.Args != nil {
			target.Agent.Args = source.Agent.Args
		}
		if source.Agent.InteractiveTools != nil {
			target.Agent.InteractiveTools = source.Agent.InteractiveTools
		}
		if source.Agent.AllowedTools != nil {
			target.Agent.AllowedTools = source.Agent.AllowedTools
		}
		if source.Agent.Env != nil {
			if target.Agent.Env == nil {
				target.Agent.Env = make(map[string]string)
			}
			for k, v := range source.Agent.Env {
				target.Agent.Env[k] = v
			}
		}
	}
	if source.Server != nil {
		target.Server = source.Server
	}
	if source.DebounceMs != 0 {
		target.DebounceMs = source.DebounceMs
	}
	if source.Title != nil {
		target.Title = source.Title
	}
	if source.DefaultCwd != "" {
		target.DefaultCwd = source.DefaultCwd
	}
	if source.Workspace != nil {
		target.Workspace = source.Workspace
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *types.Config) {
	setAPI := func(apply func(*types.APIConfig)) {
		if config.API == nil {
			config.API = &types.APIConfig{}
		}
		apply(config.API)
	}

	for _, key := range []string{"ANTHROPIC_API_KEY", "ANTHROPIC_AUTH_TOKEN"} {
		if v := os.Getenv(key); v != "" {
			setAPI(func(a *types.APIConfig) { a.APIKey = v })
			break
		}
	}
	if v := os.Getenv("ANTHROPIC_BASE_URL"); v != "" {
		setAPI(func(a *types.APIConfig) { a.BaseURL = v })
	}
	if v := os.Getenv("ANTHROPIC_MODEL"); v != "" {
		setAPI(func(a *types.APIConfig) { a.Model = v })
	}
	if v := os.Getenv("COWORK_AGENT_COMMAND"); v != "" {
		if config.Agent == nil {
			config.Agent = &types.AgentConfig{}
		}
		config.Agent.Command = v
	}
	if v := os.Getenv("COWORK_DEFAULT_CWD"); v != "" {
		config.DefaultCwd = v
	}
}

// claudeSettings is the subset of ~/.claude/settings.json read here.
type claudeSettings struct {
	Env map[string]any `json:"env"`
}

// applyClaudeSettings fills the API settings from the Claude CLI settings
// file when it names a token, base URL and model.
func applyClaudeSettings(config *types.Config, path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var s claudeSettings
	if err := json.Unmarshal(jsonc.ToJSON(data), &s); err != nil || s.Env == nil {
		return false
	}
	str := func(k string) string {
		if v, ok := s.Env[k].(string); ok {
			return v
		}
		return ""
	}
	token, baseURL, model := str("ANTHROPIC_AUTH_TOKEN"), str("ANTHROPIC_BASE_URL"), str("ANTHROPIC_MODEL")
	if token == "" || baseURL == "" || model == "" {
		return false
	}
	config.API = &types.APIConfig{APIKey: token, BaseURL: baseURL, Model: model}
	logging.Info().Str("path", path).Msg("using API settings from Claude settings file")
	return true
}

// Debounce returns the configured aggregation window.
func Debounce(c *types.Config) time.Duration {
	if c == nil || c.DebounceMs <= 0 {
		return DefaultDebounce
	}
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// Port returns the configured HTTP port.
func Port(c *types.Config) int {
	if c == nil || c.Server == nil || c.Server.Port == 0 {
		return DefaultPort
	}
	return c.Server.Port
}

// DefaultCwd returns the working directory for sessions started without
// one.
func DefaultCwd(c *types.Config) string {
	if c != nil && c.DefaultCwd != "" {
		return c.DefaultCwd
	}
	return GetPaths().WorkspacePath()
}

// Save saves the configuration to a file.
func Save(config *types.Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Update applies fn to the config stored at path and saves the result. The
// file is read without interpolation so {env:} and {file:} placeholders
// survive the rewrite. A missing file starts from an empty config.
func Update(path string, fn func(*types.Config)) (*types.Config, error) {
	config := &types.Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(jsonc.ToJSON(data), config); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return nil, err
	}

	fn(config)
	if err := Save(config, path); err != nil {
		return nil, fmt.Errorf("save %s: %w", path, err)
	}
	return config, nil
}

// Clone returns a deep copy of c.
func Clone(c *types.Config) *types.Config {
	out := &types.Config{}
	if c == nil {
		return out
	}
	data, err := json.Marshal(c)
	if err == nil {
		err = json.Unmarshal(data, out)
	}
	if err != nil {
		logging.Warn().Err(err).Msg("config copy failed")
		return &types.Config{}
	}
	return out
}
