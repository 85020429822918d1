package types

// Config is the cowork configuration file format.
type Config struct {
	// Schema reference (for editor support)
	Schema string `json:"$schema,omitempty"`

	// Credentials handed to the agent process
	API *APIConfig `json:"api,omitempty"`

	// Agent process settings
	Agent *AgentConfig `json:"agent,omitempty"`

	// HTTP server settings
	Server *ServerConfig `json:"server,omitempty"`

	// Quiescence window for derived-view aggregation, in milliseconds
	DebounceMs int `json:"debounceMs,omitempty"`

	// Title summarizer
	Title *TitleConfig `json:"title,omitempty"`

	// Working directory for sessions started without one
	DefaultCwd string `json:"defaultCwd,omitempty"`

	// Directory listing
	Workspace *WorkspaceConfig `json:"workspace,omitempty"`
}

// APIConfig holds the Anthropic API settings.
type APIConfig struct {
	APIKey  string `json:"apiKey,omitempty"`
	BaseURL string `json:"baseURL,omitempty"`
	Model   string `json:"model,omitempty"`
}

// AgentConfig configures the external agent process.
type AgentConfig struct {
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	// InteractiveTools are glob patterns of tools that wait for the user.
	InteractiveTools []string          `json:"interactiveTools,omitempty"`
	AllowedTools     []string          `json:"allowedTools,omitempty"`
	Env              map[string]string `json:"env,omitempty"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port     int      `json:"port,omitempty"`
	Hostname string   `json:"hostname,omitempty"`
	CORS     []string `json:"cors,omitempty"`
}

// TitleConfig configures asynchronous title synthesis.
type TitleConfig struct {
	Enabled   *bool  `json:"enabled,omitempty"`
	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"maxTokens,omitempty"`
}

// WorkspaceConfig configures directory listings.
type WorkspaceConfig struct {
	Ignore []string `json:"ignore,omitempty"`
}

// HasAPI reports whether credentials are configured.
func (c *Config) HasAPI() bool {
	return c != nil && c.API != nil && c.API.APIKey != ""
}

// TitleEnabled reports whether titles should be summarized. Defaults to true.
func (c *Config) TitleEnabled() bool {
	if c == nil || c.Title == nil || c.Title.Enabled == nil {
		return true
	}
	return *c.Title.Enabled
}
