// Package config loads the cowork configuration and keeps it current.
//
// # Sources
//
// Load merges, in increasing priority:
//
//  1. .env in the working directory (via godotenv; never overrides the
//     process environment)
//  2. $XDG_CONFIG_HOME/cowork/cowork.json and cowork.jsonc
//  3. <directory>/.cowork/cowork.json and cowork.jsonc
//  4. the file named by COWORK_CONFIG
//  5. ANTHROPIC_API_KEY or ANTHROPIC_AUTH_TOKEN, ANTHROPIC_BASE_URL,
//     ANTHROPIC_MODEL, COWORK_AGENT_COMMAND and COWORK_DEFAULT_CWD
//
// When none of these yields an API key, the env block of
// ~/.claude/settings.json is used if it names a token, base URL and model.
//
// Files may contain comments (tidwall/jsonc) and two placeholders:
// {env:VAR} expands to an environment variable and {file:path} to the
// contents of a file, resolved relative to the config file.
//
// # Example
//
//	{
//	  // credentials for the agent process
//	  "api": {"apiKey": "{env:MY_KEY}", "model": "claude-sonnet-4-20250514"},
//	  "agent": {"interactiveTools": ["AskUserQuestion", "mcp__*"]},
//	  "server": {"port": 4096},
//	  "debounceMs": 300
//	}
//
// # Hot reload
//
// Watcher observes the directories of every source with fsnotify and swaps
// the configuration held by a Live on change. The agent reads credentials
// from Live at the start of each turn, so fixing a missing key takes effect
// without a restart.
//
// # Paths
//
// GetPaths follows the XDG base directory layout with a cowork suffix. The
// session database lives at Data/sessions.db and the fallback workspace at
// Data/workspace.
package config
