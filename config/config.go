package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/m4xw311/mcpchat/errors"
	"github.com/m4xw311/mcpchat/usage"
	"gopkg.in/yaml.v3"
)

const (
	DefaultLLMClient = "anthropic"
	DefaultModel     = "claude-3-5-haiku-latest"
	DefaultMaxTokens = 8192
	DefaultMaxRounds = 10

	dirName = ".mcpchat"
)

type FilesystemAccess struct {
	Hidden   []string `yaml:"hidden"`
	ReadOnly []string `yaml:"read_only"`
}

type MCPServer struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
}

type Toolset struct {
	Name  string   `yaml:"name"`
	Tools []string `yaml:"tools"`
}

// AgentConfig bounds the tool loop.
type AgentConfig struct {
	MaxRounds        int           `yaml:"max_rounds"`
	MaxParallelTools int           `yaml:"max_parallel_tools"`
	ToolTimeout      time.Duration `yaml:"tool_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Pretty bool   `yaml:"pretty"`
}

type Config struct {
	LLMClient            string           `yaml:"llm"`
	Model                string           `yaml:"model"`
	MaxTokens            int64            `yaml:"max_tokens"`
	SystemPrompt         string           `yaml:"system_prompt"`
	KeepHistory          bool             `yaml:"keep_history"`
	Multiline            bool             `yaml:"multiline"`
	Agent                AgentConfig      `yaml:"agent"`
	Pricing              usage.Pricing    `yaml:"pricing"`
	Log                  LogConfig        `yaml:"log"`
	Toolsets             []Toolset        `yaml:"toolsets"`
	AdditionalMCPServers []MCPServer      `yaml:"additional_mcp_servers"`
	MCPConfig            string           `yaml:"mcp_config"`
	AllowedCommands      []string         `yaml:"allowed_commands"`
	FilesystemAccess     FilesystemAccess `yaml:"filesystem_access"`
}

// Default returns the configuration used when no file overrides a field.
func Default() *Config {
	cfg := &Config{
		LLMClient: DefaultLLMClient,
		Model:     DefaultModel,
		MaxTokens: DefaultMaxTokens,
		Agent:     AgentConfig{MaxRounds: DefaultMaxRounds},
		Pricing:   usage.DefaultPricing,
		Log:       LogConfig{Level: "warn"},
		MCPConfig: "mcp.json",
	}
	// The config directory itself is never exposed to the builtin file tools.
	cfg.FilesystemAccess.Hidden = append(cfg.FilesystemAccess.Hidden, dirName, dirName+"/**")
	return cfg
}

// LoadConfig loads configuration from the user's home directory and the current
// working directory, with the latter taking precedence.
func LoadConfig() (*Config, error) {
	var paths []string

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, dirName, "config.yaml"))
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Coded(err, errors.CodeConfigLoad, "could not get working directory")
	}
	paths = append(paths, filepath.Join(wd, dirName, "config.yaml"))

	return LoadFiles(paths...)
}

// LoadFiles applies each existing file over the defaults in order. Missing
// files are skipped.
func LoadFiles(paths ...string) (*Config, error) {
	cfg := Default()
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := loadFromFile(p, cfg); err != nil {
			return nil, errors.Coded(err, errors.CodeConfigLoad, "error loading config '%s'", p)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Fields present in the YAML replace earlier values; lists are not merged.
	return yaml.Unmarshal(data, cfg)
}

// Validate rejects settings the agent cannot run with.
func (c *Config) Validate() error {
	if c.MaxTokens <= 0 {
		return errors.Codef(errors.CodeConfiguration, "max_tokens must be positive, got %d", c.MaxTokens)
	}
	if c.Agent.MaxRounds <= 0 {
		return errors.Codef(errors.CodeConfiguration, "agent.max_rounds must be positive, got %d", c.Agent.MaxRounds)
	}
	if c.Agent.MaxParallelTools < 0 {
		return errors.Codef(errors.CodeConfiguration, "agent.max_parallel_tools must not be negative, got %d", c.Agent.MaxParallelTools)
	}
	if c.Agent.ToolTimeout < 0 {
		return errors.Codef(errors.CodeConfiguration, "agent.tool_timeout must not be negative, got %s", c.Agent.ToolTimeout)
	}
	if c.Pricing.InputPerMTok < 0 || c.Pricing.OutputPerMTok < 0 {
		return errors.Codef(errors.CodeConfiguration, "pricing must not be negative")
	}
	seen := make(map[string]bool)
	for _, s := range c.AdditionalMCPServers {
		if s.Name == "" || s.Command == "" {
			return errors.Codef(errors.CodeConfiguration, "additional_mcp_servers entries need a name and a command")
		}
		if seen[s.Name] {
			return errors.Codef(errors.CodeConfiguration, "duplicate MCP server name '%s'", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// GetToolset finds a toolset by name. Returns the "default" toolset if the
// named one is not found or if an empty name is provided. With no toolsets
// configured at all it returns nil, meaning every discovered tool is active.
func (c *Config) GetToolset(name string) (*Toolset, error) {
	if len(c.Toolsets) == 0 {
		return nil, nil
	}
	if name == "" {
		name = "default"
	}
	for _, ts := range c.Toolsets {
		if ts.Name == name {
			return &ts, nil
		}
	}
	if name == "default" {
		return nil, errors.Codef(errors.CodeConfiguration, "mandatory 'default' toolset not found in configuration")
	}
	// Fallback to default if a specific toolset was requested but not found
	return c.GetToolset("default")
}

// MCPServers merges servers from the mcp.json file (in document order) with
// additional_mcp_servers. A missing mcp.json is not an error.
func (c *Config) MCPServers() ([]MCPServer, error) {
	var servers []MCPServer
	if c.MCPConfig != "" {
		if _, err := os.Stat(c.MCPConfig); err == nil {
			fromFile, err := LoadMCPServers(c.MCPConfig)
			if err != nil {
				return nil, err
			}
			servers = append(servers, fromFile...)
		}
	}

	seen := make(map[string]bool, len(servers))
	for _, s := range servers {
		seen[s.Name] = true
	}
	for _, s := range c.AdditionalMCPServers {
		if seen[s.Name] {
			return nil, errors.Codef(errors.CodeConfiguration, "MCP server '%s' defined in both %s and config.yaml", s.Name, c.MCPConfig)
		}
		servers = append(servers, s)
	}
	return servers, nil
}

// LoadMCPServers reads an mcp.json file of the form
// {"servers": {"name": {"command": ..., "args": [...], "env": {...}}}}.
// JSON is parsed as YAML so the node tree keeps the servers in file order.
func LoadMCPServers(path string) ([]MCPServer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Coded(err, errors.CodeConfigLoad, "MCP configuration file not found: %s", path)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Coded(err, errors.CodeConfigLoad, "invalid MCP configuration in %s", path)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, errors.Codef(errors.CodeConfiguration, "no servers configured in %s", path)
	}

	root := doc.Content[0]
	var serversNode *yaml.Node
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == "servers" {
			serversNode = root.Content[i+1]
			break
		}
	}
	if serversNode == nil || serversNode.Kind != yaml.MappingNode || len(serversNode.Content) == 0 {
		return nil, errors.Codef(errors.CodeConfiguration, "no servers configured in %s", path)
	}

	servers := make([]MCPServer, 0, len(serversNode.Content)/2)
	for i := 0; i+1 < len(serversNode.Content); i += 2 {
		s := MCPServer{Name: serversNode.Content[i].Value}
		if err := serversNode.Content[i+1].Decode(&s); err != nil {
			return nil, errors.Coded(err, errors.CodeConfigLoad, "invalid entry for MCP server '%s'", s.Name)
		}
		// The key is authoritative.
		s.Name = serversNode.Content[i].Value
		if s.Command == "" {
			return nil, errors.Codef(errors.CodeConfiguration, "MCP server '%s' has no command", s.Name)
		}
		servers = append(servers, s)
	}
	return servers, nil
}
