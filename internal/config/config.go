package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Sources  Sources  `yaml:"sources"`
	Analysis Analysis `yaml:"analysis"`
	Library  Library  `yaml:"library"`
	Sync     Sync     `yaml:"sync"`
	Server   Server   `yaml:"server"`
}

type Sources struct {
	Arxiv  ArxivConfig  `yaml:"arxiv"`
	Zotero ZoteroConfig `yaml:"zotero"`
}

type ArxivConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Categories []string `yaml:"categories"`
	BaseURL    string   `yaml:"base_url"`
}

type ZoteroConfig struct {
	Enabled      bool   `yaml:"enabled"`
	LibraryIDEnv string `yaml:"library_id_env"`
	APIKeyEnv    string `yaml:"api_key_env"`
	LibraryType  string `yaml:"library_type"` // "user" or "group"
	BaseURL      string `yaml:"base_url"`
}

type Analysis struct {
	Provider    string `yaml:"provider"`
	Model       string `yaml:"model"`
	OllamaURL   string `yaml:"ollama_url"`
	OpenAIModel string `yaml:"openai_model"`
	APIKeyEnv   string `yaml:"api_key_env"`
	MaxTokens   int    `yaml:"max_tokens"`
}

type Library struct {
	Root                string `yaml:"root"`
	PapersPerCategory   int    `yaml:"papers_per_category"`
	DownloadConcurrency int    `yaml:"download_concurrency"`
}

type Sync struct {
	// OrphanPolicy controls what a sync sweep does with on-disk files that
	// have no catalog entry: "adopt" assigns them an identity from their
	// metadata sidecar, "review" only reports them.
	OrphanPolicy string `yaml:"orphan_policy"`
}

type Server struct {
	Port int `yaml:"port"`
}

// ConfigDir returns the XDG config directory for papertrail.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "papertrail")
}

// DataDir returns the XDG data directory for papertrail.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "papertrail")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/papertrail/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'papertrail init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Sources: Sources{
			Arxiv: ArxivConfig{
				Enabled:    true,
				Categories: []string{"cs.AI", "cs.LG", "cs.NE", "stat.ML"},
				BaseURL:    "https://export.arxiv.org/api/query",
			},
			Zotero: ZoteroConfig{
				Enabled:      false,
				LibraryIDEnv: "ZOTERO_LIBRARY_ID",
				APIKeyEnv:    "ZOTERO_API_KEY",
				LibraryType:  "user",
				BaseURL:      "https://api.zotero.org",
			},
		},
		Analysis: Analysis{
			Provider:    "ollama",
			Model:       "qwen2.5:7b",
			OllamaURL:   "http://localhost:11434",
			OpenAIModel: "gpt-4o-mini",
			APIKeyEnv:   "OPENAI_API_KEY",
			MaxTokens:   1024,
		},
		Library: Library{
			PapersPerCategory:   100,
			DownloadConcurrency: 5,
		},
		Sync:   Sync{OrphanPolicy: "review"},
		Server: Server{Port: 8000},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if p := cfg.Sync.OrphanPolicy; p != "adopt" && p != "review" {
		return nil, fmt.Errorf("invalid sync.orphan_policy %q (want adopt or review)", p)
	}
	if cfg.Library.DownloadConcurrency < 1 {
		cfg.Library.DownloadConcurrency = 1
	}

	return cfg, nil
}

// LibraryRoot returns the effective library root from config or XDG default.
func (c *Config) LibraryRoot() string {
	if c.Library.Root != "" {
		return c.Library.Root
	}
	return DataDir()
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
