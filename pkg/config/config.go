package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultSystemPrompt seeds new users when no prompt is configured.
const DefaultSystemPrompt = "You are a digital twin chat assistant. Keep the conversation going and stay friendly."

type Config struct {
	Server struct {
		Address string `yaml:"address"`
		Port    int    `yaml:"port"`
		TLS     struct {
			CertFile string `yaml:"cert_file"`
			KeyFile  string `yaml:"key_file"`
		} `yaml:"tls"`
		MaxBodyBytes SizeBytes `yaml:"max_body_bytes"`
	} `yaml:"server"`
	Storage struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"storage"`
	Security struct {
		CORS struct {
			AllowedOrigins []string `yaml:"allowed_origins"`
		} `yaml:"cors"`
		RateLimit struct {
			RPS   float64 `yaml:"rps"`
			Burst int     `yaml:"burst"`
		} `yaml:"rate_limit"`
		IPWhitelist []string `yaml:"ip_whitelist"`
		APIKeys     struct {
			Backend     []string `yaml:"backend"`
			AllowUnauth bool     `yaml:"allow_unauth"`
		} `yaml:"api_keys"`
	} `yaml:"security"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
	Generation struct {
		BackendURL  string   `yaml:"backend_url"`
		Timeout     Duration `yaml:"timeout"`
		ContextSize int      `yaml:"context_size"`
		MaxTokens   int      `yaml:"max_tokens"`
	} `yaml:"generation"`
	Prompt struct {
		SystemPrompt     string            `yaml:"system_prompt"`
		TemplatePath     string            `yaml:"template_path"`
		MessageFormat    string            `yaml:"message_format"`
		GenerationSuffix string            `yaml:"generation_suffix"`
		RoleMapping      map[string]string `yaml:"role_mapping"`
	} `yaml:"prompt"`
	Retention struct {
		Enabled   bool     `yaml:"enabled"`
		Cron      string   `yaml:"cron"`
		MinAge    Duration `yaml:"min_age"`
		BatchSize int      `yaml:"batch_size"`
		DryRun    bool     `yaml:"dry_run"`
	} `yaml:"retention"`
}

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 8080
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// SystemPrompt returns the configured default system prompt text.
func (c *Config) SystemPrompt() string {
	if s := strings.TrimSpace(c.Prompt.SystemPrompt); s != "" {
		return s
	}
	return DefaultSystemPrompt
}

// ContextSize returns the number of visible messages handed to the
// prompt assembler per generation.
func (c *Config) ContextSize() int {
	if c.Generation.ContextSize > 0 {
		return c.Generation.ContextSize
	}
	return 20
}

// MaxTokens returns the token budget for rendered prompts.
func (c *Config) MaxTokens() int {
	if c.Generation.MaxTokens > 0 {
		return c.Generation.MaxTokens
	}
	return 512
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseCommandFlags defines and parses command-line flags and returns their
// values along with a map indicating which flags were explicitly set.
func ParseCommandFlags() (addr string, dbPath string, cfgPath string, setFlags map[string]bool) {
	addrPtr := flag.String("addr", ":8080", "HTTP listen address")
	dbPtr := flag.String("db", "./.database", "Pebble DB path")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return *addrPtr, *dbPtr, *cfgPtr, setFlags
}

// LoadEnvOverrides applies DIALOGD_* environment overrides onto the
// provided cfg and reports whether any env vars were used.
func LoadEnvOverrides(cfg *Config) bool {
	envUsed := false
	parseList := func(v string) []string {
		if v == "" {
			return nil
		}
		parts := []string{}
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				parts = append(parts, s)
			}
		}
		return parts
	}

	if v := os.Getenv("DIALOGD_ADDR"); v != "" {
		envUsed = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	} else {
		if host := os.Getenv("DIALOGD_ADDRESS"); host != "" {
			envUsed = true
			cfg.Server.Address = host
		}
		if port := os.Getenv("DIALOGD_PORT"); port != "" {
			envUsed = true
			if pi, err := strconv.Atoi(port); err == nil {
				cfg.Server.Port = pi
			}
		}
	}

	if v := os.Getenv("DIALOGD_DB_PATH"); v != "" {
		envUsed = true
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("DIALOGD_BACKEND_URL"); v != "" {
		envUsed = true
		cfg.Generation.BackendURL = v
	}
	if v := os.Getenv("DIALOGD_CONTEXT_SIZE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Generation.ContextSize = n
		}
	}
	if v := os.Getenv("DIALOGD_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Generation.MaxTokens = n
		}
	}
	if v := os.Getenv("DIALOGD_SYSTEM_PROMPT"); v != "" {
		envUsed = true
		cfg.Prompt.SystemPrompt = v
	}
	if v := os.Getenv("DIALOGD_TEMPLATE_PATH"); v != "" {
		envUsed = true
		cfg.Prompt.TemplatePath = v
	}
	if v := os.Getenv("DIALOGD_CORS_ORIGINS"); v != "" {
		envUsed = true
		cfg.Security.CORS.AllowedOrigins = parseList(v)
	}
	if v := os.Getenv("DIALOGD_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envUsed = true
			cfg.Security.RateLimit.RPS = f
		}
	}
	if v := os.Getenv("DIALOGD_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Security.RateLimit.Burst = n
		}
	}
	if v := os.Getenv("DIALOGD_IP_WHITELIST"); v != "" {
		envUsed = true
		cfg.Security.IPWhitelist = parseList(v)
	}
	if v := os.Getenv("DIALOGD_API_BACKEND_KEYS"); v != "" {
		envUsed = true
		cfg.Security.APIKeys.Backend = parseList(v)
	}
	if v := os.Getenv("DIALOGD_API_ALLOW_UNAUTH"); v != "" {
		envUsed = true
		vl := strings.ToLower(strings.TrimSpace(v))
		cfg.Security.APIKeys.AllowUnauth = vl == "1" || vl == "true" || vl == "yes"
	}
	if c := os.Getenv("DIALOGD_TLS_CERT"); c != "" {
		envUsed = true
		cfg.Server.TLS.CertFile = c
	}
	if k := os.Getenv("DIALOGD_TLS_KEY"); k != "" {
		envUsed = true
		cfg.Server.TLS.KeyFile = k
	}
	return envUsed
}

// LoadEffective loads config from the given path (file) and applies
// environment overrides. A missing file yields an empty config so env and
// flags alone can run the server.
func LoadEffective(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if err != nil {
		cfg = &Config{}
	}
	envUsed := LoadEnvOverrides(cfg)
	return cfg, envUsed, nil
}

// ResolveConfigPath decides the config file path using the flag-provided
// value and the environment variable `DIALOGD_CONFIG` when the flag was
// not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("DIALOGD_CONFIG"); p != "" {
		return p
	}
	return flagPath
}
