package main

import (
	"fmt"
	"os"
	"strings"

	mcp "github.com/MegaGrindStone/go-mcp-mount"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "MCP_"

type config struct {
	Port           string     `koanf:"port"`
	AllowedOrigins []string   `koanf:"allowed_origins"`
	MCP            mcp.Config `koanf:"mcp"`
}

// loadConfig reads the optional YAML file at path, then overrides it with MCP_* environment
// variables. MCP_PORT and MCP_ALLOWED_ORIGINS set the top-level keys; every other variable
// sets the mcp section, e.g. MCP_BASE_PATH sets mcp.base_path.
func loadConfig(path string) (config, error) {
	cfg := config{
		Port:           os.Getenv("PORT"),
		AllowedOrigins: []string{"*"},
		MCP: mcp.Config{
			BasePath: mcp.DefaultBasePath,
			Name:     "everything",
			Version:  "1.0.0",
		},
	}
	if cfg.Port == "" {
		cfg.Port = "3000"
	}

	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return config{}, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	err := k.Load(env.ProviderWithValue(envPrefix, ".", func(key, value string) (string, interface{}) {
		key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
		switch key {
		case "config":
			return "", nil
		case "port":
			return key, value
		case "allowed_origins":
			return key, strings.Split(value, ",")
		default:
			return "mcp." + key, value
		}
	}), nil)
	if err != nil {
		return config{}, fmt.Errorf("failed to load environment: %w", err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}
