package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"path/filepath"

	kjson "github.com/knadh/koanf/parsers/json"
	ktoml "github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting env > file > default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Load assembles the effective snapshot using the documented precedence rules.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), parserFor(path)); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		canonical := map[string]string{
			"backend.baseurl":        "backend.baseUrl",
			"backend.timeoutseconds": "backend.timeoutSeconds",
			"cache.keepaliveseconds": "cache.keepAliveSeconds",
			"poll.intervalseconds":   "poll.intervalSeconds",
			"rules.rulesfile":        "rules.rulesFile",
		}
		transform := func(s string) string {
			// Double underscores signal a nested path (BACKEND__BASE_URL -> backend.baseurl).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			key = strings.ReplaceAll(key, "_", "")
			key = strings.ToLower(key)
			if mapped, ok := canonical[key]; ok {
				return mapped
			}
			return key
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// parserFor picks a koanf parser from the file extension. YAML is the
// documented default; JSON and TOML files are accepted as well.
func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return kjson.Parser()
	case ".toml":
		return ktoml.Parser()
	default:
		return yaml.Parser()
	}
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":  cfg.Server.Logging.Level,
				"format": cfg.Server.Logging.Format,
			},
		},
		"backend": map[string]any{
			"baseUrl":        cfg.Backend.BaseURL,
			"timeoutSeconds": cfg.Backend.TimeoutSeconds,
			"session": map[string]any{
				"token": cfg.Backend.Session.Token,
				"role":  cfg.Backend.Session.Role,
			},
		},
		"cache": map[string]any{
			"keepAliveSeconds": cfg.Cache.KeepAliveSeconds,
		},
		"stream": map[string]any{
			"path": cfg.Stream.Path,
			"backoff": map[string]any{
				"initial": cfg.Stream.Backoff.Initial,
				"max":     cfg.Stream.Backoff.Max,
				"factor":  cfg.Stream.Backoff.Factor,
				"jitter":  cfg.Stream.Backoff.Jitter,
			},
		},
		"poll": map[string]any{
			"enabled":         cfg.Poll.Enabled,
			"intervalSeconds": cfg.Poll.IntervalSeconds,
		},
		"broadcast": map[string]any{
			"enabled":  cfg.Broadcast.Enabled,
			"address":  cfg.Broadcast.Address,
			"username": cfg.Broadcast.Username,
			"password": cfg.Broadcast.Password,
			"db":       cfg.Broadcast.DB,
			"channel":  cfg.Broadcast.Channel,
		},
		"rules": map[string]any{
			"rulesFile": cfg.Rules.RulesFile,
		},
		"templates": map[string]any{
			"format": cfg.Templates.Format,
		},
	}
}
