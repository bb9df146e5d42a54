package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "SAIMIRIS__"

// Load builds the agent configuration from an optional YAML file,
// overridden by SAIMIRIS__-prefixed environment variables using "__" as
// the section separator (e.g. SAIMIRIS__KAFKA__BROKERS). An empty path
// skips the file layer entirely; environment variables still apply.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load file %q: %w", path, err)
		}
	}

	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// LoadKafka reads only the kafka section, layered the same way as
// Load. It's used by the client tool, which publishes onto the
// inbound stream without needing an agent identity or caracat
// instances configured.
func LoadKafka(path string) (*KafkaConfig, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load file %q: %w", path, err)
		}
	}

	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	var kafka KafkaConfig
	if err := k.Unmarshal("kafka", &kafka); err != nil {
		return nil, fmt.Errorf("config: unmarshal kafka section: %w", err)
	}
	kafka.applyDefaults()
	if err := kafka.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &kafka, nil
}
