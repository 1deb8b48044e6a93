package rankkit

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix namespaces environment overrides: RANKKIT_MMR_LAMBDA,
// RANKKIT_WEIGHTS_SEMANTIC and so on.
const EnvPrefix = "RANKKIT_"

// LoadConfig layers defaults, an optional YAML file and RANKKIT_* environment
// variables (highest priority), then validates. An empty path skips the file
// layer; a named file must exist.
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("%w: load defaults: %v", ErrConfigInvalid, err)
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return Config{}, fmt.Errorf("%w: config file %s: %v", ErrConfigInvalid, path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("%w: parse config file %s: %v", ErrConfigInvalid, path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("%w: load environment: %v", ErrConfigInvalid, err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: unmarshal: %v", ErrConfigInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envKey maps RANKKIT_MMR_LAMBDA to mmr_lambda and RANKKIT_WEIGHTS_SEMANTIC
// to weights.semantic. Top-level keys keep their underscores, so only the
// nested weights block needs the dot rewrite.
func envKey(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if rest, ok := strings.CutPrefix(key, "weights_"); ok {
		return "weights." + rest
	}
	return key
}
