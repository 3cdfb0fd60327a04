// Package config assembles the application configuration from defaults, an
// optional YAML file, ANKIVIEW_-prefixed environment variables and command
// line flags, in that precedence order, and validates the result.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// DefaultMediaURLPath prefixes served media files when nothing is configured.
const DefaultMediaURLPath = "/media"

const envPrefix = "ANKIVIEW_"

// Config is the resolved application configuration.
type Config struct {
	Addr    string `koanf:"addr" validate:"required,hostname_port"`
	DataDir string `koanf:"data_dir"`
	// Package optionally pins the starting .apkg file; when empty the first
	// package discovered in DataDir is used.
	Package           string   `koanf:"package"`
	MediaURLPath      string   `koanf:"media_url_path" validate:"required,startswith=/"`
	MediaLookupTTLSec float64  `koanf:"media_lookup_ttl" validate:"gte=0"`
	DevMode           bool     `koanf:"dev_mode"`
	Sources           []string `koanf:"sources" validate:"dive,required"`
	LogLevel          string   `koanf:"log_level" validate:"oneof=debug info warn error"`
}

// MediaLookupTTL returns the media lookup cache TTL as a duration.
func (c *Config) MediaLookupTTL() time.Duration {
	return time.Duration(c.MediaLookupTTLSec * float64(time.Second))
}

// Flags declares the command line flags. Flag defaults double as the
// configuration defaults: koanf's posflag provider only overrides file and
// environment values for flags the user actually set.
func Flags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("ankiview", pflag.ContinueOnError)
	flags.String("config", "", "path to a YAML config file")
	flags.String("addr", "0.0.0.0:5000", "listen address")
	flags.String("data-dir", "", "directory containing .apkg files")
	flags.String("package", "", "path of the .apkg file to load at startup")
	flags.String("media-url-path", DefaultMediaURLPath, "URL prefix for served media")
	flags.Float64("media-lookup-ttl", 5.0, "media lookup cache TTL in seconds")
	flags.Bool("dev-mode", false, "enable developer diagnostics endpoints")
	flags.StringSlice("sources", nil, "git repositories providing .apkg packages")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	return flags
}

// Load resolves the configuration from the parsed flag set.
func Load(flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if configFile, _ := flags.GetString("config"); configFile != "" {
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configFile, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envToKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	// Flag names use dashes; config keys use underscores.
	flagProvider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
		return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
	})
	if err := k.Load(flagProvider, nil); err != nil {
		return nil, fmt.Errorf("load flags: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.MediaURLPath = NormalizeMediaURLPath(cfg.MediaURLPath)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// envToKey maps ANKIVIEW_MEDIA_URL_PATH to media_url_path.
func envToKey(name string) string {
	return strings.ToLower(strings.TrimPrefix(name, envPrefix))
}

// NormalizeMediaURLPath canonicalizes a media URL prefix: leading slash, no
// trailing slash, falling back to the default when the value is empty.
func NormalizeMediaURLPath(value string) string {
	cleaned := strings.TrimSpace(value)
	cleaned = strings.TrimRight(cleaned, "/")
	if cleaned == "" {
		return DefaultMediaURLPath
	}
	if !strings.HasPrefix(cleaned, "/") {
		cleaned = "/" + cleaned
	}
	return cleaned
}
