// Package config loads dataset settings from a YAML file, DOMAINMAPS_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"log/slog"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tsawler/go-domainmaps/tensorio"
	"github.com/tsawler/go-domainmaps/vision/dataset"
	"github.com/tsawler/go-domainmaps/vision/preprocessing"
)

// EnvPrefix is the prefix for environment overrides, e.g. DOMAINMAPS_BASE_NET.
const EnvPrefix = "DOMAINMAPS"

// Config is the in-memory representation of the dataset configuration.
type Config struct {
	Root           string   `mapstructure:"root" yaml:"root"`
	BaseNet        string   `mapstructure:"base_net" yaml:"base_net"`
	Decoder        string   `mapstructure:"decoder" yaml:"decoder"`
	ArtifactFormat string   `mapstructure:"artifact_format" yaml:"artifact_format"`
	ArtifactExt    string   `mapstructure:"artifact_ext" yaml:"artifact_ext,omitempty"`
	StemPolicy     string   `mapstructure:"stem_policy" yaml:"stem_policy"`
	Exclude        []string `mapstructure:"exclude" yaml:"exclude,omitempty"`
	Debug          bool     `mapstructure:"debug" yaml:"debug"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("decoder", "standard")
	v.SetDefault("artifact_format", "onnx")
	v.SetDefault("stem_policy", "first-dot")
	v.SetDefault("debug", false)
}

// BindFlags registers the configuration flags on fs and binds them to v.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	fs.String("root", "", "dataset root containing images/ and domain-maps/")
	fs.String("base-net", "", "base network selecting domain-maps/<base-net>")
	fs.String("decoder", "standard", "image decoder: standard or accelerated")
	fs.String("artifact-format", "onnx", "domain map format: onnx or json")
	fs.String("artifact-ext", "", "override the domain map file extension, e.g. .pth")
	fs.String("stem-policy", "first-dot", "stem rule: first-dot or last-ext")
	fs.StringSlice("exclude", nil, "glob patterns (relative to images/) to leave out of the catalog")
	fs.Bool("debug", false, "log resolved paths on every access")

	for key, flag := range map[string]string{
		"root":            "root",
		"base_net":        "base-net",
		"decoder":         "decoder",
		"artifact_format": "artifact-format",
		"artifact_ext":    "artifact-ext",
		"stem_policy":     "stem-policy",
		"exclude":         "exclude",
		"debug":           "debug",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return errors.Wrapf(err, "failed to bind flag %s", flag)
		}
	}
	return nil
}

// Load reads the optional config file at path and merges environment overrides.
// An empty path skips the file.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "cannot read config %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return &cfg, nil
}

// Validate checks required fields and enumerated values.
func (c *Config) Validate() error {
	if c.Root == "" {
		return errors.New("root is required")
	}
	if c.BaseNet == "" {
		return dataset.ErrMissingBaseNet
	}
	if _, err := preprocessing.NewDecoder(c.Decoder); err != nil {
		return err
	}
	if _, err := tensorio.ParseFormat(c.ArtifactFormat); err != nil {
		return err
	}
	if _, err := dataset.ParseStemPolicy(c.StemPolicy); err != nil {
		return err
	}
	if c.ArtifactExt != "" && !strings.HasPrefix(c.ArtifactExt, ".") {
		return errors.Errorf("artifact_ext %q must start with a dot", c.ArtifactExt)
	}
	return nil
}

// Options converts the configuration into dataset options. The decoder and
// deserializer are resolved here, once.
func (c *Config) Options(logger *slog.Logger) (dataset.Options, error) {
	if err := c.Validate(); err != nil {
		return dataset.Options{}, err
	}
	decoder, _ := preprocessing.NewDecoder(c.Decoder)
	format, _ := tensorio.ParseFormat(c.ArtifactFormat)
	stem, _ := dataset.ParseStemPolicy(c.StemPolicy)

	return dataset.Options{
		Decoder:      decoder,
		Deserializer: tensorio.NewCodec(format),
		ArtifactExt:  c.ArtifactExt,
		StemPolicy:   stem,
		Exclude:      c.Exclude,
		Debug:        c.Debug,
		Logger:       logger,
	}, nil
}
