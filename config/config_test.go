package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-domainmaps/tensorio"
	"github.com/tsawler/go-domainmaps/vision/dataset"
	"github.com/tsawler/go-domainmaps/vision/preprocessing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "domainmaps.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "standard", cfg.Decoder)
	assert.Equal(t, "onnx", cfg.ArtifactFormat)
	assert.Equal(t, "first-dot", cfg.StemPolicy)
	assert.False(t, cfg.Debug)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
root: /data/office
base_net: resnet
decoder: accelerated
artifact_format: json
stem_policy: last-ext
exclude:
  - "**/thumbs/**"
debug: true
`)
	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "/data/office", cfg.Root)
	assert.Equal(t, "resnet", cfg.BaseNet)
	assert.Equal(t, "accelerated", cfg.Decoder)
	assert.Equal(t, "json", cfg.ArtifactFormat)
	assert.Equal(t, "last-ext", cfg.StemPolicy)
	assert.Equal(t, []string{"**/thumbs/**"}, cfg.Exclude)
	assert.True(t, cfg.Debug)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "root: /from/file\nbase_net: vgg\n")
	t.Setenv("DOMAINMAPS_BASE_NET", "resnet")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "/from/file", cfg.Root)
	assert.Equal(t, "resnet", cfg.BaseNet)
}

func TestFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, "root: /from/file\nbase_net: vgg\n")
	v := viper.New()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, BindFlags(v, fs))
	require.NoError(t, fs.Parse([]string{"--base-net", "alexnet", "--exclude", "a/**,b/*.bmp"}))

	cfg, err := Load(v, path)
	require.NoError(t, err)
	assert.Equal(t, "/from/file", cfg.Root)
	assert.Equal(t, "alexnet", cfg.BaseNet)
	assert.Equal(t, []string{"a/**", "b/*.bmp"}, cfg.Exclude)
}

func TestValidate(t *testing.T) {
	valid := Config{Root: "/r", BaseNet: "resnet", Decoder: "standard", ArtifactFormat: "onnx", StemPolicy: "first-dot"}
	require.NoError(t, valid.Validate())

	cases := map[string]func(c *Config){
		"missing root":     func(c *Config) { c.Root = "" },
		"missing base net": func(c *Config) { c.BaseNet = "" },
		"bad decoder":      func(c *Config) { c.Decoder = "accimage" },
		"bad format":       func(c *Config) { c.ArtifactFormat = "pickle" },
		"bad stem policy":  func(c *Config) { c.StemPolicy = "middle" },
		"bad extension":    func(c *Config) { c.ArtifactExt = "pth" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestOptions(t *testing.T) {
	cfg := Config{
		Root: "/r", BaseNet: "resnet", Decoder: "accelerated", ArtifactFormat: "json",
		ArtifactExt: ".pth", StemPolicy: "last-ext", Exclude: []string{"x/**"}, Debug: true,
	}
	opts, err := cfg.Options(nil)
	require.NoError(t, err)

	assert.IsType(t, preprocessing.AcceleratedDecoder{}, opts.Decoder)
	codec, ok := opts.Deserializer.(*tensorio.Codec)
	require.True(t, ok)
	assert.Equal(t, tensorio.FormatJSON, codec.Format())
	assert.Equal(t, ".pth", opts.ArtifactExt)
	assert.Equal(t, dataset.StemLastExt, opts.StemPolicy)
	assert.Equal(t, []string{"x/**"}, opts.Exclude)
	assert.True(t, opts.Debug)

	_, err = (&Config{}).Options(nil)
	assert.Error(t, err)
}
