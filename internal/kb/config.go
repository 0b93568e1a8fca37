package kb

import (
	"errors"
	"os"
	"path/filepath"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/grovekb/grove/internal/embedding"
	"github.com/grovekb/grove/internal/embedserver"
	"github.com/grovekb/grove/pkg/config"
)

// Store-internal file names. Leading underscore keeps them out of the
// canonical leaf tree.
const (
	ConfigFile = "_config.yaml"
	IndexFile  = "_index.db"
)

// storeDirName is the default store directory discovered (or created)
// relative to a project root.
const storeDirName = ".grove"

// EnvStorePath overrides store-root discovery entirely.
const EnvStorePath = "GROVE_PATH"

// StoreConfig is the store-local _config.yaml: which embedding provider the
// store was indexed with and the vector dimensionality its index records.
type StoreConfig struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model,omitempty"`
	Dimensions int    `yaml:"dimensions"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Provider, validation.Required,
			validation.In(embedding.ProviderLite, embedding.ProviderServer)),
		validation.Field(&c.Dimensions, validation.Required,
			validation.Min(8), validation.Max(8192)),
	); err != nil {
		return err
	}
	if c.Provider == embedding.ProviderServer {
		if _, err := embedserver.ResolveModel(c.Model); err != nil {
			return err
		}
	}
	return nil
}

// NewDefaultStoreConfig returns the configuration a fresh store starts with.
func NewDefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Provider:   embedding.ProviderLite,
		Dimensions: embedding.DefaultLiteDimensions,
	}
}

// LoadStoreConfig reads <root>/_config.yaml, falling back to defaults when
// the file does not exist.
func LoadStoreConfig(root string) (StoreConfig, error) {
	cfg := NewDefaultStoreConfig()
	path := filepath.Join(root, ConfigFile)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err := config.Load(path, &cfg); err != nil {
		return StoreConfig{}, err
	}
	return cfg, nil
}

// SaveStoreConfig writes <root>/_config.yaml.
func SaveStoreConfig(root string, cfg StoreConfig) error {
	return config.Save(filepath.Join(root, ConfigFile), &cfg)
}

// GlobalConfig lives under the user config dir and carries settings shared
// across stores, currently the embedding server's model alias.
type GlobalConfig struct {
	Model string `yaml:"model"`
}

// Validate validates the global configuration.
func (c *GlobalConfig) Validate() error {
	if c.Model == "" {
		return nil
	}
	_, err := embedserver.ResolveModel(c.Model)
	return err
}

// GlobalConfigPath returns the location of the per-user config file.
func GlobalConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "grove", "config.yaml"), nil
}

// LoadGlobalConfig reads the per-user config, returning defaults when the
// file is absent.
func LoadGlobalConfig() (GlobalConfig, error) {
	cfg := GlobalConfig{Model: embedserver.DefaultModel}
	path, err := GlobalConfigPath()
	if err != nil {
		return cfg, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err := config.Load(path, &cfg); err != nil {
		return GlobalConfig{}, err
	}
	if cfg.Model == "" {
		cfg.Model = embedserver.DefaultModel
	}
	return cfg, nil
}

// SaveGlobalConfig writes the per-user config.
func SaveGlobalConfig(cfg GlobalConfig) error {
	path, err := GlobalConfigPath()
	if err != nil {
		return err
	}
	return config.Save(path, &cfg)
}

// DiscoverRoot locates the store root: the GROVE_PATH environment variable
// wins; otherwise the nearest .grove directory walking up from cwd; otherwise
// cwd/.grove (which may not exist yet; init creates it).
func DiscoverRoot() (string, error) {
	if p := os.Getenv(EnvStorePath); p != "" {
		return filepath.Clean(p), nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	dir := cwd
	for {
		candidate := filepath.Join(dir, storeDirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return filepath.Join(cwd, storeDirName), nil
}
