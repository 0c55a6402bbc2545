package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader loads configuration from file and environment variables.
// Priority: defaults -> config file -> environment variables (env wins).
type Loader interface {
	Load() (*Config, error)
}

type loader struct {
	rootDir string
}

// NewLoader creates a configuration loader rooted at rootDir, which is
// searched for .graphstore/config.yml.
func NewLoader(rootDir string) Loader {
	return &loader{rootDir: rootDir}
}

// Load reads .graphstore/config.yml (if present), applies GRAPHSTORE_*
// environment overrides, and validates the result.
func (l *loader) Load() (*Config, error) {
	v := viper.New()

	configDir := filepath.Join(l.rootDir, ".graphstore")
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)

	v.SetEnvPrefix("GRAPHSTORE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.BindEnv("storage.kind")
	v.BindEnv("storage.inprocess.path")
	v.BindEnv("storage.inprocess.backup_dir")
	v.BindEnv("storage.proxy.path")
	v.BindEnv("storage.proxy.backup_dir")
	v.BindEnv("storage.proxy.socket_path")
	v.BindEnv("storage.proxy.command_timeout_seconds")
	v.BindEnv("storage.proxy.poll_interval_seconds")
	v.BindEnv("chunking.file_page_size")
	v.BindEnv("chunking.chunk_page_size")
	v.BindEnv("chunking.save_every")
	v.BindEnv("chunking.embedding_model")
	v.BindEnv("embed.provider")
	v.BindEnv("embed.dimensions")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("storage.kind", d.Storage.Kind)
	v.SetDefault("storage.inprocess.path", d.Storage.InProcess.Path)
	v.SetDefault("storage.inprocess.backup_dir", d.Storage.InProcess.BackupDir)

	v.SetDefault("paths.extensions", d.Paths.Extensions)
	v.SetDefault("paths.ignore", d.Paths.Ignore)

	v.SetDefault("chunking.file_page_size", d.Chunking.FilePageSize)
	v.SetDefault("chunking.chunk_page_size", d.Chunking.ChunkPageSize)
	v.SetDefault("chunking.save_every", d.Chunking.SaveEvery)
	v.SetDefault("chunking.embedding_model", d.Chunking.EmbeddingModel)

	v.SetDefault("embed.provider", d.Embed.Provider)
	v.SetDefault("embed.dimensions", d.Embed.Dimensions)
}

// LoadConfig loads configuration rooted at the current working directory.
func LoadConfig() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return NewLoader(wd).Load()
}

// LoadConfigFromDir loads configuration rooted at a specific directory.
func LoadConfigFromDir(rootDir string) (*Config, error) {
	return NewLoader(rootDir).Load()
}
