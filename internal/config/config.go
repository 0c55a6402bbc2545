// Package config loads graphstore's engine configuration from
// .graphstore/config.yml, with environment variable overrides layered on
// top of the file values.
package config

// Config is the complete engine configuration: everything a driver,
// watcher, and vectorization worker need to start that isn't discovered
// from the database itself.
type Config struct {
	Storage  StorageConfig  `yaml:"storage" mapstructure:"storage"`
	Paths    PathsConfig    `yaml:"paths" mapstructure:"paths"`
	Chunking ChunkingConfig `yaml:"chunking" mapstructure:"chunking"`
	Embed    EmbedConfig    `yaml:"embed" mapstructure:"embed"`
}

// StorageConfig is a typed union: Kind selects which of InProcess or
// Proxy is populated, and NewFacade (storage.go) converts the selected
// one into the storage.DriverConfig/storage.ProxyConfig the facade wants.
type StorageConfig struct {
	Kind      string               `yaml:"kind" mapstructure:"kind"` // "inprocess" or "proxy"
	InProcess *InProcessStorageOptions `yaml:"inprocess,omitempty" mapstructure:"inprocess"`
	Proxy     *ProxyStorageOptions     `yaml:"proxy,omitempty" mapstructure:"proxy"`
}

// InProcessStorageOptions configures a direct, single-process driver.
type InProcessStorageOptions struct {
	Path      string `yaml:"path" mapstructure:"path"`
	BackupDir string `yaml:"backup_dir" mapstructure:"backup_dir"`
}

// ProxyStorageOptions configures a driver that forwards every call to a
// sibling worker process over a Unix socket.
type ProxyStorageOptions struct {
	Path                  string  `yaml:"path" mapstructure:"path"`
	BackupDir             string  `yaml:"backup_dir" mapstructure:"backup_dir"`
	SocketPath            string  `yaml:"socket_path" mapstructure:"socket_path"`
	CommandTimeoutSeconds float64 `yaml:"command_timeout_seconds" mapstructure:"command_timeout_seconds"`
	PollIntervalSeconds   float64 `yaml:"poll_interval_seconds" mapstructure:"poll_interval_seconds"`
}

// PathsConfig controls which files the watcher and bulk indexer consider,
// keyed by extension rather than glob since the parser boundary
// (internal/storage.Parser) is per-language rather than per-glob.
type PathsConfig struct {
	Extensions []string `yaml:"extensions" mapstructure:"extensions"`
	Ignore     []string `yaml:"ignore" mapstructure:"ignore"` // directory names skipped entirely
}

// ChunkingConfig controls the vectorization worker's page sizes and the
// embedding model name recorded on each chunk.
type ChunkingConfig struct {
	FilePageSize   int    `yaml:"file_page_size" mapstructure:"file_page_size"`
	ChunkPageSize  int    `yaml:"chunk_page_size" mapstructure:"chunk_page_size"`
	SaveEvery      int    `yaml:"save_every" mapstructure:"save_every"`
	EmbeddingModel string `yaml:"embedding_model" mapstructure:"embedding_model"`
}

// EmbedConfig selects the embedding provider. "mock" is the only built-in
// implementation; production callers supply their own embed.Provider.
type EmbedConfig struct {
	Provider   string `yaml:"provider" mapstructure:"provider"` // "mock"
	Dimensions int    `yaml:"dimensions" mapstructure:"dimensions"`
}

// Default returns a configuration with sensible defaults for running
// against a single local project.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Kind: "inprocess",
			InProcess: &InProcessStorageOptions{
				Path:      ".graphstore/graph.db",
				BackupDir: ".graphstore/backups",
			},
		},
		Paths: PathsConfig{
			Extensions: []string{".go", ".py", ".ts", ".tsx", ".js", ".jsx", ".java", ".rs"},
			Ignore:     []string{".git", "node_modules", "vendor", "dist", "build", "__pycache__"},
		},
		Chunking: ChunkingConfig{
			FilePageSize:   50,
			ChunkPageSize:  200,
			SaveEvery:      100,
			EmbeddingModel: "mock",
		},
		Embed: EmbedConfig{
			Provider:   "mock",
			Dimensions: 384,
		},
	}
}
