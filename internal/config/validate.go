package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidStorageKind indicates an unrecognized storage.kind value.
	ErrInvalidStorageKind = errors.New("invalid storage kind")

	// ErrMissingStorageOptions indicates storage.kind was set but its
	// matching options block is empty.
	ErrMissingStorageOptions = errors.New("missing storage options")

	// ErrEmptyPath indicates a required database path was left blank.
	ErrEmptyPath = errors.New("empty path")

	// ErrInvalidChunkSize indicates a non-positive chunking page size.
	ErrInvalidChunkSize = errors.New("invalid chunk size")

	// ErrInvalidDimensions indicates a non-positive embedding dimension.
	ErrInvalidDimensions = errors.New("invalid dimensions")

	// ErrInvalidProvider indicates an unsupported embedding provider.
	ErrInvalidProvider = errors.New("invalid embedding provider")
)

// Validate checks that the configuration is valid and complete.
func Validate(cfg *Config) error {
	var errs []error

	if err := validateStorage(&cfg.Storage); err != nil {
		errs = append(errs, err)
	}
	if err := validateChunking(&cfg.Chunking); err != nil {
		errs = append(errs, err)
	}
	if err := validateEmbed(&cfg.Embed); err != nil {
		errs = append(errs, err)
	}

	return joinErrors(errs)
}

func validateStorage(cfg *StorageConfig) error {
	switch cfg.Kind {
	case "", "inprocess":
		if cfg.InProcess == nil {
			return fmt.Errorf("%w: storage.kind=inprocess needs storage.inprocess", ErrMissingStorageOptions)
		}
		if strings.TrimSpace(cfg.InProcess.Path) == "" {
			return fmt.Errorf("%w: storage.inprocess.path is required", ErrEmptyPath)
		}
	case "proxy":
		if cfg.Proxy == nil {
			return fmt.Errorf("%w: storage.kind=proxy needs storage.proxy", ErrMissingStorageOptions)
		}
		if strings.TrimSpace(cfg.Proxy.SocketPath) == "" {
			return fmt.Errorf("%w: storage.proxy.socket_path is required", ErrEmptyPath)
		}
	default:
		return fmt.Errorf("%w: %q (must be 'inprocess' or 'proxy')", ErrInvalidStorageKind, cfg.Kind)
	}
	return nil
}

func validateChunking(cfg *ChunkingConfig) error {
	var errs []error
	if cfg.FilePageSize <= 0 {
		errs = append(errs, fmt.Errorf("%w: chunking.file_page_size must be positive, got %d", ErrInvalidChunkSize, cfg.FilePageSize))
	}
	if cfg.ChunkPageSize <= 0 {
		errs = append(errs, fmt.Errorf("%w: chunking.chunk_page_size must be positive, got %d", ErrInvalidChunkSize, cfg.ChunkPageSize))
	}
	if cfg.SaveEvery <= 0 {
		errs = append(errs, fmt.Errorf("%w: chunking.save_every must be positive, got %d", ErrInvalidChunkSize, cfg.SaveEvery))
	}
	return joinErrors(errs)
}

func validateEmbed(cfg *EmbedConfig) error {
	if cfg.Provider != "mock" {
		return fmt.Errorf("%w: %q (only 'mock' is built in)", ErrInvalidProvider, cfg.Provider)
	}
	if cfg.Dimensions <= 0 {
		return fmt.Errorf("%w: embed.dimensions must be positive, got %d", ErrInvalidDimensions, cfg.Dimensions)
	}
	return nil
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return fmt.Errorf("validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}
