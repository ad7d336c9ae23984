// Package config loads the settings shared by the command-line tools and
// turns them into a mounted file system.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/dargueta/flatdisk"
	"github.com/dargueta/flatdisk/drivers/common"
	"github.com/dargueta/flatdisk/drivers/common/blockcache"
	"github.com/dargueta/flatdisk/drivers/flatfs"
	"github.com/hashicorp/go-multierror"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

const envVarPrefix = "FLATDISK"

const (
	BackendStream = "stream"
	BackendGoose  = "goose"
	BackendMemory = "memory"
)

type Config struct {
	ImagePath         string `envconfig:"FLATDISK_IMAGE"               yaml:"image"`
	Backend           string `envconfig:"FLATDISK_BACKEND"             yaml:"backend"`
	TotalBlocks       int    `envconfig:"FLATDISK_TOTAL_BLOCKS"        yaml:"totalBlocks"`
	InodeCount        int    `envconfig:"FLATDISK_INODES"              yaml:"inodes"`
	KeepIndirectBlock bool   `envconfig:"FLATDISK_KEEP_INDIRECT_BLOCK" yaml:"keepIndirectBlock"`
	StrictWhence      bool   `envconfig:"FLATDISK_STRICT_WHENCE"       yaml:"strictWhence"`
	Cache             bool   `envconfig:"FLATDISK_CACHE"               yaml:"cache"`
	LogLevel          string `envconfig:"FLATDISK_LOG_LEVEL"           yaml:"logLevel"`
}

// DefaultConfig returns the settings used for anything not given in the file
// or the environment. A TotalBlocks of 0 means the size of an existing image.
func DefaultConfig() Config {
	return Config{
		ImagePath:  "flatdisk.img",
		Backend:    BackendStream,
		InodeCount: flatfs.DefaultInodeCount,
		LogLevel:   "info",
	}
}

// LoadConfig reads the YAML file at `path`, then applies overrides from
// FLATDISK_* environment variables. If `path` is empty, FLATDISK_CONFIG_FILE is
// used instead; if that isn't set either, only the environment is read.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(envVarPrefix + "_CONFIG_FILE")
	}

	c := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, &c); err != nil {
			return nil, fmt.Errorf("unmarshaling config file: %w", err)
		}
	}

	if err := envconfig.Process(envVarPrefix, &c); err != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", err)
	}
	return &c, nil
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendStream:
		if c.ImagePath == "" {
			return missing("image", "IMAGE")
		}
	case BackendGoose:
		if c.ImagePath == "" {
			return missing("image", "IMAGE")
		}
		if c.TotalBlocks <= 0 {
			return missing("totalBlocks", "TOTAL_BLOCKS")
		}
	case BackendMemory:
		if c.TotalBlocks <= 0 {
			return missing("totalBlocks", "TOTAL_BLOCKS")
		}
	default:
		return fmt.Errorf(
			"invalid backend %q: expected %s, %s, or %s",
			c.Backend,
			BackendStream,
			BackendGoose,
			BackendMemory,
		)
	}

	if c.TotalBlocks < 0 || c.TotalBlocks > flatfs.MaxTotalBlocks {
		return fmt.Errorf(
			"totalBlocks must be in [0, %d], got %d", flatfs.MaxTotalBlocks, c.TotalBlocks,
		)
	}
	if c.InodeCount <= 0 {
		return fmt.Errorf("inodes must be positive, got %d", c.InodeCount)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

func missing(yamlName, envName string) error {
	return fmt.Errorf(
		"missing required configuration: %s / %s_%s",
		yamlName,
		envVarPrefix,
		envName,
	)
}

// Level parses LogLevel. An empty string means info.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return level, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// Logger returns a text logger writing to `w` at the configured level.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, err := c.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Device is a block device that holds resources until it's closed.
type Device interface {
	flatdisk.BlockDevice
	io.Closer
}

// OpenDevice opens the device selected by Backend, behind a write-back cache if
// Cache is set.
func (c *Config) OpenDevice() (Device, error) {
	device, err := c.openBackend()
	if err != nil {
		return nil, err
	}
	if c.Cache {
		return blockcache.New(device), nil
	}
	return device, nil
}

func (c *Config) openBackend() (Device, error) {
	switch c.Backend {
	case BackendStream:
		device, err := common.NewFileDevice(c.ImagePath, c.TotalBlocks)
		if err != nil {
			return nil, err
		}
		return device, nil
	case BackendGoose:
		device, err := common.NewGooseFileDevice(c.ImagePath, c.TotalBlocks)
		if err != nil {
			return nil, err
		}
		return device, nil
	case BackendMemory:
		return common.NewMemoryDevice(c.TotalBlocks), nil
	}
	return nil, flatdisk.ErrInvalidArgument.WithMessage(
		fmt.Sprintf("invalid backend %q", c.Backend),
	)
}

// Options returns the mount options for these settings.
func (c *Config) Options(logger *slog.Logger) flatfs.Options {
	return flatfs.Options{
		DefaultInodes:     c.InodeCount,
		KeepIndirectBlock: c.KeepIndirectBlock,
		StrictWhence:      c.StrictWhence,
		Logger:            logger,
	}
}

// Mount opens the device and mounts the file system on it. The caller must
// sync the file system and close the device when done.
func (c *Config) Mount(logger *slog.Logger) (*flatfs.FileSystem, Device, error) {
	device, err := c.OpenDevice()
	if err != nil {
		return nil, nil, err
	}

	fs, err := flatfs.NewFileSystem(device, c.Options(logger))
	if err != nil {
		return nil, nil, multierror.Append(err, device.Close()).ErrorOrNil()
	}
	return fs, device, nil
}
