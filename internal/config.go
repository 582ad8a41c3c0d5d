package internal

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/tuannm99/novahtree/internal/htree"
	"github.com/tuannm99/novahtree/internal/store"
)

const envPrefix = "NOVAHTREE"

type HTreeConfig struct {
	AppName string `mapstructure:"app_name"`

	Storage struct {
		Dir          string `mapstructure:"dir"`
		Base         string `mapstructure:"base"`
		PoolCapacity int    `mapstructure:"pool_capacity"`
		CacheMaxCost int64  `mapstructure:"cache_max_cost"`
	} `mapstructure:"storage"`

	Index struct {
		AddressBits       int  `mapstructure:"address_bits"`
		RawRecords        bool `mapstructure:"raw_records"`
		MaxInlineValue    int  `mapstructure:"max_inline_value"`
		DeleteMarkers     bool `mapstructure:"delete_markers"`
		VersionTimestamps bool `mapstructure:"version_timestamps"`
		// HashKeys makes the shell hash user keys with xxhash before
		// handing them to the index.
		HashKeys bool `mapstructure:"hash_keys"`
	} `mapstructure:"index"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "novahtree")
	v.SetDefault("storage.dir", "./data")
	v.SetDefault("storage.base", "index")
	v.SetDefault("storage.pool_capacity", 64)
	v.SetDefault("storage.cache_max_cost", 8<<20)
	v.SetDefault("index.address_bits", htree.DefaultAddressBits)
	v.SetDefault("index.raw_records", true)
	v.SetDefault("index.max_inline_value", htree.DefaultMaxInlineValue)
	v.SetDefault("index.delete_markers", false)
	v.SetDefault("index.version_timestamps", false)
	v.SetDefault("index.hash_keys", true)
	v.SetDefault("log.level", "info")
}

// LoadConfig reads a YAML config file. An empty path yields the defaults.
// NOVAHTREE_* environment variables override both, e.g.
// NOVAHTREE_INDEX_ADDRESS_BITS=8.
func LoadConfig(path string) (*HTreeConfig, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg HTreeConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Index.AddressBits < htree.MinAddressBits || cfg.Index.AddressBits > htree.MaxAddressBits {
		return nil, fmt.Errorf("config: index.address_bits %d not in [%d,%d]",
			cfg.Index.AddressBits, htree.MinAddressBits, htree.MaxAddressBits)
	}
	return &cfg, nil
}

func (c *HTreeConfig) HTreeOptions() htree.Options {
	return htree.Options{
		AddressBits:       c.Index.AddressBits,
		RawRecords:        c.Index.RawRecords,
		MaxInlineValue:    c.Index.MaxInlineValue,
		DeleteMarkers:     c.Index.DeleteMarkers,
		VersionTimestamps: c.Index.VersionTimestamps,
	}
}

func (c *HTreeConfig) StoreOptions() store.Options {
	return store.Options{
		PoolCapacity: c.Storage.PoolCapacity,
		CacheMaxCost: c.Storage.CacheMaxCost,
	}
}

// SetupLogger installs a text handler on stderr as the default slog logger.
func SetupLogger(level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("log level %q: %w", level, err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
	return nil
}
