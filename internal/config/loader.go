// Package config loads the TOML configuration of the bcache command-line
// tools.
package config

import (
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads the TOML file at path, applies defaults and validates the
// result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("config: defaults do not validate: %v", err))
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cache.num_buffers", 30)
	v.SetDefault("cache.num_shards", 13)
	v.SetDefault("cache.block_size", 1024)
	v.SetDefault("cache.shard_hash", "identity")

	v.SetDefault("device.kind", DeviceMem)
	v.SetDefault("device.dir", "./data")
	v.SetDefault("device.compression", "none")
	v.SetDefault("device.checksum", "crc32c")
	v.SetDefault("device.latency", "0s")
	v.SetDefault("device.minio.prefix", "blocks")
	v.SetDefault("device.minio.timeout", "10s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 10)
	v.SetDefault("log.compress", true)

	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.max_inflight", 16)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("throttle.bytes_per_second", 0)
	v.SetDefault("throttle.mode", "all")
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("config: invalid duration %q", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("config: unsupported duration type %T", v)
		}
	}
}
