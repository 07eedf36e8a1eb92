package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aalhour/bcache/internal/logging"
)

// Duration accepts Go duration strings ("250ms", "5s") or plain seconds.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = 0
		return nil
	}
	if v, err := time.ParseDuration(raw); err == nil {
		*d = Duration(v)
		return nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue returns d as a time.Duration.
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// Config is the configuration file of the command-line tools.
type Config struct {
	Cache    CacheConfig          `mapstructure:"cache"`
	Device   DeviceConfig         `mapstructure:"device"`
	Log      logging.OutputConfig `mapstructure:"log"`
	Server   ServerConfig         `mapstructure:"server"`
	Throttle ThrottleConfig       `mapstructure:"throttle"`
}

// CacheConfig sizes the buffer pool.
type CacheConfig struct {
	NumBuffers int `mapstructure:"num_buffers"`
	NumShards  int `mapstructure:"num_shards"`
	BlockSize  int `mapstructure:"block_size"`
	// ShardHash is "identity" or "xxh3".
	ShardHash string `mapstructure:"shard_hash"`
}

// Device kinds.
const (
	DeviceMem   = "mem"
	DeviceFile  = "file"
	DeviceMinio = "minio"
)

// DeviceConfig selects and configures the backing device.
type DeviceConfig struct {
	Kind        string      `mapstructure:"kind"`
	Dir         string      `mapstructure:"dir"`
	Compression string      `mapstructure:"compression"`
	Checksum    string      `mapstructure:"checksum"`
	Latency     Duration    `mapstructure:"latency"`
	Minio       MinioConfig `mapstructure:"minio"`
}

// MinioConfig locates the bucket of a minio device.
type MinioConfig struct {
	Endpoint  string   `mapstructure:"endpoint"`
	AccessKey string   `mapstructure:"access_key"`
	SecretKey string   `mapstructure:"secret_key"`
	Bucket    string   `mapstructure:"bucket"`
	Prefix    string   `mapstructure:"prefix"`
	Secure    bool     `mapstructure:"secure"`
	Timeout   Duration `mapstructure:"timeout"`
}

// ServerConfig configures the HTTP block service.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
	// MaxInflight bounds concurrent block requests. Keep it below
	// cache.num_buffers so requests queue instead of exhausting the pool.
	MaxInflight  int      `mapstructure:"max_inflight"`
	ReadTimeout  Duration `mapstructure:"read_timeout"`
	WriteTimeout Duration `mapstructure:"write_timeout"`
}

// ThrottleConfig rate-limits device I/O. Zero BytesPerSecond disables it.
type ThrottleConfig struct {
	BytesPerSecond int64 `mapstructure:"bytes_per_second"`
	// Mode is "reads", "writes" or "all".
	Mode string `mapstructure:"mode"`
}
