package config

import (
	"errors"
	"fmt"

	"github.com/aalhour/bcache/internal/checksum"
	"github.com/aalhour/bcache/internal/compression"
	"github.com/aalhour/bcache/internal/logging"
)

// Validate checks every section and returns the first FieldError found.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil config")
	}

	cc := c.Cache
	if cc.NumShards < 1 {
		return newFieldError("cache.num_shards", "must be >= 1")
	}
	if cc.NumBuffers < cc.NumShards {
		return newFieldError("cache.num_buffers", fmt.Sprintf("must be >= cache.num_shards (%d)", cc.NumShards))
	}
	if cc.BlockSize <= 0 {
		return newFieldError("cache.block_size", "must be > 0")
	}
	if _, err := c.ShardHash(); err != nil {
		return newFieldError("cache.shard_hash", "must be identity or xxh3")
	}

	d := c.Device
	switch d.Kind {
	case DeviceMem:
	case DeviceFile:
		if d.Dir == "" {
			return newFieldError("device.dir", "required for file devices")
		}
	case DeviceMinio:
		if d.Minio.Endpoint == "" {
			return newFieldError("device.minio.endpoint", "required for minio devices")
		}
		if d.Minio.Bucket == "" {
			return newFieldError("device.minio.bucket", "required for minio devices")
		}
	default:
		return newFieldError("device.kind", "must be mem, file or minio")
	}
	if _, err := compression.ParseType(d.Compression); err != nil {
		return newFieldError("device.compression", "must be none, snappy, zlib, lz4, lz4hc or zstd")
	}
	if _, err := checksum.ParseType(d.Checksum); err != nil {
		return newFieldError("device.checksum", "must be none, crc32c or xxh3")
	}
	if d.Latency.DurationValue() < 0 {
		return newFieldError("device.latency", "must not be negative")
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return newFieldError("log.level", "must be error, warn, info or debug")
	}

	s := c.Server
	if s.Listen == "" {
		return newFieldError("server.listen", "must not be empty")
	}
	if s.MaxInflight < 1 {
		return newFieldError("server.max_inflight", "must be >= 1")
	}

	if c.Throttle.BytesPerSecond < 0 {
		return newFieldError("throttle.bytes_per_second", "must not be negative")
	}
	if _, err := c.ThrottleMode(); err != nil {
		return newFieldError("throttle.mode", "must be reads, writes or all")
	}
	return nil
}
