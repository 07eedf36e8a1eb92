package config

import (
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/aalhour/bcache"
	"github.com/aalhour/bcache/internal/checksum"
	"github.com/aalhour/bcache/internal/compression"
	"github.com/aalhour/bcache/internal/device"
	"github.com/aalhour/bcache/internal/logging"
	"github.com/aalhour/bcache/internal/vfs"
)

// ShardHash returns the configured shard hash.
func (c *Config) ShardHash() (bcache.HashFunc, error) {
	switch c.Cache.ShardHash {
	case "", "identity":
		return bcache.IdentityHash, nil
	case "xxh3":
		return bcache.XXH3Hash, nil
	default:
		return nil, fmt.Errorf("config: unknown shard hash %q", c.Cache.ShardHash)
	}
}

// ThrottleMode returns the configured rate limiter mode.
func (c *Config) ThrottleMode() (bcache.RateLimiterMode, error) {
	switch c.Throttle.Mode {
	case "reads":
		return bcache.RateLimiterModeReadsOnly, nil
	case "writes":
		return bcache.RateLimiterModeWritesOnly, nil
	case "", "all":
		return bcache.RateLimiterModeAllIO, nil
	default:
		return 0, fmt.Errorf("config: unknown throttle mode %q", c.Throttle.Mode)
	}
}

// CacheOptions returns cache options for the [cache] section.
func (c *Config) CacheOptions(logger logging.Logger) (*bcache.Options, error) {
	hash, err := c.ShardHash()
	if err != nil {
		return nil, err
	}
	opts := bcache.DefaultOptions()
	opts.NumBuffers = c.Cache.NumBuffers
	opts.NumShards = c.Cache.NumShards
	opts.BlockSize = c.Cache.BlockSize
	opts.ShardHash = hash
	opts.Logger = logger
	return opts, nil
}

// OpenDevice opens the device of the [device] section, wrapped in a throttle
// when [throttle] sets a rate. The returned close function releases it.
func (c *Config) OpenDevice(logger logging.Logger) (bcache.Device, func() error, error) {
	dev, closeFn, err := c.openBaseDevice(logger)
	if err != nil {
		return nil, nil, err
	}
	if c.Throttle.BytesPerSecond > 0 {
		mode, err := c.ThrottleMode()
		if err != nil {
			_ = closeFn()
			return nil, nil, err
		}
		dev = bcache.NewThrottledDevice(dev, bcache.NewGenericRateLimiter(c.Throttle.BytesPerSecond), mode)
	}
	return dev, closeFn, nil
}

func (c *Config) openBaseDevice(logger logging.Logger) (bcache.Device, func() error, error) {
	noop := func() error { return nil }
	d := c.Device
	blockSize := c.Cache.BlockSize

	switch d.Kind {
	case DeviceMem:
		m := device.NewMemDevice(blockSize)
		m.SetLatency(d.Latency.DurationValue())
		return m, noop, nil

	case DeviceFile:
		comp, err := compression.ParseType(d.Compression)
		if err != nil {
			return nil, nil, err
		}
		cs, err := checksum.ParseType(d.Checksum)
		if err != nil {
			return nil, nil, err
		}
		f, err := device.OpenFileDevice(vfs.Default(), d.Dir, device.FileOptions{
			BlockSize:   blockSize,
			Compression: comp,
			Checksum:    cs,
			Logger:      logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return f, f.Close, nil

	case DeviceMinio:
		m := d.Minio
		client, err := minio.New(m.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(m.AccessKey, m.SecretKey, ""),
			Secure: m.Secure,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("config: minio client: %w", err)
		}
		store := device.NewMinioStore(client, m.Bucket, m.Prefix)
		return device.NewObjectDevice(store, blockSize, m.Timeout.DurationValue(), logger), noop, nil

	default:
		return nil, nil, fmt.Errorf("config: unknown device kind %q", d.Kind)
	}
}
