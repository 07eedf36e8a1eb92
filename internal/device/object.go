package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/aalhour/bcache/internal/logging"
)

// ErrObjectNotFound is returned by an ObjectStore for a missing object.
var ErrObjectNotFound = errors.New("device: object not found")

// ObjectStore is the subset of an object storage API that ObjectDevice needs.
type ObjectStore interface {
	// Get returns the object body, or ErrObjectNotFound.
	Get(ctx context.Context, name string) ([]byte, error)
	// Put stores data as the object body, replacing any previous body.
	Put(ctx context.Context, name string, data []byte) error
}

// ObjectDevice stores each block as the object "<dev>/<blockNo>".
type ObjectDevice struct {
	store     ObjectStore
	blockSize int
	timeout   time.Duration
	logger    logging.Logger
}

// DefaultObjectTimeout bounds each object operation.
const DefaultObjectTimeout = 10 * time.Second

// NewObjectDevice creates a device over store. A zero timeout uses
// DefaultObjectTimeout.
func NewObjectDevice(store ObjectStore, blockSize int, timeout time.Duration, logger logging.Logger) *ObjectDevice {
	if timeout <= 0 {
		timeout = DefaultObjectTimeout
	}
	return &ObjectDevice{
		store:     store,
		blockSize: blockSize,
		timeout:   timeout,
		logger:    logging.OrDefault(logger),
	}
}

// ObjectName returns the object name of a block, relative to the store prefix.
func ObjectName(dev uint32, blockNo uint64) string {
	return strconv.FormatUint(uint64(dev), 10) + "/" + strconv.FormatUint(blockNo, 10)
}

// ReadBlock implements bcache.Device.
func (d *ObjectDevice) ReadBlock(dev uint32, blockNo uint64, p []byte) error {
	if err := checkSize(p, d.blockSize); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	name := ObjectName(dev, blockNo)
	data, err := d.store.Get(ctx, name)
	switch {
	case errors.Is(err, ErrObjectNotFound):
		clear(p)
		return nil
	case err != nil:
		return fmt.Errorf("device: get object %s: %w", name, err)
	case len(data) != d.blockSize:
		d.logger.Errorf("%sobject %s has %d bytes, want %d", logging.NSDevice, name, len(data), d.blockSize)
		return fmt.Errorf("%w: object %s has %d bytes, want %d", ErrCorruption, name, len(data), d.blockSize)
	}
	copy(p, data)
	return nil
}

// WriteBlock implements bcache.Device.
func (d *ObjectDevice) WriteBlock(dev uint32, blockNo uint64, p []byte) error {
	if err := checkSize(p, d.blockSize); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	name := ObjectName(dev, blockNo)
	if err := d.store.Put(ctx, name, p); err != nil {
		return fmt.Errorf("device: put object %s: %w", name, err)
	}
	return nil
}

// MinioStore implements ObjectStore for MinIO and S3-compatible storage.
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioStore creates a store for bucket. prefix is prepended to every
// object name (e.g. "blocks/").
func NewMinioStore(client *minio.Client, bucket, prefix string) *MinioStore {
	return &MinioStore{client: client, bucket: bucket, prefix: prefix}
}

func (s *MinioStore) key(name string) string {
	return path.Join(s.prefix, name)
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

// Get implements ObjectStore.
func (s *MinioStore) Get(ctx context.Context, name string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(name), minio.GetObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrObjectNotFound
		}
		return nil, err
	}
	defer func() { _ = obj.Close() }()

	// GetObject is lazy; a missing key surfaces on the first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrObjectNotFound
		}
		return nil, err
	}
	return data, nil
}

// Put implements ObjectStore.
func (s *MinioStore) Put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(name), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	return err
}

// EnsureBucket creates the bucket if it does not exist.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
}
