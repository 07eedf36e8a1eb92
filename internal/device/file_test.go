package device

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aalhour/bcache/internal/checksum"
	"github.com/aalhour/bcache/internal/compression"
	"github.com/aalhour/bcache/internal/logging"
	"github.com/aalhour/bcache/internal/vfs"
)

const testBlockSize = 256

func openTestDevice(t *testing.T, fs vfs.FS, dir string, comp compression.Type, cs checksum.Type) *FileDevice {
	t.Helper()
	d, err := OpenFileDevice(fs, dir, FileOptions{
		BlockSize:   testBlockSize,
		Compression: comp,
		Checksum:    cs,
		Logger:      logging.Discard,
	})
	require.NoError(t, err)
	return d
}

// compressibleBlock returns a block that every codec shrinks.
func compressibleBlock(seed byte) []byte {
	p := make([]byte, testBlockSize)
	for i := range p {
		p[i] = seed + byte(i/32)
	}
	return p
}

func randomBlock(r *rand.Rand) []byte {
	p := make([]byte, testBlockSize)
	for i := range p {
		p[i] = byte(r.Uint32())
	}
	return p
}

func TestFileDeviceRoundTrip(t *testing.T) {
	codecs := []compression.Type{
		compression.NoCompression,
		compression.SnappyCompression,
		compression.ZlibCompression,
		compression.LZ4Compression,
		compression.LZ4HCCompression,
		compression.ZstdCompression,
	}
	sums := []checksum.Type{checksum.TypeNoChecksum, checksum.TypeCRC32C, checksum.TypeXXH3}

	for _, comp := range codecs {
		for _, cs := range sums {
			t.Run(fmt.Sprintf("%s/%s", comp, cs), func(t *testing.T) {
				d := openTestDevice(t, vfs.NewMemFS(), "/img", comp, cs)
				defer func() { require.NoError(t, d.Close()) }()

				r := rand.New(rand.NewPCG(1, 2))
				blocks := map[uint64][]byte{
					0: compressibleBlock(1),
					3: randomBlock(r),
					9: compressibleBlock(7),
				}
				for blockNo, data := range blocks {
					require.NoError(t, d.WriteBlock(1, blockNo, data))
				}

				p := make([]byte, testBlockSize)
				for blockNo, want := range blocks {
					require.NoError(t, d.ReadBlock(1, blockNo, p))
					assert.Equal(t, want, p, "block %d", blockNo)
				}

				// Holes and blocks past the end read as zeros.
				for _, blockNo := range []uint64{1, 8, 100} {
					require.NoError(t, d.ReadBlock(1, blockNo, p))
					assert.Equal(t, make([]byte, testBlockSize), p, "block %d", blockNo)
				}
			})
		}
	}
}

func TestFileDeviceOSFilesystem(t *testing.T) {
	dir := t.TempDir()
	d := openTestDevice(t, vfs.Default(), dir, compression.SnappyCompression, checksum.TypeCRC32C)

	want := compressibleBlock(3)
	require.NoError(t, d.WriteBlock(7, 2, want))
	require.NoError(t, d.Sync())
	require.NoError(t, d.Close())

	assert.FileExists(t, filepath.Join(dir, ImageName(7)))

	d = openTestDevice(t, vfs.Default(), dir, compression.SnappyCompression, checksum.TypeCRC32C)
	defer func() { require.NoError(t, d.Close()) }()
	p := make([]byte, testBlockSize)
	require.NoError(t, d.ReadBlock(7, 2, p))
	assert.Equal(t, want, p)
}

func TestFileDeviceDirectoryLock(t *testing.T) {
	fs := vfs.NewMemFS()
	d := openTestDevice(t, fs, "/img", compression.NoCompression, checksum.TypeCRC32C)

	_, err := OpenFileDevice(fs, "/img", FileOptions{BlockSize: testBlockSize, Logger: logging.Discard})
	require.Error(t, err, "second open of a locked directory must fail")

	require.NoError(t, d.Close())
	d2 := openTestDevice(t, fs, "/img", compression.NoCompression, checksum.TypeCRC32C)
	require.NoError(t, d2.Close())
}

func TestFileDeviceClosed(t *testing.T) {
	d := openTestDevice(t, vfs.NewMemFS(), "/img", compression.NoCompression, checksum.TypeNoChecksum)
	require.NoError(t, d.Close())
	require.NoError(t, d.Close(), "second Close is a no-op")

	p := make([]byte, testBlockSize)
	require.ErrorIs(t, d.ReadBlock(1, 1, p), ErrClosed)
	require.ErrorIs(t, d.WriteBlock(1, 1, p), ErrClosed)
	require.ErrorIs(t, d.Sync(), ErrClosed)
}

func TestFileDeviceChecksumDetectsCorruption(t *testing.T) {
	for _, cs := range []checksum.Type{checksum.TypeCRC32C, checksum.TypeXXH3} {
		t.Run(cs.String(), func(t *testing.T) {
			fs := vfs.NewMemFS()
			d := openTestDevice(t, fs, "/img", compression.NoCompression, cs)
			defer func() { require.NoError(t, d.Close()) }()

			require.NoError(t, d.WriteBlock(1, 2, compressibleBlock(5)))

			// Flip one payload byte of block 2 behind the device's back.
			f, err := fs.OpenFile(filepath.Join("/img", ImageName(1)), false)
			require.NoError(t, err)
			off := int64(2*SlotSize(testBlockSize) + slotHeaderSize + 10)
			b := make([]byte, 1)
			_, err = f.ReadAt(b, off)
			require.NoError(t, err)
			b[0] ^= 0x01
			_, err = f.WriteAt(b, off)
			require.NoError(t, err)
			require.NoError(t, f.Close())

			err = d.ReadBlock(1, 2, make([]byte, testBlockSize))
			require.ErrorIs(t, err, ErrCorruption)
			assert.Contains(t, err.Error(), "dev-1.img block 2")
		})
	}
}

func TestFileDeviceRejectsBadHeader(t *testing.T) {
	fs := vfs.NewMemFS()
	d := openTestDevice(t, fs, "/img", compression.NoCompression, checksum.TypeNoChecksum)
	defer func() { require.NoError(t, d.Close()) }()
	require.NoError(t, d.WriteBlock(1, 0, compressibleBlock(1)))

	f, err := fs.OpenFile(filepath.Join("/img", ImageName(1)), false)
	require.NoError(t, err)
	// Stored length larger than a block.
	_, err = f.WriteAt([]byte{0xff, 0xff, 0, 0}, 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.ErrorIs(t, d.ReadBlock(1, 0, make([]byte, testBlockSize)), ErrCorruption)
}

func TestFileDeviceInjectedErrors(t *testing.T) {
	ffs := vfs.NewFaultInjectionFS(vfs.NewMemFS())
	d := openTestDevice(t, ffs, "/img", compression.NoCompression, checksum.TypeCRC32C)
	defer func() { _ = d.Close() }()

	require.NoError(t, d.WriteBlock(1, 0, compressibleBlock(1)))

	ffs.InjectWriteError("")
	err := d.WriteBlock(1, 1, compressibleBlock(2))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write dev-1.img block 1")

	ffs.ClearErrors()
	ffs.InjectReadError("")
	require.Error(t, d.ReadBlock(1, 0, make([]byte, testBlockSize)))

	ffs.ClearErrors()
	ffs.InjectSyncError()
	require.Error(t, d.Sync())
	ffs.ClearErrors()
}

func TestFileDeviceDropUnsynced(t *testing.T) {
	ffs := vfs.NewFaultInjectionFS(vfs.NewMemFS())
	d := openTestDevice(t, ffs, "/img", compression.LZ4Compression, checksum.TypeXXH3)
	defer func() { _ = d.Close() }()

	synced := compressibleBlock(1)
	require.NoError(t, d.WriteBlock(1, 0, synced))
	require.NoError(t, d.Sync())

	require.NoError(t, d.WriteBlock(1, 0, compressibleBlock(9)))
	require.NoError(t, d.WriteBlock(1, 4, compressibleBlock(4)))
	n, ok := ffs.UnsyncedWrites(filepath.Join("/img", ImageName(1)))
	require.True(t, ok)
	assert.Equal(t, 2, n)

	require.NoError(t, ffs.DropUnsyncedData())

	p := make([]byte, testBlockSize)
	require.NoError(t, d.ReadBlock(1, 0, p))
	assert.Equal(t, synced, p, "unsynced overwrite must be rolled back")
	require.NoError(t, d.ReadBlock(1, 4, p))
	assert.Equal(t, make([]byte, testBlockSize), p, "unsynced block must be gone")
}

func TestFileDeviceOptions(t *testing.T) {
	_, err := OpenFileDevice(vfs.NewMemFS(), "/img", FileOptions{})
	require.Error(t, err)

	_, err = OpenFileDevice(vfs.NewMemFS(), "/img", FileOptions{BlockSize: 8, Compression: compression.Type(42)})
	require.Error(t, err)

	d := openTestDevice(t, vfs.NewMemFS(), "/img", compression.NoCompression, checksum.TypeNoChecksum)
	defer func() { require.NoError(t, d.Close()) }()
	assert.Equal(t, testBlockSize, d.BlockSize())
	require.ErrorIs(t, d.WriteBlock(1, 0, make([]byte, 3)), ErrBlockSize)
}

func TestScanImage(t *testing.T) {
	fs := vfs.NewMemFS()
	d := openTestDevice(t, fs, "/img", compression.ZstdCompression, checksum.TypeCRC32C)
	require.NoError(t, d.WriteBlock(2, 1, compressibleBlock(1)))
	require.NoError(t, d.WriteBlock(2, 3, randomBlock(rand.New(rand.NewPCG(3, 4)))))
	require.NoError(t, d.Close())

	var written []uint64
	var codecs []compression.Type
	err := ScanImage(fs, filepath.Join("/img", ImageName(2)), testBlockSize, func(blockNo uint64, s Slot, err error) error {
		require.NoError(t, err)
		if !s.Written {
			return nil
		}
		require.NoError(t, s.Verify(checksum.TypeCRC32C))
		p := make([]byte, testBlockSize)
		require.NoError(t, s.Decode(p))
		written = append(written, blockNo)
		codecs = append(codecs, s.Compression)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 3}, written)
	assert.Equal(t, []compression.Type{compression.ZstdCompression, compression.NoCompression}, codecs,
		"random data is stored raw")

	stop := errors.New("stop")
	calls := 0
	err = ScanImage(fs, filepath.Join("/img", ImageName(2)), testBlockSize, func(uint64, Slot, error) error {
		calls++
		return stop
	})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)

	require.Error(t, ScanImage(fs, "/img/missing.img", testBlockSize, nil))
}

func TestSlotVerifyMismatch(t *testing.T) {
	buf := make([]byte, SlotSize(testBlockSize))
	require.NoError(t, encodeSlot(buf, compressibleBlock(2), compression.NoCompression, checksum.TypeCRC32C))

	s, err := decodeSlot(buf, testBlockSize)
	require.NoError(t, err)
	require.True(t, s.Written)
	require.NoError(t, s.Verify(checksum.TypeCRC32C))
	require.ErrorIs(t, s.Verify(checksum.TypeXXH3), ErrCorruption)

	// An all-zero slot is an unwritten block.
	s, err = decodeSlot(make([]byte, SlotSize(testBlockSize)), testBlockSize)
	require.NoError(t, err)
	assert.False(t, s.Written)
	p := bytes.Repeat([]byte{1}, testBlockSize)
	require.NoError(t, s.Decode(p))
	assert.Equal(t, make([]byte, testBlockSize), p)
}
