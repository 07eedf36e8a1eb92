package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aalhour/bcache/internal/checksum"
	"github.com/aalhour/bcache/internal/compression"
	"github.com/aalhour/bcache/internal/device"
	"github.com/aalhour/bcache/internal/logging"
	"github.com/aalhour/bcache/internal/vfs"
)

const testBlockSize = 64

// writeImage writes blocks 0 and 2 of device 1 and returns the image path.
func writeImage(t *testing.T, fs vfs.FS) string {
	t.Helper()
	dir := "/img"
	d, err := device.OpenFileDevice(fs, dir, device.FileOptions{
		BlockSize:   testBlockSize,
		Compression: compression.SnappyCompression,
		Checksum:    checksum.TypeCRC32C,
		Logger:      logging.Discard,
	})
	if err != nil {
		t.Fatalf("OpenFileDevice: %v", err)
	}

	b0 := make([]byte, testBlockSize)
	copy(b0, "hello block zero")
	b2 := bytes.Repeat([]byte{0xab}, testBlockSize)
	if err := d.WriteBlock(1, 0, b0); err != nil {
		t.Fatalf("WriteBlock 0: %v", err)
	}
	if err := d.WriteBlock(1, 2, b2); err != nil {
		t.Fatalf("WriteBlock 2: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return filepath.Join(dir, device.ImageName(1))
}

func testOptions(fs vfs.FS, path string) dumpOptions {
	return dumpOptions{
		fs:        fs,
		path:      path,
		blockSize: testBlockSize,
		checksum:  checksum.TypeCRC32C,
	}
}

func TestScanListsWrittenBlocks(t *testing.T) {
	fs := vfs.NewMemFS()
	opts := testOptions(fs, writeImage(t, fs))

	var out bytes.Buffer
	if err := cmdScan(&out, opts); err != nil {
		t.Fatalf("cmdScan: %v", err)
	}
	got := out.String()
	for _, want := range []string{"block 0:", "hello block zer", "block 2:", "abababab", "Written blocks listed: 2"} {
		if !strings.Contains(got, want) {
			t.Errorf("scan output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "block 1:") {
		t.Errorf("unwritten block listed:\n%s", got)
	}

	out.Reset()
	opts.limit = 1
	if err := cmdScan(&out, opts); err != nil {
		t.Fatalf("cmdScan with limit: %v", err)
	}
	if !strings.Contains(out.String(), "Written blocks listed: 1") {
		t.Errorf("limit ignored:\n%s", out.String())
	}
}

func TestProperties(t *testing.T) {
	fs := vfs.NewMemFS()
	opts := testOptions(fs, writeImage(t, fs))

	var out bytes.Buffer
	if err := cmdProperties(&out, opts); err != nil {
		t.Fatalf("cmdProperties: %v", err)
	}
	got := out.String()
	for _, want := range []string{"Slots: 3", "Written blocks: 2", "Slot size: 73 bytes"} {
		if !strings.Contains(got, want) {
			t.Errorf("properties output missing %q:\n%s", want, got)
		}
	}
}

func TestCheckDetectsCorruption(t *testing.T) {
	fs := vfs.NewMemFS()
	path := writeImage(t, fs)
	opts := testOptions(fs, path)

	var out bytes.Buffer
	if err := cmdCheck(&out, opts); err != nil {
		t.Fatalf("cmdCheck on clean image: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "✓ Image is valid") {
		t.Errorf("clean image not reported valid:\n%s", out.String())
	}

	// Flip a payload byte of block 2.
	f, err := fs.OpenFile(path, false)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	off := int64(2*device.SlotSize(testBlockSize) + 6)
	b := make([]byte, 1)
	if _, err := f.ReadAt(b, off); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	b[0] ^= 0xff
	if _, err := f.WriteAt(b, off); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	_ = f.Close()

	out.Reset()
	if err := cmdCheck(&out, opts); err == nil {
		t.Fatalf("cmdCheck accepted a corrupt image:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "block 2:") {
		t.Errorf("corrupt block not named:\n%s", out.String())
	}
}

func TestRaw(t *testing.T) {
	fs := vfs.NewMemFS()
	opts := testOptions(fs, writeImage(t, fs))

	var out bytes.Buffer
	opts.block = 0
	if err := cmdRaw(&out, opts); err != nil {
		t.Fatalf("cmdRaw: %v", err)
	}
	if !strings.Contains(out.String(), "hello block zero") {
		t.Errorf("raw dump missing contents:\n%s", out.String())
	}

	out.Reset()
	opts.block = 1
	if err := cmdRaw(&out, opts); err != nil {
		t.Fatalf("cmdRaw unwritten: %v", err)
	}
	if !strings.Contains(out.String(), "never written") {
		t.Errorf("unwritten block not reported:\n%s", out.String())
	}

	opts.block = 9
	if err := cmdRaw(&out, opts); err == nil {
		t.Error("block past the end accepted")
	}
}

func TestPreview(t *testing.T) {
	if got := preview([]byte("abc"), false); got != "abc" {
		t.Errorf("preview = %q", got)
	}
	if got := preview([]byte{0, 1}, false); got != "0001" {
		t.Errorf("preview binary = %q", got)
	}
	if got := preview([]byte("abc"), true); got != "616263" {
		t.Errorf("preview hex = %q", got)
	}
}
