// Package main provides the blockdump CLI tool for inspecting block images
// written by the file device.
//
// Usage:
//
//	blockdump --file=<path> [options]
//
// Commands:
//
//	scan        List written blocks
//	properties  Show image layout and slot statistics
//	check       Verify every slot's checksum and payload
//	raw         Hex dump one decoded block
package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/aalhour/bcache/internal/checksum"
	"github.com/aalhour/bcache/internal/compression"
	"github.com/aalhour/bcache/internal/device"
	"github.com/aalhour/bcache/internal/vfs"
)

var (
	filePath     = flag.String("file", "", "Path to the block image (required)")
	command      = flag.String("command", "scan", "Command: scan, properties, check, raw")
	blockSize    = flag.Int("block-size", 1024, "Block size the image was written with")
	checksumType = flag.String("checksum", "crc32c", "Checksum type the image was written with")
	block        = flag.Uint64("block", 0, "Block number for raw")
	hexOutput    = flag.Bool("hex", false, "Print block previews in hex")
	limit        = flag.Int("limit", 0, "Limit number of blocks listed (0 = unlimited)")
	help         = flag.Bool("help", false, "Print help")
	verbose      = flag.Bool("v", false, "Verbose output during check")
)

// dumpOptions is the flag set as seen by the commands.
type dumpOptions struct {
	fs        vfs.FS
	path      string
	blockSize int
	checksum  checksum.Type
	block     uint64
	hex       bool
	limit     int
	verbose   bool
}

func main() {
	flag.Parse()

	if *help {
		printUsage()
		return
	}

	if *filePath == "" {
		fmt.Fprintln(os.Stderr, "Error: --file flag is required")
		printUsage()
		os.Exit(1)
	}

	cs, err := checksum.ParseType(*checksumType)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	opts := dumpOptions{
		fs:        vfs.Default(),
		path:      *filePath,
		blockSize: *blockSize,
		checksum:  cs,
		block:     *block,
		hex:       *hexOutput,
		limit:     *limit,
		verbose:   *verbose,
	}

	switch *command {
	case "scan":
		err = cmdScan(os.Stdout, opts)
	case "properties":
		err = cmdProperties(os.Stdout, opts)
	case "check":
		err = cmdCheck(os.Stdout, opts)
	case "raw":
		err = cmdRaw(os.Stdout, opts)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", *command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("blockdump - bcache block image inspection tool")
	fmt.Println()
	fmt.Println("Usage: blockdump --file=<path> [--command=<cmd>] [options]")
	fmt.Println()
	fmt.Println("Commands (--command):")
	fmt.Println("  scan        List written blocks (default)")
	fmt.Println("  properties  Show image layout and slot statistics")
	fmt.Println("  check       Verify every slot's checksum and payload")
	fmt.Println("  raw         Hex dump one decoded block (--block)")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
}

// preview returns the first bytes of a block for listing.
func preview(data []byte, asHex bool) string {
	const n = 16
	if len(data) > n {
		data = data[:n]
	}
	if asHex {
		return hex.EncodeToString(data)
	}
	// Print as string if printable, else hex
	for _, b := range data {
		if b < 32 || b > 126 {
			return hex.EncodeToString(data)
		}
	}
	return string(data)
}

func cmdScan(w io.Writer, opts dumpOptions) error {
	fmt.Fprintf(w, "Image: %s\n", opts.path)
	fmt.Fprintln(w, "---")

	errStop := errors.New("limit reached")
	data := make([]byte, opts.blockSize)
	count := 0
	err := device.ScanImage(opts.fs, opts.path, opts.blockSize, func(blockNo uint64, s device.Slot, err error) error {
		if err != nil {
			fmt.Fprintf(w, "block %d: %v\n", blockNo, err)
			return nil
		}
		if !s.Written {
			return nil
		}
		if err := s.Decode(data); err != nil {
			fmt.Fprintf(w, "block %d: %v\n", blockNo, err)
			return nil
		}
		fmt.Fprintf(w, "block %d: %d bytes %s => %s\n", blockNo, s.StoredLen, s.Compression, preview(data, opts.hex))
		count++
		if opts.limit > 0 && count >= opts.limit {
			return errStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return err
	}

	fmt.Fprintln(w, "---")
	fmt.Fprintf(w, "Written blocks listed: %d\n", count)
	return nil
}

func cmdProperties(w io.Writer, opts dumpOptions) error {
	var slots, written, storedBytes int
	byCompression := make(map[compression.Type]int)
	err := device.ScanImage(opts.fs, opts.path, opts.blockSize, func(_ uint64, s device.Slot, err error) error {
		slots++
		if err == nil && s.Written {
			written++
			storedBytes += s.StoredLen
			byCompression[s.Compression]++
		}
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Image: %s\n", opts.path)
	fmt.Fprintf(w, "File name: %s\n", filepath.Base(opts.path))
	fmt.Fprintln(w, "---")
	fmt.Fprintf(w, "Block size: %d bytes\n", opts.blockSize)
	fmt.Fprintf(w, "Slot size: %d bytes\n", device.SlotSize(opts.blockSize))
	fmt.Fprintf(w, "Slots: %d\n", slots)
	fmt.Fprintf(w, "Written blocks: %d\n", written)
	if written > 0 {
		fmt.Fprintf(w, "Average stored size: %.1f bytes\n", float64(storedBytes)/float64(written))
		fmt.Fprintf(w, "Space saving: %.1f%%\n", 100*(1-float64(storedBytes)/float64(written*opts.blockSize)))
	}

	types := make([]compression.Type, 0, len(byCompression))
	for t := range byCompression {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	for _, t := range types {
		fmt.Fprintf(w, "  %-8s %d\n", t, byCompression[t])
	}
	return nil
}

func cmdCheck(w io.Writer, opts dumpOptions) error {
	fmt.Fprintf(w, "Checking image: %s\n", opts.path)
	fmt.Fprintf(w, "Checksum: %s\n", opts.checksum)
	fmt.Fprintln(w, "---")

	data := make([]byte, opts.blockSize)
	var checked, formatErrors, checksumErrors int
	err := device.ScanImage(opts.fs, opts.path, opts.blockSize, func(blockNo uint64, s device.Slot, err error) error {
		if err != nil {
			fmt.Fprintf(w, "block %d: format error: %v\n", blockNo, err)
			formatErrors++
			return nil
		}
		if !s.Written {
			return nil
		}
		checked++
		if err := s.Verify(opts.checksum); err != nil {
			fmt.Fprintf(w, "block %d: %v\n", blockNo, err)
			checksumErrors++
			return nil
		}
		if err := s.Decode(data); err != nil {
			fmt.Fprintf(w, "block %d: %v\n", blockNo, err)
			formatErrors++
			return nil
		}
		if opts.verbose {
			fmt.Fprintf(w, "  block %d ok\n", blockNo)
		}
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "---")
	fmt.Fprintf(w, "Written blocks checked: %d\n", checked)
	if checksumErrors == 0 {
		fmt.Fprintln(w, "Checksum verification: ✓ PASSED")
	} else {
		fmt.Fprintf(w, "Checksum verification: ✗ FAILED (%d errors)\n", checksumErrors)
	}
	if formatErrors > 0 {
		fmt.Fprintf(w, "Format errors: %d\n", formatErrors)
	}

	if total := checksumErrors + formatErrors; total > 0 {
		return fmt.Errorf("image has %d errors", total)
	}
	fmt.Fprintln(w, "✓ Image is valid")
	return nil
}

func cmdRaw(w io.Writer, opts dumpOptions) error {
	errFound := errors.New("found")
	data := make([]byte, opts.blockSize)
	var slot device.Slot
	err := device.ScanImage(opts.fs, opts.path, opts.blockSize, func(blockNo uint64, s device.Slot, err error) error {
		if blockNo != opts.block {
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.Verify(opts.checksum); err != nil {
			return err
		}
		slot = s
		if err := s.Decode(data); err != nil {
			return err
		}
		return errFound
	})
	switch {
	case errors.Is(err, errFound):
	case err != nil:
		return err
	default:
		return fmt.Errorf("block %d is beyond the end of the image", opts.block)
	}

	fmt.Fprintf(w, "Block %d\n", opts.block)
	if slot.Written {
		fmt.Fprintf(w, "Stored: %d bytes %s, checksum %#08x\n", slot.StoredLen, slot.Compression, slot.Checksum)
	} else {
		fmt.Fprintln(w, "Stored: never written")
	}
	fmt.Fprintln(w, "---")
	fmt.Fprint(w, hex.Dump(data))
	return nil
}
