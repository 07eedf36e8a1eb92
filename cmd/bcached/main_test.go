package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func useBufferWriters(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	prevOut, prevErr := stdOut, stdErr
	out, errBuf := &bytes.Buffer{}, &bytes.Buffer{}
	stdOut, stdErr = out, errBuf
	t.Cleanup(func() { stdOut, stdErr = prevOut, prevErr })
	return out, errBuf
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bcache.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseCLIFlagsPriority(t *testing.T) {
	t.Setenv("BCACHE_CONFIG", "/tmp/env.toml")

	opts, err := parseCLIFlags(nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.configPath != "/tmp/env.toml" {
		t.Fatalf("configPath = %s, want the environment value", opts.configPath)
	}

	opts, err = parseCLIFlags([]string{"--config", "/tmp/flag.toml", "--check-config"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.configPath != "/tmp/flag.toml" {
		t.Fatalf("configPath = %s, flag should win over the environment", opts.configPath)
	}
	if !opts.checkOnly {
		t.Fatal("checkOnly = false")
	}

	if _, err := parseCLIFlags([]string{"--bogus"}); err == nil {
		t.Fatal("unknown flag accepted")
	}
}

func TestRunCheckConfigSuccess(t *testing.T) {
	useBufferWriters(t)
	path := writeConfig(t, "[cache]\nnum_buffers = 8\nnum_shards = 3\n[log]\nlevel = \"error\"\n")
	if code := run(context.Background(), cliOptions{configPath: path, checkOnly: true}); code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	_, errBuf := useBufferWriters(t)
	path := writeConfig(t, "[cache]\nnum_buffers = 2\nnum_shards = 3\n")
	if code := run(context.Background(), cliOptions{configPath: path, checkOnly: true}); code == 0 {
		t.Fatal("invalid config exited 0")
	}
	if !bytes.Contains(errBuf.Bytes(), []byte("cache.num_buffers")) {
		t.Errorf("stderr does not name the field: %s", errBuf.String())
	}
}
