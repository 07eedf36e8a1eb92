// Command bcached serves a block cache over HTTP.
//
// Startup order is config, logger, device, cache, HTTP server. SIGINT and
// SIGTERM shut the server down and close the device.
//
// Usage: bcached [--config=bcache.toml] [--check-config]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/aalhour/bcache"
	"github.com/aalhour/bcache/internal/config"
	"github.com/aalhour/bcache/internal/logging"
	"github.com/aalhour/bcache/internal/server"
)

const shutdownTimeout = 10 * time.Second

type cliOptions struct {
	configPath string
	checkOnly  bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, opts))
}

// parseCLIFlags resolves the config path: --config, then BCACHE_CONFIG, then
// built-in defaults.
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("bcached", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
	)
	fs.StringVar(&configFlag, "config", "", "config file path (overrides BCACHE_CONFIG)")
	fs.BoolVar(&checkOnly, "check-config", false, "validate the config and exit")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("parse flags: %w", err)
	}

	path := os.Getenv("BCACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	return cliOptions{configPath: path, checkOnly: checkOnly}, nil
}

// run returns the process exit code.
func run(ctx context.Context, opts cliOptions) int {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "load config: %v\n", err)
		return 1
	}

	base, err := logging.InitLogrus(cfg.Log)
	if err != nil {
		fmt.Fprintf(stdErr, "init logger: %v\n", err)
		return 1
	}
	logger := logging.NewLogrus(base)

	if opts.checkOnly {
		base.WithFields(logrus.Fields{
			"action": "check_config",
			"config": opts.configPath,
			"device": cfg.Device.Kind,
			"result": "ok",
		}).Info("config is valid")
		return 0
	}

	dev, closeDev, err := cfg.OpenDevice(logger)
	if err != nil {
		fmt.Fprintf(stdErr, "open device: %v\n", err)
		return 1
	}
	defer func() {
		if err := closeDev(); err != nil {
			logger.Errorf("%sclose device: %v", logging.NSDevice, err)
		}
	}()

	cacheOpts, err := cfg.CacheOptions(logger)
	if err != nil {
		fmt.Fprintf(stdErr, "cache options: %v\n", err)
		return 1
	}
	c, err := bcache.New(dev, cacheOpts)
	if err != nil {
		fmt.Fprintf(stdErr, "create cache: %v\n", err)
		return 1
	}

	if err := serve(ctx, cfg, c, base, logger); err != nil {
		fmt.Fprintf(stdErr, "serve: %v\n", err)
		return 1
	}
	return 0
}

func serve(ctx context.Context, cfg *config.Config, c *bcache.Cache, base *logrus.Logger, logger logging.Logger) error {
	app, err := server.NewApp(server.AppOptions{
		Logger:       base,
		Cache:        c,
		MaxInflight:  cfg.Server.MaxInflight,
		ReadTimeout:  cfg.Server.ReadTimeout.DurationValue(),
		WriteTimeout: cfg.Server.WriteTimeout.DurationValue(),
	})
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		<-ctx.Done()
		logger.Infof("%sshutting down", logging.NSServer)
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		done <- app.ShutdownWithContext(sctx)
	}()

	logger.Infof("%slistening on %s (%d buffers, %d shards, %s device)", logging.NSServer,
		cfg.Server.Listen, cfg.Cache.NumBuffers, cfg.Cache.NumShards, cfg.Device.Kind)
	if err := app.Listen(cfg.Server.Listen, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return err
	}

	// Listen returned without error, so a shutdown is in progress.
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
