// Command bcache-bench drives a block cache with a concurrent
// read-modify-write workload and reports cache statistics.
//
//	bcache-bench --device file --path /tmp/disk.img --buffers 16 --workers 8
//	bcache-bench --config bench.jsonc --log-file /var/log/bcache.log
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/hupe1980/bcache/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := parseArgs(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 2
	}

	if err := bench(ctx, cfg, stdout, stderr); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

// parseArgs loads the optional config file and applies the flags that were
// set explicitly on top of it.
func parseArgs(args []string, stderr io.Writer) (config.Config, error) {
	fs := flag.NewFlagSet("bcache-bench", flag.ContinueOnError)
	fs.SetOutput(stderr)

	d := config.Default()
	configPath := fs.StringP("config", "c", "", "JSONC config file")
	buffers := fs.Int("buffers", d.Buffers, "number of cache buffers")
	buckets := fs.Int("buckets", d.Buckets, "number of hash buckets")
	blockSize := fs.Int("block-size", d.BlockSize, "block size in bytes")
	workers := fs.IntP("workers", "w", d.Workers, "concurrent workers")
	ops := fs.IntP("ops", "n", d.Ops, "operations per worker")
	blocks := fs.Int("blocks", d.Blocks, "distinct blocks in the working set")
	writeRatio := fs.Float64("write-ratio", d.WriteRatio, "fraction of operations that persist")
	pinEvery := fs.Int("pin-every", d.PinEvery, "pin a second block every n operations (0 disables)")
	dev := fs.String("device", d.Device, "device: memory, file, blob, minio or s3")
	path := fs.String("path", d.Path, "file or directory for file and blob devices")
	compression := fs.String("compression", d.Compression, "blob compression: none, lz4 or zstd")
	ioLimit := fs.Int64("io-limit", d.IOLimit, "device bytes per second (0 is unlimited)")
	memLimit := fs.Int64("memory-limit", d.MemoryLimit, "arena memory budget in bytes (0 is unlimited)")
	logFile := fs.String("log-file", d.LogFile, "write JSON logs to this rotating file")
	logLevel := fs.String("log-level", d.LogLevel, "log level: debug, info, warn or error")

	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}
	if fs.NArg() > 0 {
		return config.Config{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return config.Config{}, err
	}

	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("buffers", func() { cfg.Buffers = *buffers })
	set("buckets", func() { cfg.Buckets = *buckets })
	set("block-size", func() { cfg.BlockSize = *blockSize })
	set("workers", func() { cfg.Workers = *workers })
	set("ops", func() { cfg.Ops = *ops })
	set("blocks", func() { cfg.Blocks = *blocks })
	set("write-ratio", func() { cfg.WriteRatio = *writeRatio })
	set("pin-every", func() { cfg.PinEvery = *pinEvery })
	set("device", func() { cfg.Device = *dev })
	set("path", func() { cfg.Path = *path })
	set("compression", func() { cfg.Compression = *compression })
	set("io-limit", func() { cfg.IOLimit = *ioLimit })
	set("memory-limit", func() { cfg.MemoryLimit = *memLimit })
	set("log-file", func() { cfg.LogFile = *logFile })
	set("log-level", func() { cfg.LogLevel = *logLevel })

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
