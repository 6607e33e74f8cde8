package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/bcache"
	"github.com/hupe1980/bcache/device"
	"github.com/hupe1980/bcache/internal/config"
	"github.com/hupe1980/bcache/resource"
)

// result summarizes a finished run.
type result struct {
	Ops       int64
	Persisted int64
	Pinned    int64
	Exhausted int64
	Elapsed   time.Duration
}

func bench(ctx context.Context, cfg config.Config, out, logOut io.Writer) (err error) {
	logger, closer, err := newLogger(cfg, logOut)
	if err != nil {
		return err
	}
	defer closer.Close()

	runID := uuid.NewString()
	logger = logger.WithRunID(runID).WithDevice(benchDevice)

	dev, closeDev, err := openDevice(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, closeDev()) }()

	rc := resource.NewController(resource.Config{
		MemoryLimitBytes:     cfg.MemoryLimit,
		MaxBackgroundWorkers: int64(cfg.Workers),
		IOLimitBytesPerSec:   cfg.IOLimit,
	})
	metrics := &bcache.BasicMetricsCollector{}

	c, err := bcache.New(device.RateLimited(dev, rc),
		bcache.WithNumBuffers(cfg.Buffers),
		bcache.WithNumBuckets(cfg.Buckets),
		bcache.WithBlockSize(cfg.BlockSize),
		bcache.WithLogger(logger),
		bcache.WithMetricsCollector(metrics),
		bcache.WithResourceController(rc),
	)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, c.Close()) }()

	logger.InfoContext(ctx, "benchmark started",
		"device_kind", cfg.Device,
		"buffers", cfg.Buffers,
		"workers", cfg.Workers,
		"ops", cfg.Ops,
	)

	// Warm the cache with the head of the working set.
	warm := make([]bcache.BlockNo, 0, min(cfg.Buffers, cfg.Blocks))
	for b := range cap(warm) {
		warm = append(warm, bcache.BlockNo(b))
	}
	if err := c.Prefetch(ctx, benchDevice, warm...); err != nil && !errors.Is(err, bcache.ErrNoBuffers) {
		return fmt.Errorf("prefetch: %w", err)
	}

	res, err := runWorkload(ctx, c, cfg)
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "benchmark finished",
		"ops", res.Ops,
		"elapsed", res.Elapsed,
	)
	report(out, runID, res, c.Stats(), metrics.GetStats())
	return nil
}

// runWorkload runs cfg.Workers goroutines of cfg.Ops operations each. An
// operation acquires a random block, bumps its counter and persists it
// with probability cfg.WriteRatio. Every cfg.PinEvery-th operation also
// keeps a neighbour pinned across the update. A worker never holds two
// buffers at once.
func runWorkload(ctx context.Context, c *bcache.Cache, cfg config.Config) (result, error) {
	var (
		res      result
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
		failed   atomic.Bool
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			failed.Store(true)
		})
	}

	var ops, persisted, pinned, exhausted atomic.Int64
	start := time.Now()

	for w := range cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(uint64(w), uint64(start.UnixNano())))

			for i := 0; i < cfg.Ops && !failed.Load(); i++ {
				if ctx.Err() != nil {
					fail(ctx.Err())
					return
				}
				block := bcache.BlockNo(rng.IntN(cfg.Blocks))

				var pin *bcache.Buf
				if cfg.PinEvery > 0 && i%cfg.PinEvery == 0 {
					neighbour := bcache.BlockNo((int(block) + 1) % cfg.Blocks)
					b, err := c.Acquire(ctx, benchDevice, neighbour)
					if errors.Is(err, bcache.ErrNoBuffers) {
						exhausted.Add(1)
						continue
					}
					if err != nil {
						fail(err)
						return
					}
					c.Pin(b)
					c.Release(b)
					pin = b
					pinned.Add(1)
				}

				err := update(ctx, c, block, rng.Float64() < cfg.WriteRatio, &persisted)
				if pin != nil {
					c.Unpin(pin)
				}
				switch {
				case errors.Is(err, bcache.ErrNoBuffers):
					exhausted.Add(1)
				case err != nil:
					fail(err)
					return
				default:
					ops.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	res.Ops = ops.Load()
	res.Persisted = persisted.Load()
	res.Pinned = pinned.Load()
	res.Exhausted = exhausted.Load()
	res.Elapsed = time.Since(start)
	return res, firstErr
}

func update(ctx context.Context, c *bcache.Cache, block bcache.BlockNo, persist bool, persisted *atomic.Int64) error {
	b, err := c.Acquire(ctx, benchDevice, block)
	if err != nil {
		return err
	}
	defer c.Release(b)

	data := b.Data()
	if len(data) >= 8 {
		binary.LittleEndian.PutUint64(data, binary.LittleEndian.Uint64(data)+1)
	}
	if !persist {
		return nil
	}
	if err := c.Persist(ctx, b); err != nil {
		return err
	}
	persisted.Add(1)
	return nil
}

func report(out io.Writer, runID string, res result, st bcache.Stats, ms bcache.BasicMetricsStats) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	throughput := 0.0
	if s := res.Elapsed.Seconds(); s > 0 {
		throughput = float64(res.Ops) / s
	}

	fmt.Fprintf(tw, "run\t%s\n", runID)
	fmt.Fprintf(tw, "ops\t%d\t(%.0f/s)\n", res.Ops, throughput)
	fmt.Fprintf(tw, "persisted\t%d\n", res.Persisted)
	fmt.Fprintf(tw, "pinned\t%d\n", res.Pinned)
	fmt.Fprintf(tw, "no buffers\t%d\n", res.Exhausted)
	fmt.Fprintf(tw, "hits\t%d\t(%.1f%%)\n", st.Hits, 100*ms.HitRatio())
	fmt.Fprintf(tw, "misses\t%d\n", st.Misses)
	fmt.Fprintf(tw, "evictions\t%d\n", st.Evictions)
	fmt.Fprintf(tw, "device reads\t%d\t(avg %s)\n", st.DeviceReads, time.Duration(ms.ReadAvgNanos))
	fmt.Fprintf(tw, "device writes\t%d\t(avg %s)\n", st.DeviceWrites, time.Duration(ms.WriteAvgNanos))
	fmt.Fprintf(tw, "resident\t%d/%d\n", st.Resident, st.Slots)
}
