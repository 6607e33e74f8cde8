package main

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hupe1980/bcache/blobstore"
	miniostore "github.com/hupe1980/bcache/blobstore/minio"
	s3store "github.com/hupe1980/bcache/blobstore/s3"
	"github.com/hupe1980/bcache/device"
	"github.com/hupe1980/bcache/internal/config"
)

// benchDevice is the device id the workload runs against.
const benchDevice device.ID = 1

// openDevice builds the configured device. The returned cleanup closes any
// files it opened.
func openDevice(ctx context.Context, cfg config.Config) (device.Device, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Device {
	case config.DeviceMemory:
		return device.NewMemoryDevice(cfg.BlockSize), noop, nil

	case config.DeviceFile:
		d := device.NewFileDevice(cfg.BlockSize)
		if err := d.Open(benchDevice, cfg.Path); err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", cfg.Path, err)
		}
		return d, d.Close, nil
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	compression, err := device.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, nil, err
	}

	d := device.NewBlobDevice(store, device.BlobOptions{
		BlockSize:   cfg.BlockSize,
		Compression: compression,
	})
	if err := d.Load(ctx); err != nil {
		return nil, nil, err
	}
	return d, noop, nil
}

func openStore(ctx context.Context, cfg config.Config) (blobstore.BlobStore, error) {
	switch cfg.Device {
	case config.DeviceBlob:
		return blobstore.NewLocalStore(cfg.Path), nil

	case config.DeviceMinIO:
		m := cfg.MinIO
		client, err := minio.New(m.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(m.AccessKey, m.SecretKey, ""),
			Secure: m.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("minio client: %w", err)
		}
		exists, err := client.BucketExists(ctx, m.Bucket)
		if err != nil {
			return nil, fmt.Errorf("minio bucket %s: %w", m.Bucket, err)
		}
		if !exists {
			if err := client.MakeBucket(ctx, m.Bucket, minio.MakeBucketOptions{}); err != nil {
				return nil, fmt.Errorf("minio create bucket %s: %w", m.Bucket, err)
			}
		}
		return miniostore.NewStore(client, m.Bucket, m.Prefix), nil

	case config.DeviceS3:
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.S3.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.S3.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("aws config: %w", err)
		}
		return s3store.NewStore(s3.NewFromConfig(awsCfg), cfg.S3.Bucket, cfg.S3.Prefix), nil
	}
	return nil, fmt.Errorf("unknown device %q", cfg.Device)
}
