// Command blobmoverctl is a minimal driver for the manager package,
// grounded on cmd/gfast/main.go's flag parsing and createProvider
// helper. It is not a polished CLI (out of scope): one transfer per
// invocation, no interactive UI, plain stdout progress lines.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/blobmover/core/config"
	"github.com/blobmover/core/engine"
	"github.com/blobmover/core/eventbus"
	"github.com/blobmover/core/manager"
	"github.com/blobmover/core/provider"
)

func main() {
	var (
		source        string
		dest          string
		streams       int
		recursive     bool
		hierarchical  bool
		searchPattern string
		delimiter     string
		amqpURL       string
		amqpQueue     string
		overwrite     bool
		noOverwrite   bool
	)

	flag.StringVar(&source, "source", "", "Source path (local path or s3://bucket/key)")
	flag.StringVar(&dest, "dest", "", "Destination path (local path or s3://bucket/key)")
	flag.IntVar(&streams, "streams", 0, "Concurrent transfer streams (0 = size from CPU count)")
	flag.BoolVar(&recursive, "recursive", false, "Treat source/dest as directories")
	flag.BoolVar(&hierarchical, "hierarchical", false, "Use the producer/consumer directory walk instead of one flat listing")
	flag.StringVar(&searchPattern, "pattern", "", "Glob pattern filtering directory entries")
	flag.StringVar(&delimiter, "delimiter", "", "Remote listing delimiter (default '/')")
	flag.StringVar(&amqpURL, "amqp-url", "", "AMQP broker URL to publish terminal transfer events to (optional)")
	flag.StringVar(&amqpQueue, "amqp-queue", "blobmover.events", "AMQP queue name")
	flag.BoolVar(&overwrite, "overwrite", true, "Overwrite an existing destination")
	flag.BoolVar(&noOverwrite, "no-overwrite", false, "Refuse to overwrite an existing destination (overrides -overwrite)")
	flag.Parse()

	if source == "" || dest == "" {
		fmt.Println("Usage: blobmoverctl -source <src> -dest <dst> [options]")
		fmt.Println("\nOptions:")
		flag.PrintDefaults()
		fmt.Println("\nExamples:")
		fmt.Println("  blobmoverctl -source /data/old -dest s3://bucket/prefix/file.bin")
		fmt.Println("  blobmoverctl -recursive -source /data/local -dest s3://bucket/prefix")
		fmt.Println("  blobmoverctl -recursive -hierarchical -source s3://bucket/a -dest s3://bucket/b")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("blobmoverctl: signal received, canceling in-flight transfer")
		cancel()
	}()

	cfg := config.Default()
	if streams > 0 {
		cfg.ParallelOperations = streams
	}

	srcBucket, srcKey, srcIsRemote := splitS3Path(source)
	dstBucket, dstKey, dstIsRemote := splitS3Path(dest)

	local := provider.NewLocalProvider("")
	remote, closeRemote, err := connectRemote(ctx, srcBucket, dstBucket, srcIsRemote, dstIsRemote)
	if err != nil {
		log.Fatalf("blobmoverctl: %v", err)
	}
	if closeRemote != nil {
		defer closeRemote()
	}

	opts := []manager.Option{}
	if amqpURL != "" {
		pub, err := eventbus.NewAMQPPublisher(amqpURL, amqpQueue)
		if err != nil {
			log.Fatalf("blobmoverctl: connect to AMQP broker: %v", err)
		}
		opts = append(opts, manager.WithPublisher(pub))
	}

	m := manager.NewManager(ctx, cfg, local, remote, opts...)
	defer m.Close()

	overwriteDecision := &overwrite
	if noOverwrite {
		no := false
		overwriteDecision = &no
	}

	xferOpts := manager.Options{
		Overwrite:       overwriteDecision,
		ProgressHandler: printProgress,
		Recursive:       recursive,
		SearchPattern:   searchPattern,
		Delimiter:       delimiter,
		Hierarchical:    hierarchical,
	}

	if err := run(ctx, m, source, srcKey, srcIsRemote, dest, dstKey, dstIsRemote, recursive, xferOpts); err != nil {
		log.Fatalf("blobmoverctl: transfer failed: %v", err)
	}

	fmt.Println("\nTransfer complete.")
}

func run(ctx context.Context, m *manager.TransferManager, source, srcKey string, srcIsRemote bool, dest, dstKey string, dstIsRemote bool, recursive bool, opts manager.Options) error {
	switch {
	case recursive && !srcIsRemote && dstIsRemote:
		return m.UploadDirectory(ctx, source, containerOf(dest), dstKey, opts)
	case recursive && srcIsRemote && !dstIsRemote:
		return m.DownloadDirectory(ctx, containerOf(source), srcKey, dest, opts)
	case recursive && srcIsRemote && dstIsRemote:
		return m.CopyDirectory(ctx, containerOf(source), srcKey, containerOf(dest), dstKey, opts)
	case recursive:
		return fmt.Errorf("local-to-local directory transfer is not supported")

	case !srcIsRemote && dstIsRemote:
		return m.Upload(ctx, source, dstKey, opts)
	case srcIsRemote && !dstIsRemote:
		return m.Download(ctx, srcKey, dest, opts)
	case srcIsRemote && dstIsRemote:
		return m.Copy(ctx, srcKey, dstKey, opts)
	default:
		return fmt.Errorf("local-to-local single-object transfer is not supported")
	}
}

// connectRemote dials a single S3BlobClient shared by both endpoints
// when either side is remote, matching the single-bucket-per-process
// shape S3BlobClient assumes. Mixed-bucket source/dest is out of scope
// for this driver; use two separate invocations for that.
func connectRemote(ctx context.Context, srcBucket, dstBucket string, srcIsRemote, dstIsRemote bool) (provider.BlobClient, func(), error) {
	bucket := srcBucket
	if bucket == "" {
		bucket = dstBucket
	}
	if !srcIsRemote && !dstIsRemote {
		return nil, nil, nil
	}
	if srcIsRemote && dstIsRemote && srcBucket != dstBucket {
		return nil, nil, fmt.Errorf("cross-bucket transfers need one S3BlobClient per bucket, not supported by this driver")
	}

	client, err := provider.NewS3BlobClient(ctx, bucket)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to bucket %q: %w", bucket, err)
	}
	return client, func() {}, nil
}

// splitS3Path parses "s3://bucket/key" into its bucket and key parts;
// anything else is treated as a local filesystem path.
func splitS3Path(p string) (bucket, key string, isRemote bool) {
	if !strings.HasPrefix(p, "s3://") {
		return "", p, false
	}
	rest := strings.TrimPrefix(p, "s3://")
	bucket, key, _ = strings.Cut(rest, "/")
	return bucket, key, true
}

// containerOf extracts the bucket name blobmoverctl passes as a
// containerURI, e.g. UploadDirectory's second argument.
func containerOf(p string) string {
	bucket, _, _ := splitS3Path(p)
	return bucket
}

func printProgress(s engine.Snapshot) {
	fmt.Printf("\r%d bytes, %d done, %d failed, %d skipped", s.BytesTransferred, s.FilesCompleted, s.FilesFailed, s.FilesSkipped)
}
