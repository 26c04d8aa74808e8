// Package main is the entry point for blobvault, the S3 blob store
// lifecycle tool.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/blobvault/blobvault/internal/blob"
	"github.com/blobvault/blobvault/internal/config"
	"github.com/blobvault/blobvault/internal/logging"
	"github.com/blobvault/blobvault/internal/metrics"
	"github.com/blobvault/blobvault/internal/storage"
	"github.com/blobvault/blobvault/internal/store"
)

const usage = "Usage: blobvault <init|put|get|promote|ls|rm|undelete|check|remove> [flags]"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var rc int
	switch command {
	case "init":
		rc = runInit(args)
	case "put":
		rc = runPut(args)
	case "get":
		rc = runGet(args)
	case "promote":
		rc = runPromote(args)
	case "ls":
		rc = runList(args)
	case "rm":
		rc = runDelete(args)
	case "undelete":
		rc = runUndelete(args)
	case "check":
		rc = runCheck(args)
	case "remove":
		rc = runRemove(args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n%s\n", command, usage)
		rc = 1
	}
	os.Exit(rc)
}

// openStore loads config, sets up logging and metrics, and starts the blob
// store. The returned cleanup stops it.
func openStore(configPath string) (*store.BlobStore, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	metrics.Register()

	ctx := context.Background()
	client, err := storage.NewClient(ctx, storage.ClientOptions{
		Region:          cfg.S3.Region,
		Endpoint:        cfg.S3.Endpoint,
		ForcePathStyle:  cfg.S3.ForcePathStyle,
		AccessKeyID:     cfg.S3.AccessKey,
		SecretAccessKey: cfg.S3.SecretKey,
		SessionToken:    cfg.S3.SessionToken,
	})
	if err != nil {
		return nil, nil, err
	}

	s, err := store.New(cfg, client)
	if err != nil {
		return nil, nil, err
	}
	if err := s.Start(ctx); err != nil {
		return nil, nil, err
	}
	return s, s.Stop, nil
}

func fail(err error) int {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}

func runInit(args []string) int {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", "blobvault.yaml", "Config file path")
	fs.Parse(args)

	_, stop, err := openStore(*configPath)
	if err != nil {
		return fail(err)
	}
	defer stop()
	fmt.Fprintln(os.Stderr, "Storage location ready")
	return 0
}

func runPut(args []string) int {
	fs := flag.NewFlagSet("put", flag.ExitOnError)
	configPath := fs.String("config", "blobvault.yaml", "Config file path")
	name := fs.String("name", "", "Logical blob name")
	contentType := fs.String("content-type", "application/octet-stream", "Content type")
	createdBy := fs.String("created-by", "blobvault", "Creator identity")
	temp := fs.Bool("temp", false, "Create as a temporary blob awaiting promotion")
	directPath := fs.Bool("direct-path", false, "Place the blob at a key derived from its name")
	input := fs.String("input", "-", "Input file path (- for stdin)")
	fs.Parse(args)

	if *name == "" {
		fmt.Fprintln(os.Stderr, "Error: -name is required")
		return 1
	}

	var src io.Reader = os.Stdin
	if *input != "-" {
		f, err := os.Open(*input)
		if err != nil {
			return fail(err)
		}
		defer f.Close()
		src = f
	}

	s, stop, err := openStore(*configPath)
	if err != nil {
		return fail(err)
	}
	defer stop()

	headers := map[string]string{
		blob.BlobNameHeader:    *name,
		blob.ContentTypeHeader: *contentType,
		blob.CreatedByHeader:   *createdBy,
	}
	if *temp {
		headers[blob.TemporaryBlobHeader] = "true"
	}
	if *directPath {
		headers[blob.DirectPathBlobHeader] = "true"
	}

	b, err := s.Create(context.Background(), src, headers)
	if err != nil {
		return fail(err)
	}
	fmt.Println(b.ID())
	return 0
}

func runGet(args []string) int {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	configPath := fs.String("config", "blobvault.yaml", "Config file path")
	includeDeleted := fs.Bool("include-deleted", false, "Also return soft-deleted blobs")
	fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: blobvault get [flags] <blob-id>")
		return 1
	}

	s, stop, err := openStore(*configPath)
	if err != nil {
		return fail(err)
	}
	defer stop()

	ctx := context.Background()
	id := blob.ID(fs.Arg(0))
	var b *store.Blob
	if *includeDeleted {
		b, err = s.GetIncludingDeleted(ctx, id)
	} else {
		b, err = s.Get(ctx, id)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "Blob %s not found\n", id)
			return 1
		}
		return fail(err)
	}

	rc, err := b.Open(ctx)
	if err != nil {
		return fail(err)
	}
	defer rc.Close()
	if _, err := io.Copy(os.Stdout, rc); err != nil {
		return fail(err)
	}
	return 0
}

func runPromote(args []string) int {
	fs := flag.NewFlagSet("promote", flag.ExitOnError)
	configPath := fs.String("config", "blobvault.yaml", "Config file path")
	name := fs.String("name", "", "Logical blob name")
	contentType := fs.String("content-type", "application/octet-stream", "Content type")
	createdBy := fs.String("created-by", "blobvault", "Creator identity")
	fs.Parse(args)
	if fs.NArg() != 1 || *name == "" {
		fmt.Fprintln(os.Stderr, "Usage: blobvault promote -name <name> [flags] <blob-id>")
		return 1
	}

	s, stop, err := openStore(*configPath)
	if err != nil {
		return fail(err)
	}
	defer stop()

	headers := map[string]string{
		blob.BlobNameHeader:    *name,
		blob.ContentTypeHeader: *contentType,
		blob.CreatedByHeader:   *createdBy,
	}
	if _, err := s.MakeBlobPermanent(context.Background(), blob.ID(fs.Arg(0)), headers); err != nil {
		return fail(err)
	}
	return 0
}

func runList(args []string) int {
	fs := flag.NewFlagSet("ls", flag.ExitOnError)
	configPath := fs.String("config", "blobvault.yaml", "Config file path")
	directPath := fs.String("direct-path", "", "List the direct-path namespace under this prefix")
	since := fs.Duration("since", 0, "Only blobs updated within this window")
	fs.Parse(args)

	s, stop, err := openStore(*configPath)
	if err != nil {
		return fail(err)
	}
	defer stop()

	ctx := context.Background()
	var seq func(func(blob.ID, error) bool)
	switch {
	case *directPath != "" || hasFlag(fs, "direct-path"):
		seq = s.DirectPathBlobIDs(ctx, *directPath)
	case *since > 0:
		updated, err := s.BlobIDsUpdatedSince(ctx, *since)
		if err != nil {
			return fail(err)
		}
		seq = updated
	default:
		seq = s.BlobIDs(ctx)
	}

	for id, err := range seq {
		if err != nil {
			return fail(err)
		}
		fmt.Println(id)
	}
	return 0
}

func hasFlag(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func runDelete(args []string) int {
	fs := flag.NewFlagSet("rm", flag.ExitOnError)
	configPath := fs.String("config", "blobvault.yaml", "Config file path")
	hard := fs.Bool("hard", false, "Hard delete, bypassing the retention window")
	async := fs.Bool("async", false, "Queue the hard delete for background cleanup")
	ifTemp := fs.Bool("if-temp", false, "Delete only if the blob is temporary")
	reason := fs.String("reason", "requested", "Deletion reason recorded in the blob's properties")
	fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: blobvault rm [flags] <blob-id>")
		return 1
	}

	s, stop, err := openStore(*configPath)
	if err != nil {
		return fail(err)
	}
	defer stop()

	ctx := context.Background()
	id := blob.ID(fs.Arg(0))
	var deleted bool
	switch {
	case *ifTemp:
		deleted, err = s.DeleteIfTemp(ctx, id)
	case *hard && *async:
		if err := s.DeleteHardAsync(ctx, id); err != nil {
			return fail(err)
		}
		return 0
	case *hard:
		deleted, err = s.DeleteHard(ctx, id)
	default:
		deleted, err = s.Delete(ctx, id, *reason)
	}
	if err != nil {
		return fail(err)
	}
	if !deleted {
		fmt.Fprintf(os.Stderr, "Blob %s not deleted\n", id)
		return 1
	}
	return 0
}

func runUndelete(args []string) int {
	fs := flag.NewFlagSet("undelete", flag.ExitOnError)
	configPath := fs.String("config", "blobvault.yaml", "Config file path")
	dryRun := fs.Bool("dry-run", false, "Report the outcome without mutating anything")
	fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: blobvault undelete [flags] <blob-id>")
		return 1
	}

	s, stop, err := openStore(*configPath)
	if err != nil {
		return fail(err)
	}
	defer stop()

	// The CLI has no reference index to consult, so any existing blob
	// counts as in use.
	inUse := func(ctx context.Context, s *store.BlobStore, id blob.ID) (bool, error) {
		return s.Exists(ctx, id)
	}

	restored, err := s.Undelete(context.Background(), inUse, blob.ID(fs.Arg(0)), *dryRun)
	if err != nil {
		return fail(err)
	}
	if !restored {
		fmt.Fprintln(os.Stderr, "Blob not restored")
		return 1
	}
	if *dryRun {
		fmt.Fprintln(os.Stderr, "Blob would be restored")
	}
	return 0
}

func runCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "blobvault.yaml", "Config file path")
	fs.Parse(args)

	s, stop, err := openStore(*configPath)
	if err != nil {
		return fail(err)
	}
	defer stop()

	if !s.IsStorageAvailable(context.Background()) {
		fmt.Fprintln(os.Stderr, "Storage unavailable")
		return 1
	}
	fmt.Fprintln(os.Stderr, "Storage available")
	return 0
}

func runRemove(args []string) int {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	configPath := fs.String("config", "blobvault.yaml", "Config file path")
	fs.Parse(args)

	s, stop, err := openStore(*configPath)
	if err != nil {
		return fail(err)
	}
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := s.Remove(ctx); err != nil {
		return fail(err)
	}
	fmt.Fprintln(os.Stderr, "Storage location removed")
	return 0
}
