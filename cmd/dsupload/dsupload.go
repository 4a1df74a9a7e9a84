package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	humanize "github.com/dustin/go-humanize"
	flag "github.com/spf13/pflag"

	"github.com/studio1767/dsarchive/internal/archiveio"
	"github.com/studio1767/dsarchive/internal/config"
	"github.com/studio1767/dsarchive/internal/events"
	"github.com/studio1767/dsarchive/internal/ingest"
	"github.com/studio1767/dsarchive/internal/job"
	"github.com/studio1767/dsarchive/internal/manifest"
	"github.com/studio1767/dsarchive/internal/ops"
	"github.com/studio1767/dsarchive/internal/remote"
	"github.com/studio1767/dsarchive/internal/staging"
	"github.com/studio1767/dsarchive/internal/tracing"
)

var version = "dev"

func main() {
	// process the command line
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [-C config] [-v] [-n] [-w] [--interval 30s] <job-file>\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}

	config_file := flag.StringP("config", "C", "default", "client configuration file")
	verbose := flag.BoolP("verbose", "v", false, "list every file with its status")
	dry_run := flag.BoolP("dry-run", "n", false, "reconcile only, do not upload")
	wait := flag.BoolP("wait", "w", false, "wait for the ingest job to finish")
	interval := flag.Duration("interval", 30*time.Second, "ingest status polling interval")
	config.AddFlags(flag.CommandLine)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Error: incorrect arguments provided\n")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*config_file)
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.ApplyFlags(flag.CommandLine); err != nil {
		log.Fatal(err)
	}

	jb, err := job.Load(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	shutdown, err := tracing.InitTracer(ctx, "dsupload", version, cfg.TraceEndpoint)
	if err != nil {
		log.Fatal(err)
	}

	obs := events.NewLogObserver(cfg.NewLogger(os.Stderr)).With("job", jb.Name)

	client, err := archiveio.NewClient(cfg.ClientOptions())
	if err == nil {
		err = run(ctx, cfg, client, jb, obs, *verbose, *dry_run, *wait, *interval)
	}

	// log.Fatal skips deferred calls; flush the spans first
	shutdown(context.Background())

	if err != nil {
		status, _ := archiveio.StatusOf(err)
		if ops.IsCritical(err) {
			log.Fatalf("critical: %s", err)
		}
		log.Fatalf("upload failed (%d): %s", status, err)
	}
}

func run(ctx context.Context, cfg *config.Config, client archiveio.Client, jb *job.Job, obs events.Observer, verbose, dry_run, wait bool, interval time.Duration) error {
	fmt.Printf("Processing %s\n", jb.Source)

	var throttle ops.Throttle = ops.NoThrottle{}
	if cfg.ReadSlots > 0 {
		throttle = ops.NewSemaphoreThrottle(cfg.ReadSlots)
	}

	// inventory the local files
	records, err := jb.Inventory(ctx, throttle, cfg.HashWorkers, obs)
	if err != nil {
		return err
	}

	// fetch what the archive already holds
	rc := remote.NewClient(client, cfg.MetadataURL, remote.Options{
		Timeout:  cfg.Timeout,
		Excluded: cfg.InCorruptWindow,
	}, obs)

	var inv *remote.Inventory
	if jb.IsDataPackage() {
		inv, err = rc.ForDataPackage(ctx, jb.DataPackageID)
	} else {
		inv, err = rc.ForDataset(ctx, jb.DatasetID)
	}
	if err != nil {
		return err
	}

	if verbose {
		listFiles(ctx, records, inv)
	}

	rec, err := ops.Reconcile(ctx, records, inv, jb.ReconcileOptions(cfg.MaxFiles), obs)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("Reconcile Summary\n")
	fmt.Printf("-     local files: %d\n", len(records))
	fmt.Printf("-    remote files: %d\n", inv.Count())
	fmt.Printf("- remote versions: %d\n", inv.VersionCount())
	fmt.Printf("-  remote records: %d\n", inv.RecordCount())
	fmt.Printf("-       new files: %d\n", rec.NewCount)
	fmt.Printf("-   updated files: %d\n", rec.UpdatedCount)
	fmt.Printf("- unchanged files: %d\n", rec.UnchangedCount)
	fmt.Printf("-    upload bytes: %s\n", humanize.Comma(rec.TotalBytes))
	fmt.Println()

	if len(rec.Upload) == 0 {
		fmt.Printf("Nothing to upload\n")
		return nil
	}
	if dry_run {
		return nil
	}

	items, err := manifest.Build(jb.Facts(), rec.Upload)
	if err != nil {
		return err
	}

	sink, err := newSink(ctx, cfg)
	if err != nil {
		return err
	}

	uploader := ingest.NewUploader(client, ingest.UploaderOptions{
		PolicyURL:     cfg.PolicyURL,
		IngestURL:     cfg.IngestURL,
		Timeout:       cfg.Timeout,
		UploadTimeout: cfg.UploadTimeout,
		Sink:          sink,
	}, obs)

	receipt, err := uploader.Upload(ctx, items)
	if err != nil {
		return err
	}

	fmt.Printf("Upload Summary\n")
	fmt.Printf("- files: %d\n", len(rec.Upload))
	fmt.Printf("- bytes: %s\n", humanize.Comma(receipt.Bytes))
	if receipt.JobID > 0 {
		fmt.Printf("-    job: %d\n", receipt.JobID)
		fmt.Printf("- status: %s\n", receipt.StatusURL)
	} else {
		fmt.Printf("- staged: %s\n", receipt.Location)
	}
	fmt.Println()

	if !wait || receipt.JobID == 0 {
		return nil
	}

	poller := ingest.NewPoller(client, ingest.PollerOptions{
		IngestURL: cfg.IngestURL,
		Timeout:   cfg.Timeout,
	}, obs)

	js, err := poller.Wait(ctx, receipt.JobID, interval)
	if err != nil {
		return err
	}
	if !js.Succeeded() {
		return fmt.Errorf("ingest job %d %s: %s", js.JobID, js.State, js.Summary)
	}
	fmt.Printf("Ingest job %d complete\n", js.JobID)

	return nil
}

func listFiles(ctx context.Context, records []ops.FileRecord, inv *remote.Inventory) {
	in := make(chan *ops.EntryInfo)
	go func() {
		defer close(in)
		for _, fr := range records {
			info := &ops.EntryInfo{
				AbsPath: fr.AbsolutePath,
				RelDir:  fr.RelativeDir,
				Name:    fr.FileName,
				Hash:    fr.Hash,
				Size:    fr.Size,
			}
			select {
			case <-ctx.Done():
				return
			case in <- info:
			}
		}
	}()

	for info := range ops.NewRemoteComparer(ctx, in, inv) {
		fmt.Printf("- %9s: %s (%s bytes)\n", info.Status, info.RelPath(), humanize.Comma(info.Size))
	}
}

// newSink returns nil when the container goes straight to the ingest
// service.
func newSink(ctx context.Context, cfg *config.Config) (staging.Sink, error) {
	switch cfg.Mode {
	case config.ModeLocal:
		return staging.NewLocalSink(cfg.StagingDir)

	case config.ModeS3:
		s3client, err := staging.NewS3Client(ctx, cfg.StagingProfile)
		if err != nil {
			return nil, err
		}
		recipients, err := staging.LoadRecipients(cfg.StagingRecipientsFile)
		if err != nil {
			return nil, err
		}
		return staging.NewS3Sink(s3client, cfg.StagingBucket, cfg.StagingPrefix, recipients), nil
	}
	return nil, nil
}
