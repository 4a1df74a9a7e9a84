package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/studio1767/dsarchive/internal/archiveio"
	"github.com/studio1767/dsarchive/internal/config"
	"github.com/studio1767/dsarchive/internal/events"
	"github.com/studio1767/dsarchive/internal/ingest"
	"github.com/studio1767/dsarchive/internal/tracing"
)

var version = "dev"

func main() {
	// process the command line
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [-C config] [-w] [--interval 30s] <job-id>\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}

	config_file := flag.StringP("config", "C", "default", "client configuration file")
	wait := flag.BoolP("wait", "w", false, "wait for the ingest job to finish")
	interval := flag.Duration("interval", 30*time.Second, "polling interval when waiting")
	config.AddFlags(flag.CommandLine)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Error: incorrect arguments provided\n")
		flag.Usage()
		os.Exit(1)
	}

	job_id, err := strconv.ParseInt(flag.Arg(0), 10, 64)
	if err != nil || job_id <= 0 {
		log.Fatalf("invalid job id: %s", flag.Arg(0))
	}

	cfg, err := config.Load(*config_file)
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.ApplyFlags(flag.CommandLine); err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	shutdown, err := tracing.InitTracer(ctx, "dsstatus", version, cfg.TraceEndpoint)
	if err != nil {
		log.Fatal(err)
	}

	obs := events.NewLogObserver(cfg.NewLogger(os.Stderr))

	js, err := check(ctx, cfg, obs, job_id, *wait, *interval)

	// log.Fatal and os.Exit skip deferred calls; flush the spans first
	shutdown(context.Background())

	if err != nil {
		status, _ := archiveio.StatusOf(err)
		log.Fatalf("status check failed (%d): %s", status, err)
	}

	fmt.Printf("Ingest Job %d\n", js.JobID)
	fmt.Printf("-   state: %s\n", js.State)
	fmt.Printf("-    task: %s\n", js.Task)
	fmt.Printf("-    step: %d/%d\n", js.Step, ingest.TotalSteps)
	fmt.Printf("- percent: %.1f\n", js.Percent)
	if js.Summary != "" {
		fmt.Printf("-   error: %s\n", js.Summary)
	}

	if js.Terminal() && !js.Succeeded() {
		os.Exit(2)
	}
}

func check(ctx context.Context, cfg *config.Config, obs events.Observer, job_id int64, wait bool, interval time.Duration) (*ingest.JobStatus, error) {
	client, err := archiveio.NewClient(cfg.ClientOptions())
	if err != nil {
		return nil, err
	}

	poller := ingest.NewPoller(client, ingest.PollerOptions{
		IngestURL: cfg.IngestURL,
		Timeout:   cfg.Timeout,
	}, obs)

	if wait {
		return poller.Wait(ctx, job_id, interval)
	}
	return poller.Check(ctx, job_id)
}
