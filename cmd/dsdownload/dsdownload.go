package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"

	humanize "github.com/dustin/go-humanize"
	flag "github.com/spf13/pflag"

	"github.com/studio1767/dsarchive/internal/archiveio"
	"github.com/studio1767/dsarchive/internal/config"
	"github.com/studio1767/dsarchive/internal/events"
	"github.com/studio1767/dsarchive/internal/remote"
	"github.com/studio1767/dsarchive/internal/retrieve"
	"github.com/studio1767/dsarchive/internal/tracing"
)

var version = "dev"

func main() {
	// process the command line
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [-C config] [-p] [-c] [-f] [-o] <id> <restore-root> [<pattern>]\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}

	config_file := flag.StringP("config", "C", "default", "client configuration file")
	data_package := flag.BoolP("package", "p", false, "the id is a data package id")
	check_mode := flag.BoolP("check", "c", false, "run in check mode")
	force := flag.BoolP("force", "f", false, "force download even if destination not empty")
	overwrite := flag.BoolP("overwrite", "o", false, "overwrite any existing files")
	config.AddFlags(flag.CommandLine)
	flag.Parse()

	if flag.NArg() != 2 && flag.NArg() != 3 {
		fmt.Fprintf(os.Stderr, "Error: incorrect arguments provided\n")
		flag.Usage()
		os.Exit(1)
	}

	id, err := strconv.Atoi(flag.Arg(0))
	if err != nil || id <= 0 {
		log.Fatalf("invalid id: %s", flag.Arg(0))
	}
	restore_root := flag.Arg(1)

	pattern := ".*"
	if flag.NArg() == 3 {
		pattern = flag.Arg(2)
	}

	cfg, err := config.Load(*config_file)
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.ApplyFlags(flag.CommandLine); err != nil {
		log.Fatal(err)
	}

	// run some sanity checks on the restore root
	st, err := os.Stat(restore_root)
	if err != nil {
		if os.IsNotExist(err) {
			err := os.Mkdir(restore_root, 0755)
			if err != nil {
				log.Fatalf("failed to create restore root: %s", err)
			}
		} else {
			log.Fatalf("failed to stat restore root: %s", err)
		}

	} else {
		if !st.IsDir() {
			log.Fatal("the restore root is not a directory")
		}
	}

	// make sure the restore root is empty ...
	//   ...not if we're only checking
	//   ...not if we're forcing the download
	if !*check_mode && !*force {
		entries, err := os.ReadDir(restore_root)
		if err != nil {
			log.Fatalf("failed to read restore root: %s", err)
		}
		if len(entries) != 0 {
			log.Fatal("restore root is not empty; use -f to force restore")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	shutdown, err := tracing.InitTracer(ctx, "dsdownload", version, cfg.TraceEndpoint)
	if err != nil {
		log.Fatal(err)
	}

	obs := events.NewLogObserver(cfg.NewLogger(os.Stderr))

	summary, err := download(ctx, cfg, obs, id, *data_package, pattern, restore_root, *overwrite, *check_mode)

	// log.Fatal and os.Exit skip deferred calls; flush the spans first
	shutdown(context.Background())

	if err != nil {
		log.Fatal(err)
	}

	fmt.Println()
	fmt.Printf("Restore Summary\n")
	fmt.Printf("-   total files: %d\n", summary.Total)
	fmt.Printf("-   total bytes: %s\n", humanize.Comma(summary.TotalBytes))
	fmt.Printf("- success files: %d\n", summary.Downloaded)
	fmt.Printf("- success bytes: %s\n", humanize.Comma(summary.DownloadedBytes))
	fmt.Printf("- skipped files: %d\n", summary.Skipped)
	fmt.Printf("- skipped bytes: %s\n", humanize.Comma(summary.SkippedBytes))
	fmt.Printf("-  failed files: %d\n", summary.Failed)
	fmt.Printf("-  failed bytes: %s\n", humanize.Comma(summary.FailedBytes))
	fmt.Println()

	if summary.Failed > 0 {
		os.Exit(1)
	}
}

func download(ctx context.Context, cfg *config.Config, obs events.Observer, id int, data_package bool, pattern, restore_root string, overwrite, check_mode bool) (*retrieve.Summary, error) {
	client, err := archiveio.NewClient(cfg.ClientOptions())
	if err != nil {
		return nil, err
	}

	rc := remote.NewClient(client, cfg.MetadataURL, remote.Options{
		Timeout:  cfg.Timeout,
		Excluded: cfg.InCorruptWindow,
	}, obs)

	var inv *remote.Inventory
	if data_package {
		inv, err = rc.ForDataPackage(ctx, id)
	} else {
		inv, err = rc.ForDataset(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	inv, err = inv.Filter(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}

	downloader := retrieve.NewDownloader(client, retrieve.Options{
		FilesURL:  cfg.FilesURL,
		Timeout:   cfg.UploadTimeout,
		Overwrite: overwrite,
		CheckOnly: check_mode,
	}, obs)

	return downloader.Run(ctx, inv.Latest(), restore_root)
}
