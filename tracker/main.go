package main

import (
	"context"
	goflag "flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"go.opencensus.io/stats/view"

	"treedrive/config"
	"treedrive/server"
	"treedrive/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	fs := pflag.NewFlagSet("tracker", pflag.ContinueOnError)
	configPath := fs.String("config", "", "YAML configuration file (default $"+config.EnvVar+")")
	flags := config.ServerFlags(fs)
	fs.AddGoFlagSet(goflag.CommandLine)
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	// glog reads its flags from the standard flag set.
	goflag.CommandLine.Parse(nil)

	cfg, err := config.Load(*configPath)
	if err != nil {
		glog.Errorf("Error: %v", err)
		return 1
	}
	flags.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		glog.Errorf("Error: invalid configuration: %v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg.Server); err != nil {
		glog.Errorf("Error: %v", err)
		return 1
	}
	glog.Info("File server stopped.")
	return 0
}

func serve(ctx context.Context, cfg config.Server) error {
	records, err := store.Open(cfg.Metadata.Backend, cfg.Metadata.Path)
	if err != nil {
		return errors.Wrap(err, "opening metadata")
	}
	defer records.Close()

	files, err := store.OpenDir(cfg.StorageDir)
	if err != nil {
		return errors.Wrap(err, "opening storage directory")
	}
	catalog := store.NewCatalog(records, files)
	problems, err := catalog.Reconcile()
	if err != nil {
		return errors.Wrap(err, "checking stored files against metadata")
	}
	if problems > 0 {
		glog.Warningf("%d metadata inconsistencies found; the affected files are hidden", problems)
	}

	if cfg.StatsInterval > 0 {
		if err := server.RegisterViews(); err != nil {
			return errors.Wrap(err, "registering stats views")
		}
		exporter := server.LogExporter{}
		view.RegisterExporter(exporter)
		defer view.UnregisterExporter(exporter)
		view.SetReportingPeriod(cfg.StatsInterval)
	}

	ln, err := server.Listen(ctx, cfg.Listen, cfg.MaxConnections)
	if err != nil {
		return err
	}
	srv := server.New(ln, catalog, server.Options{
		PollTimeout:   cfg.PollTimeout,
		ReadChunkSize: cfg.ReadChunkSize,
		SendChunkSize: cfg.SendChunkSize,
		MaxLineLength: cfg.MaxLineLength,
		MaxUploadSize: cfg.MaxUploadSize,
		WriteTimeout:  cfg.WriteTimeout,
		WriteQueue:    cfg.WriteQueue,
	})
	return srv.Serve(ctx)
}
