package main

import (
	"context"
	goflag "flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"treedrive/config"
)

const shutdownGrace = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	fs := pflag.NewFlagSet("gateway", pflag.ContinueOnError)
	configPath := fs.String("config", "", "YAML configuration file (default $"+config.EnvVar+")")
	flags := config.GatewayFlags(fs)
	fs.AddGoFlagSet(goflag.CommandLine)
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
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

	g := &gateway{
		fileServer: cfg.Gateway.FileServer,
		timeout:    cfg.Gateway.DialTimeout,
		cookieName: cfg.Gateway.CookieName,
	}
	srv := &http.Server{
		Addr:              cfg.Gateway.Listen,
		Handler:           g.routes(cfg.Gateway.Gzip),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	glog.Infof("Webserver listening on %s, file server at %s", cfg.Gateway.Listen, cfg.Gateway.FileServer)

	select {
	case err := <-errc:
		glog.Errorf("Error: webserver failed: %v", err)
		return 1
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		glog.Warningf("Shutdown: %v", err)
	}
	glog.Info("Webserver stopped.")
	return 0
}
