package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"discopilot/internal/app"
	"discopilot/internal/config"
)

func main() {
	var (
		cfgPath string
		check   bool
	)
	flag.StringVar(&cfgPath, "config", "", "path to config yaml/json (default: $"+config.EnvConfigPath+", ./config.yaml, ~/.config/discopilot/config.yaml)")
	flag.BoolVar(&check, "check", false, "validate the config and exit")
	flag.Parse()

	path, err := config.ResolvePath(cfgPath, os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if _, err := config.LoadDotEnv(filepath.Dir(path)); err != nil {
		fmt.Fprintln(os.Stderr, "fatal: load .env:", err)
		os.Exit(1)
	}
	cfgm := config.NewManager(path)

	if check {
		cfg, err := cfgm.Load()
		if err == nil {
			err = config.Validate(cfg)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "config %s is invalid:\n%v\n", path, err)
			os.Exit(1)
		}
		fmt.Printf("config %s OK (%d destinations)\n", path, len(cfg.Destinations))
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(cfgm)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.Stop(stopCtx, app.StopFatalError)
		stopCancel()
		os.Exit(1)
	}

	// The app context derives from ctx, so a signal also closes Done.
	<-a.Done()
	reason := app.StopSignal
	if ctx.Err() == nil {
		reason = app.StopUnknown
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)

	if err := a.Err(); err != nil && reason == app.StopFatalError {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		stopCancel()
		os.Exit(1)
	}
}
