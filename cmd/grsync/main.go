// Command grsync serves cached avatars and keeps them in sync with the
// remote provider.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	grsync "github.com/Skryldev/grsync"
	"github.com/Skryldev/grsync/config"
	"github.com/Skryldev/grsync/hooks"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "grsync:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.Load(args, os.LookupEnv)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	logger := hooks.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := grsync.New(cfg, grsync.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()

	if err := svc.Serve(ctx); err != nil {
		return err
	}
	processed, failed := svc.Stats()
	logger.Info("grsync stopped", "transcoded", processed, "transcode_errors", failed)
	return nil
}
