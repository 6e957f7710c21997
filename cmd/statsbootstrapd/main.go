package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"statsbootstrap/internal/app"
)

const (
	exitCodeFailure = 1
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// forwardReloads turns SIGHUP into non-blocking reload requests until ctx ends.
func forwardReloads(ctx context.Context) <-chan struct{} {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	reload := make(chan struct{}, 1)
	go func() {
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				select {
				case reload <- struct{}{}:
				default:
				}
			}
		}
	}()
	return reload
}

// run starts the daemon process.
// Params: args command line without program name.
// Returns: process exit code.
func run(args []string) int {
	flags := pflag.NewFlagSet("statsbootstrapd", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "config.toml", "path to TOML config file or directory")
	showInfo := flags.BoolP("version", "v", false, "show build information")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return exitCodeFailure
	}

	if *showInfo {
		fmt.Printf("statsbootstrapd version=%s commit=%s date=%s\n", version, commit, date)
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, app.Runtime{ConfigPath: *configPath, Reload: forwardReloads(ctx)}); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitCodeFailure
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:]))
}
