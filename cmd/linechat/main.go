package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	code, err := run(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s (v%s) error:\n\n\t%v\n", BinaryName, Version, err)
	}
	os.Exit(code)
}

// run - loads configuration and runs chat in requested mode until it is done or interrupted.
func run(args []string) (int, error) {
	_ = godotenv.Load()
	config, err := parseConfig(args, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK, nil
	}
	if err != nil {
		return exitConfig, err
	}

	logger := logs.GetLoggerFromString(config.LogLevel).With("app", BinaryName, "version", Version)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if config.Mode == modeClient {
		return runClient(ctx, config, logger, os.Stdin, os.Stdout)
	}
	fmt.Fprint(os.Stderr, "TCP chat server is launching, press Ctrl-C to stop...\n")
	return runServer(ctx, config, logger)
}
