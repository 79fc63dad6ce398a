// Command broker runs the iotbroker process: the MQTT listener, the HTTP
// device adapter, and the management adapter, wired together by app.New.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/meshgate/iotbroker/app"
)

func main() {
	configPath := flag.String("config", "", "path to an optional YAML config override file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "iotbroker: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	a, err := app.New(ctx, configPath)
	if err != nil {
		return fmt.Errorf("initializing: %w", err)
	}
	return a.Run(ctx)
}
