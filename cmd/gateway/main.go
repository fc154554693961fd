// Command gateway receives satellite telemetry over LoRa and republishes it to MQTT.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/skobkin/berryweather/internal/app"
	"github.com/skobkin/berryweather/internal/config"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("gateway", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file (default: user config dir)")
	showVersion := fs.Bool("version", false, "print version and exit")
	clearDB := fs.Bool("clear-db", false, "delete stored satellite statuses and the frame log, then exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Printf("%s %s\n", app.Name, app.BuildVersionWithDate())
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Initialize(ctx, app.Options{
		ConfigPath: *configPath,
		Role:       config.RoleGateway,
	})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	if *clearDB {
		return rt.ClearDatabase(ctx)
	}

	return rt.Run()
}
