// Command satellite collects sensor readings and delivers them to the gateway over LoRa.
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
	fs := flag.NewFlagSet("satellite", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file (default: user config dir)")
	showVersion := fs.Bool("version", false, "print version and exit")
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
		Role:       config.RoleSatellite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	return rt.Run()
}
