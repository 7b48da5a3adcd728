package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/passivehome/climatecore/internal/app"
	"github.com/passivehome/climatecore/internal/log"
	"github.com/passivehome/climatecore/internal/types"
)

const version = "1.0-" + runtime.GOOS + "/" + runtime.GOARCH

func main() {
	cfgFile := flag.String("config", "config.yaml", "Path to the YAML configuration file")
	debug := flag.Bool("debug", false, "Turn on debugging output")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("climatecore %s\n", version)
		os.Exit(0)
	}

	filename, _ := filepath.Abs(*cfgFile)
	cfg, err := types.NewConfig(filename)
	if err != nil {
		fmt.Printf("Failed to load configuration. Did you pass the -config flag? Run with -h for help: %v\n", err)
		os.Exit(1)
	}

	if err := log.Init(*debug, cfg.LogFile); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	application := app.New(cfg, log.GetSugaredLogger())
	if err := application.Run(context.Background()); err != nil {
		log.Errorf("Application error: %v", err)
		os.Exit(1)
	}
}
