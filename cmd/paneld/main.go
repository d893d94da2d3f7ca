package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/fx"

	"github.com/wapanel/wapanel/internal/config"
	"github.com/wapanel/wapanel/internal/daemon"
)

func main() {
	dataDir := flag.String("data-dir", "", "data directory (default ~/.wapanel)")
	listen := flag.String("listen", "", "listen address (overrides config)")
	flag.Parse()

	cfg, err := loadConfig(*dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.ListenAddr = *listen
	}

	app := fx.New(
		daemon.Module(cfg),
	)

	app.Run()
}

// loadConfig reads config.toml from the data directory, writing the
// defaults on first run.
func loadConfig(dataDir string) (*config.Config, error) {
	cfg := config.Default()
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	path := filepath.Join(cfg.DataDir, "config.toml")
	loaded, err := config.Load(path)
	switch {
	case err == nil:
		if dataDir != "" {
			loaded.DataDir = dataDir
		}
		return loaded, nil
	case os.IsNotExist(err):
		if err := config.Save(path, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	default:
		return nil, err
	}
}
