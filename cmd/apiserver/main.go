// apiserver is the standalone HTTP API binary for demandmap.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/urbanpulse/demandmap/internal/bootstrap"
	"github.com/urbanpulse/demandmap/internal/config"
	"github.com/urbanpulse/demandmap/internal/infrastructure/monitoring/logging"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.NewLogger(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("starting demandmap API server",
		logging.Int("port", cfg.Server.Port),
		logging.String("mode", cfg.Server.Mode))

	if err := bootstrap.RunAPIServer(cfg, log); err != nil {
		log.Error("api server exited", logging.Err(err))
		os.Exit(1)
	}
}

// loadConfig reads the config file when present, falling back to environment
// variables so the binary can run in containers without a mounted file.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.LoadFromEnv()
	}
	return config.Load(path)
}
