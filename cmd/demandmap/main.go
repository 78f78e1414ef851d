// demandmap is the command-line interface: dataset simulation, offline
// fitting, residual diagnostics, and the API server.
package main

import (
	"os"

	"github.com/urbanpulse/demandmap/internal/interfaces/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
