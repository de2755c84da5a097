// Command ponderd runs the indexing engine CLI with an empty handler
// registry. Real deployments vendor this module, construct their own
// engine.Registry with their indexing handlers registered, and call
// cmd.Execute themselves instead of running this binary directly.
package main

import (
	"os"

	"github.com/ponderengine/core/internal/cmd"
	"github.com/ponderengine/core/internal/engine"
)

func main() {
	if err := cmd.Execute(engine.NewRegistry()); err != nil {
		os.Exit(1)
	}
}
