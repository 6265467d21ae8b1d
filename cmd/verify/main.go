package main

import (
	"context"

	"dev/bravebird/simulation-verifier/pkg/verify"
)

// Verifies the simulation served on localhost:8080 renders, leaving
// simulation.png or error.png behind. Always exits 0.
func main() {
	cfg := verify.DefaultConfig()
	runner := verify.NewRunner(cfg, verify.NewRodLauncher(cfg))
	runner.Run(context.Background())
}
