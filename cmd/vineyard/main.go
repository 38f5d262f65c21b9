// Vineyard - service registry and API gateway.
//
// vineyard keeps the catalogue of services, environments and APIs in a
// relational store and serves the published APIs through pluggable
// backends: HTTP routes on the gateway listener and, when a broker is
// configured, MQTT destinations.
//
// Usage:
//
//	vineyard serve                 run the gateway
//	vineyard services              list registered services
//	vineyard deployments [svc]     list deployments
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/vineyard-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
