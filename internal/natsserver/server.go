// Package natsserver embeds a NATS broker so single-box deployments need no
// external bus.
package natsserver

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedServer wraps an in-process NATS broker.
type EmbeddedServer struct {
	ns  *server.Server
	log *slog.Logger
}

// Start launches an embedded broker on port and waits until it accepts
// connections. Pass server.RANDOM_PORT to let the OS choose.
func Start(port int, log *slog.Logger) (*EmbeddedServer, error) {
	opts := &server.Options{
		Host:  "127.0.0.1",
		Port:  port,
		Trace: false,
		Debug: false,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded bus: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded bus failed to start within 5 seconds")
	}

	log.Info("embedded bus started", slog.String("url", ns.ClientURL()))

	return &EmbeddedServer{ns: ns, log: log}, nil
}

// ClientURL returns the broker's connection URL.
func (e *EmbeddedServer) ClientURL() string {
	return e.ns.ClientURL()
}

// Shutdown stops the broker and waits for it to exit.
func (e *EmbeddedServer) Shutdown() {
	if e == nil || e.ns == nil {
		return
	}
	e.log.Info("shutting down embedded bus")
	e.ns.Shutdown()
	e.ns.WaitForShutdown()
}
