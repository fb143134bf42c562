// Package mcpserver exposes drill runs as MCP tools.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"

	"github.com/louisbranch/prepared.space/internal/platform/timeouts"
	"github.com/louisbranch/prepared.space/internal/services/lab/drill"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	serverName    = "prepared-space-lab"
	serverVersion = "0.1.0"
)

// Transport selects how the MCP server is reached.
type Transport string

const (
	// TransportStdio serves a single client over stdin/stdout.
	TransportStdio Transport = "stdio"
	// TransportHTTP serves streamable HTTP sessions.
	TransportHTTP Transport = "http"
)

// Config configures the MCP runtime.
type Config struct {
	Transport Transport
	HTTPAddr  string
	Defaults  Defaults
	// MaxSteps is reported in run views.
	MaxSteps int
}

// NewServer builds an MCP server with the drill tools registered.
func NewServer(service *drill.Service, cfg Config) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil)
	h := handlers{service: service, defaults: cfg.Defaults, maxSteps: cfg.MaxSteps}

	mcp.AddTool(server, DrillStartTool(), h.start())
	mcp.AddTool(server, DrillStateTool(), h.state())
	mcp.AddTool(server, DrillSelectChoiceTool(), h.selectChoice())
	mcp.AddTool(server, DrillSubmitResponseTool(), h.submitResponse())
	mcp.AddTool(server, DrillRequestHintTool(), h.requestHint())
	mcp.AddTool(server, DrillFinalizeTool(), h.finalize())
	mcp.AddTool(server, DrillResultsTool(), h.results())
	return server
}

// Run serves the drill tools on the configured transport until ctx ends.
func Run(ctx context.Context, service *drill.Service, cfg Config) error {
	if service == nil {
		return fmt.Errorf("drill service is required")
	}
	if cfg.Transport == "" {
		cfg.Transport = TransportStdio
	}
	server := NewServer(service, cfg)

	switch cfg.Transport {
	case TransportStdio:
		return serveWithTransport(ctx, server, &mcp.StdioTransport{})
	case TransportHTTP:
		return serveHTTP(ctx, server, cfg.HTTPAddr)
	default:
		return fmt.Errorf("transport %q is not supported", cfg.Transport)
	}
}

func serveWithTransport(ctx context.Context, server *mcp.Server, transport mcp.Transport) error {
	err := server.Run(ctx, transport)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("serve MCP: %w", err)
	}
	return nil
}

func serveHTTP(ctx context.Context, server *mcp.Server, addr string) error {
	if addr == "" {
		addr = "localhost:8093"
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return serveHTTPListener(ctx, server, listener)
}

func serveHTTPListener(ctx context.Context, server *mcp.Server, listener net.Listener) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)
	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: timeouts.ReadHeader,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(listener)
	}()
	log.Printf("lab MCP listening on http://%s", listener.Addr())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown MCP http: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve MCP http: %w", err)
	}
}
