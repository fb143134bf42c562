// Package app wires the lab runtime: storage, oracles, and the console or
// MCP front end.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/prepared.space/internal/services/lab/console"
	"github.com/louisbranch/prepared.space/internal/services/lab/drill"
	"github.com/louisbranch/prepared.space/internal/services/lab/engine"
	"github.com/louisbranch/prepared.space/internal/services/lab/mcpserver"
	"github.com/louisbranch/prepared.space/internal/services/lab/oracle"
	"github.com/louisbranch/prepared.space/internal/services/lab/oracle/luadrill"
	"github.com/louisbranch/prepared.space/internal/services/lab/oracle/openai"
	"github.com/louisbranch/prepared.space/internal/services/lab/storage/sqlite"
)

const (
	// ModePlay runs one drill in the terminal.
	ModePlay = "play"
	// ModeMCP serves drills to MCP clients.
	ModeMCP = "mcp"

	// OracleLua serves oracles from a Lua drill script.
	OracleLua = "lua"
	// OracleOpenAI serves oracles from the OpenAI Responses API.
	OracleOpenAI = "openai"
)

// RuntimeConfig is everything Run needs.
type RuntimeConfig struct {
	Mode          string
	ModuleID      string
	ModuleContext string

	Oracle string
	// Script is a Lua drill path; blank uses the embedded drill.
	Script             string
	OpenAIResponsesURL string
	OpenAIAPIKey       string
	OpenAIModel        string

	DBPath        string
	Policy        engine.Policy
	OracleTimeout time.Duration

	MCPTransport string
	MCPHTTPAddr  string
	// HealthPort serves gRPC health next to the MCP HTTP transport; 0 disables it.
	HealthPort int

	In      io.Reader
	Out     io.Writer
	NoColor bool
	Logger  *log.Logger
}

// Run serves the configured mode until it completes or ctx ends.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	oracles, err := BuildOracles(cfg)
	if err != nil {
		return err
	}
	store, err := openStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			cfg.Logger.Printf("close lab store: %v", err)
		}
	}()

	service, err := drill.NewService(drill.Config{
		Oracles:       oracle.WithTracing(oracles, nil),
		Policy:        cfg.Policy,
		OracleTimeout: cfg.OracleTimeout,
		Results:       store,
		Events:        store,
		Logger:        cfg.Logger,
	})
	if err != nil {
		return fmt.Errorf("build drill service: %w", err)
	}
	defer service.Close()

	switch strings.TrimSpace(cfg.Mode) {
	case "", ModePlay:
		return play(ctx, service, cfg)
	case ModeMCP:
		return serveMCP(ctx, service, cfg)
	default:
		return fmt.Errorf("mode %q is not supported", cfg.Mode)
	}
}

// BuildOracles selects the oracle provider named by cfg.Oracle.
func BuildOracles(cfg RuntimeConfig) (oracle.Set, error) {
	switch strings.TrimSpace(cfg.Oracle) {
	case "", OracleLua:
		var (
			script *luadrill.Drill
			err    error
		)
		if path := strings.TrimSpace(cfg.Script); path != "" {
			script, err = luadrill.Load(path, cfg.Logger)
		} else {
			script, err = luadrill.LoadEmbedded(luadrill.DefaultDrill, cfg.Logger)
		}
		if err != nil {
			return oracle.Set{}, err
		}
		return oracle.SetFrom(script), nil
	case OracleOpenAI:
		client, err := openai.New(openai.Config{
			ResponsesURL: cfg.OpenAIResponsesURL,
			APIKey:       cfg.OpenAIAPIKey,
			Model:        cfg.OpenAIModel,
			Logger:       cfg.Logger,
		})
		if err != nil {
			return oracle.Set{}, fmt.Errorf("build openai oracle: %w", err)
		}
		return oracle.SetFrom(client), nil
	default:
		return oracle.Set{}, fmt.Errorf("oracle %q is not supported", cfg.Oracle)
	}
}

func play(ctx context.Context, service *drill.Service, cfg RuntimeConfig) error {
	in, out := cfg.In, cfg.Out
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	c, err := console.New(service, console.Config{In: in, Out: out, NoColor: cfg.NoColor})
	if err != nil {
		return err
	}
	_, err = c.Play(ctx, cfg.ModuleID, cfg.ModuleContext)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func serveMCP(ctx context.Context, service *drill.Service, cfg RuntimeConfig) error {
	mcpCfg := mcpserver.Config{
		Transport: mcpserver.Transport(strings.TrimSpace(cfg.MCPTransport)),
		HTTPAddr:  cfg.MCPHTTPAddr,
		Defaults: mcpserver.Defaults{
			ModuleID:      cfg.ModuleID,
			ModuleContext: cfg.ModuleContext,
		},
		MaxSteps: cfg.Policy.MaxSteps,
	}
	if mcpCfg.Transport != mcpserver.TransportHTTP || cfg.HealthPort <= 0 {
		return mcpserver.Run(ctx, service, mcpCfg)
	}

	health, err := NewHealthServer(fmt.Sprintf(":%d", cfg.HealthPort))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	healthErr := make(chan error, 1)
	go func() {
		healthErr <- health.Serve(ctx)
	}()
	mcpErr := mcpserver.Run(ctx, service, mcpCfg)
	cancel()
	if err := <-healthErr; err != nil && mcpErr == nil {
		return err
	}
	return mcpErr
}

func openStore(path string) (*sqlite.Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = filepath.Join("data", "lab.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open lab sqlite store: %w", err)
	}
	return store, nil
}
