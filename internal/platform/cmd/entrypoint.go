// Package cmd holds the startup steps shared by command entry points.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/louisbranch/prepared.space/internal/platform/config"
	"github.com/louisbranch/prepared.space/internal/platform/otel"
	"github.com/louisbranch/prepared.space/internal/platform/timeouts"
)

// ServiceLab names the drill lab in telemetry and logs.
const ServiceLab = "lab"

// LoadConfig loads envFile into the process environment, then reads
// environment defaults into cfg.
func LoadConfig[T any](cfg *T, envFile string) error {
	if cfg == nil {
		return errors.New("config target is required")
	}
	if err := config.LoadEnvFile(envFile); err != nil {
		return err
	}
	return config.ParseEnv(cfg)
}

// ParseArgs parses command-line flags.
func ParseArgs(fs *flag.FlagSet, args []string) error {
	if fs == nil {
		return errors.New("flag parser is required")
	}
	if args == nil {
		args = []string{}
	}
	return fs.Parse(args)
}

// RunWithTelemetry configures tracing for service and runs it until run
// returns. Pending spans are flushed before returning.
func RunWithTelemetry(ctx context.Context, service string, run func(context.Context) error) error {
	service = strings.TrimSpace(service)
	if service == "" {
		return fmt.Errorf("service name is required")
	}
	if run == nil {
		return fmt.Errorf("run function is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	shutdown, err := otel.Setup(ctx, service)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Printf("%s otel shutdown: %v", service, err)
		}
	}()
	return run(ctx)
}
