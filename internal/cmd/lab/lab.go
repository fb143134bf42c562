// Package lab parses lab command flags and launches a drill in the terminal
// or over MCP.
package lab

import (
	"context"
	"flag"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/prepared.space/internal/platform/cmd"
	"github.com/louisbranch/prepared.space/internal/services/lab/app"
	"github.com/louisbranch/prepared.space/internal/services/lab/engine"
)

const defaultEnvFile = ".env"

// Config holds lab command configuration.
type Config struct {
	Mode          string `env:"PREPARED_SPACE_LAB_MODE"           envDefault:"play"`
	ModuleID      string `env:"PREPARED_SPACE_LAB_MODULE_ID"      envDefault:"floods"`
	ModuleContext string `env:"PREPARED_SPACE_LAB_MODULE_CONTEXT" envDefault:"Flood preparedness: reading warnings, evacuating early, and returning home safely."`

	Oracle             string `env:"PREPARED_SPACE_LAB_ORACLE"               envDefault:"lua"`
	Script             string `env:"PREPARED_SPACE_LAB_SCRIPT"`
	OpenAIResponsesURL string `env:"PREPARED_SPACE_LAB_OPENAI_RESPONSES_URL"`
	OpenAIAPIKey       string `env:"PREPARED_SPACE_LAB_OPENAI_API_KEY"`
	OpenAIModel        string `env:"PREPARED_SPACE_LAB_OPENAI_MODEL"`

	DBPath             string        `env:"PREPARED_SPACE_LAB_DB_PATH"              envDefault:"data/lab.db"`
	MaxSteps           int           `env:"PREPARED_SPACE_LAB_MAX_STEPS"            envDefault:"5"`
	LeadingChoiceSteps int           `env:"PREPARED_SPACE_LAB_LEADING_CHOICE_STEPS" envDefault:"2"`
	StepDuration       time.Duration `env:"PREPARED_SPACE_LAB_STEP_DURATION"        envDefault:"90s"`
	OracleTimeout      time.Duration `env:"PREPARED_SPACE_LAB_ORACLE_TIMEOUT"       envDefault:"30s"`

	MCPTransport string `env:"PREPARED_SPACE_LAB_MCP_TRANSPORT" envDefault:"stdio"`
	MCPHTTPAddr  string `env:"PREPARED_SPACE_LAB_MCP_HTTP_ADDR" envDefault:"localhost:8093"`
	HealthPort   int    `env:"PREPARED_SPACE_LAB_HEALTH_PORT"   envDefault:"0"`
	NoColor      bool   `env:"PREPARED_SPACE_LAB_NO_COLOR"`

	EnvFile string
}

// ParseConfig loads the env file named by -env-file, then parses environment
// and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	envFile := envFileFromArgs(args)
	var cfg Config
	if err := entrypoint.LoadConfig(&cfg, envFile); err != nil {
		return Config{}, err
	}
	cfg.EnvFile = envFile

	fs.StringVar(&cfg.EnvFile, "env-file", cfg.EnvFile, "dotenv file loaded before the environment is read")
	fs.StringVar(&cfg.Mode, "mode", cfg.Mode, "Run mode: play or mcp")
	fs.StringVar(&cfg.ModuleID, "module", cfg.ModuleID, "Module identifier the drill belongs to")
	fs.StringVar(&cfg.ModuleContext, "module-context", cfg.ModuleContext, "Module summary used to ground scenarios")
	fs.StringVar(&cfg.Oracle, "oracle", cfg.Oracle, "Oracle provider: lua or openai")
	fs.StringVar(&cfg.Script, "script", cfg.Script, "Lua drill script (defaults to the embedded flood drill)")
	fs.StringVar(&cfg.OpenAIModel, "openai-model", cfg.OpenAIModel, "OpenAI model name")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path for drill results")
	fs.IntVar(&cfg.MaxSteps, "steps", cfg.MaxSteps, "Steps per run")
	fs.IntVar(&cfg.LeadingChoiceSteps, "choice-steps", cfg.LeadingChoiceSteps, "Leading multiple-choice steps")
	fs.DurationVar(&cfg.StepDuration, "step-duration", cfg.StepDuration, "Response deadline per step")
	fs.DurationVar(&cfg.OracleTimeout, "oracle-timeout", cfg.OracleTimeout, "Deadline for each oracle call")
	fs.StringVar(&cfg.MCPTransport, "transport", cfg.MCPTransport, "MCP transport: stdio or http")
	fs.StringVar(&cfg.MCPHTTPAddr, "http-addr", cfg.MCPHTTPAddr, "HTTP server address (for HTTP transport)")
	fs.IntVar(&cfg.HealthPort, "health-port", cfg.HealthPort, "gRPC health port for the HTTP transport (0 disables)")
	fs.BoolVar(&cfg.NoColor, "no-color", cfg.NoColor, "Disable colored output")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Policy returns the run policy described by cfg.
func (c Config) Policy() engine.Policy {
	return engine.Policy{
		MaxSteps:           c.MaxSteps,
		LeadingChoiceSteps: c.LeadingChoiceSteps,
		StepDuration:       c.StepDuration,
	}
}

// Run starts the lab in the configured mode.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceLab, func(ctx context.Context) error {
		return app.Run(ctx, runtimeConfig(cfg))
	})
}

func runtimeConfig(cfg Config) app.RuntimeConfig {
	return app.RuntimeConfig{
		Mode:               cfg.Mode,
		ModuleID:           cfg.ModuleID,
		ModuleContext:      cfg.ModuleContext,
		Oracle:             cfg.Oracle,
		Script:             cfg.Script,
		OpenAIResponsesURL: cfg.OpenAIResponsesURL,
		OpenAIAPIKey:       cfg.OpenAIAPIKey,
		OpenAIModel:        cfg.OpenAIModel,
		DBPath:             cfg.DBPath,
		Policy:             cfg.Policy(),
		OracleTimeout:      cfg.OracleTimeout,
		MCPTransport:       cfg.MCPTransport,
		MCPHTTPAddr:        cfg.MCPHTTPAddr,
		HealthPort:         cfg.HealthPort,
		NoColor:            cfg.NoColor,
	}
}

// envFileFromArgs finds -env-file ahead of flag parsing so the file can feed
// the environment defaults.
func envFileFromArgs(args []string) string {
	for i, arg := range args {
		if arg == "--" {
			break
		}
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if !strings.HasPrefix(arg, "-") || name != "env-file" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return defaultEnvFile
}
