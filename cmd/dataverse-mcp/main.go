// Command dataverse-mcp serves the Dataverse MCP tools over stdio.
//
// Usage:
//
//	dataverse-mcp [--environment-url URL] [--config FILE] [--log-level LEVEL]
//
// Settings are layered: built-in defaults, then the YAML config file, then
// environment variables, then flags. Logs are written as JSON to stderr
// because stdout carries the protocol.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/powerapps-dev/dataverse-mcp/internal/config"
	"github.com/powerapps-dev/dataverse-mcp/internal/dataverse"
	"github.com/powerapps-dev/dataverse-mcp/internal/logctx"
	"github.com/powerapps-dev/dataverse-mcp/internal/tools"
	"github.com/powerapps-dev/dataverse-mcp/mcp"
	"github.com/powerapps-dev/dataverse-mcp/mcpservice"
	"github.com/powerapps-dev/dataverse-mcp/stdio"
	"github.com/spf13/cobra"
)

const serverName = "PowerApps MCP Server"

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(execute())
}

func execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}

type rootFlags struct {
	environmentURL string
	configPath     string
	logLevel       string
}

func newRootCommand() *cobra.Command {
	var f rootFlags
	cmd := &cobra.Command{
		Use:          "dataverse-mcp",
		Short:        "MCP server exposing Microsoft Dataverse tools over stdio",
		Version:      version,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, &f)
		},
	}
	cmd.Flags().StringVar(&f.environmentURL, "environment-url", "", "Dataverse environment URL (e.g. https://yourorg.crm.dynamics.com)")
	cmd.Flags().StringVar(&f.configPath, "config", "", "path to a YAML config file")
	cmd.Flags().StringVar(&f.logLevel, "log-level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	return cmd
}

func loadConfig(cmd *cobra.Command, f *rootFlags) (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if cmd.Flags().Changed("environment-url") {
		cfg.EnvironmentURL = f.environmentURL
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func run(cmd *cobra.Command, f *rootFlags) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	levelVar := new(slog.LevelVar)
	levelVar.Set(level)
	log := slog.New(logctx.Handler{Handler: slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: levelVar})})

	reg, err := tools.NewRegistry(tools.Options{Dataverse: newDirectory(ctx, cfg, log)})
	if err != nil {
		return fmt.Errorf("build tools: %w", err)
	}

	srv := mcpservice.NewServer(
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: serverName, Version: version}),
		mcpservice.WithToolsCapability(reg),
		mcpservice.WithLoggingCapability(mcpservice.NewSlogLevelVarLogging(levelVar)),
	)

	log.InfoContext(ctx, "server.start",
		slog.String("version", version),
		slog.String("environment_url", cfg.EnvironmentURL),
		slog.Int("tools", reg.Len()),
	)

	h := stdio.NewHandler(srv,
		stdio.WithIO(cmd.InOrStdin(), cmd.OutOrStdout()),
		stdio.WithLogger(log),
	)
	if err := h.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.InfoContext(ctx, "server.stop")
	return nil
}

// newDirectory builds the Dataverse client behind who_am_i. It returns nil
// when no environment is configured. Credential problems do not stop the
// server; they are reported by who_am_i instead.
func newDirectory(ctx context.Context, cfg config.Config, log *slog.Logger) tools.Directory {
	if cfg.EnvironmentURL == "" {
		log.WarnContext(ctx, "dataverse.unconfigured")
		return nil
	}

	hc := &http.Client{Timeout: cfg.RequestTimeout}
	creds, err := dataverse.NewCredentials(dataverse.CredentialsConfig{
		TenantID:      cfg.Auth.TenantID,
		ClientID:      cfg.Auth.ClientID,
		ClientSecret:  cfg.Auth.ClientSecret,
		AuthorityHost: cfg.Auth.AuthorityHost,
		TokenURL:      cfg.Auth.TokenURL,
		AccessToken:   cfg.Auth.AccessToken,
	}, hc)
	if err != nil {
		log.WarnContext(ctx, "dataverse.credentials.fail", slog.String("err", err.Error()))
		return tools.Unavailable(cfg.EnvironmentURL, err)
	}

	client, err := dataverse.NewClient(cfg.EnvironmentURL, creds,
		dataverse.WithHTTPClient(hc),
		dataverse.WithAPIVersion(cfg.APIVersion),
		dataverse.WithTimeout(cfg.RequestTimeout),
		dataverse.WithLogger(log),
	)
	if err != nil {
		log.WarnContext(ctx, "dataverse.client.fail", slog.String("err", err.Error()))
		return tools.Unavailable(cfg.EnvironmentURL, err)
	}
	log.DebugContext(ctx, "dataverse.client.ready", slog.String("scope", client.Scope()))
	return client
}
