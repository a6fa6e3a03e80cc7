package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkessel/loremaster/internal/agent"
	"github.com/mkessel/loremaster/internal/config"
	"github.com/mkessel/loremaster/internal/gateway"
	"github.com/mkessel/loremaster/internal/llm"
	"github.com/mkessel/loremaster/internal/logging"
	"github.com/mkessel/loremaster/internal/store"
)

func newGatewayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Manage the Loremaster gateway server",
	}

	cmd.AddCommand(newGatewayRunCmd())
	return cmd
}

func newGatewayRunCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			if err := paths.EnsureDirs(); err != nil {
				return fmt.Errorf("creating data directories: %w", err)
			}

			if cfg.Logging.File != "" {
				fileLog, closer, err := logging.NewFile(cfg.Logging.File, cfg.Logging.Level)
				if err != nil {
					return fmt.Errorf("opening log file: %w", err)
				}
				defer closer.Close()
				log = fileLog
			}

			dbPath := paths.DatabasePath(&cfg)
			db, err := store.Open(dbPath, log)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close()
			log.Info().Str("path", dbPath).Msg("database open")

			games := store.NewGameStore(db)
			notes := store.NewNoteStore(db)
			agents := store.NewAgentStore(db)

			router := llm.NewRouter(llm.RouterConfig{
				OpenAIAPIKey:  cfg.Providers.OpenAI.APIKey,
				OpenAIBaseURL: cfg.Providers.OpenAI.BaseURL,
				ClaudeAPIKey:  cfg.Providers.Anthropic.APIKey,
				ClaudeBaseURL: cfg.Providers.Anthropic.BaseURL,
				Timeout:       time.Duration(cfg.Providers.TimeoutSeconds) * time.Second,
			}, log)
			if cfg.Providers.OpenAI.APIKey == "" && cfg.Providers.Anthropic.APIKey == "" {
				log.Warn().Msg("no provider API keys configured; agent turns will fail")
			}

			runner := agent.NewRunner(games, notes, agents, router, nil, log)

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := gateway.New(cfg, log, games, notes, agents, runner)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan, custom)")

	return cmd
}
