package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/dudufisio/fisioflow/internal/config"
	"github.com/dudufisio/fisioflow/internal/gateway"
	"github.com/dudufisio/fisioflow/internal/llm"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
		noAI bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the settings gateway (HTTP + WebSocket)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(func(cfg *config.Config) {
				if port != 0 {
					cfg.Gateway.Port = port
				}
				if bind != "" {
					cfg.Gateway.Bind = bind
				}
			})
			if err != nil {
				return err
			}
			defer a.Close()

			var opts []gateway.ServerOption
			if noAI {
				log.Info().Msg("completions disabled")
			} else {
				opts = append(opts, gateway.WithRouter(llm.NewRouter(a.resolver, nil, log)))
			}

			if _, err := a.resolver.DefaultProvider(); err != nil {
				log.Warn().Err(err).Msg("persisted default provider is stale, calls will fall back")
			}
			if len(a.resolver.MergedConfigs().Enabled()) == 0 {
				log.Warn().Msg("no AI provider is enabled")
			}

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := gateway.New(a.cfg, a.resolver, log, opts...)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan, custom)")
	cmd.Flags().BoolVar(&noAI, "no-ai", false, "serve settings only, without the ai.complete endpoints")

	return cmd
}
