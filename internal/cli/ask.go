package cli

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dudufisio/fisioflow/internal/llm"
	"github.com/spf13/cobra"
)

func newAskCmd() *cobra.Command {
	var (
		provider  string
		system    string
		maxTokens int
		stream    bool
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Send a one-shot prompt to the selected AI provider",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			router := llm.NewRouter(a.resolver, nil, log)
			req := llm.CompletionRequest{
				System:    system,
				Messages:  []llm.Message{{Role: llm.RoleUser, Content: strings.Join(args, " ")}},
				MaxTokens: maxTokens,
			}
			out := cmd.OutOrStdout()

			if !stream {
				resp, err := router.Complete(ctx, provider, req)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, resp.Content)
				log.Info().
					Str("provider", resp.Provider).
					Str("model", resp.Model).
					Int("inputTokens", resp.Usage.InputTokens).
					Int("outputTokens", resp.Usage.OutputTokens).
					Float64("costUsd", resp.CostUSD).
					Dur("duration", resp.Duration).
					Msg("completion done")
				return nil
			}

			ch, cfg, err := router.Stream(ctx, provider, req)
			if err != nil {
				return err
			}
			for evt := range ch {
				switch evt.Type {
				case llm.EventDelta:
					fmt.Fprint(out, evt.Content)
				case llm.EventError:
					fmt.Fprintln(out)
					return fmt.Errorf("%s", evt.Error)
				case llm.EventDone:
					fmt.Fprintln(out)
					if evt.Response != nil {
						log.Info().
							Str("provider", string(cfg.Key)).
							Int("outputTokens", evt.Response.Usage.OutputTokens).
							Float64("costUsd", evt.Response.CostUSD).
							Msg("completion done")
					}
				}
			}
			return ctx.Err()
		},
	}

	cmd.Flags().StringVarP(&provider, "provider", "p", "", "provider key or model alias (default: configured default)")
	cmd.Flags().StringVar(&system, "system", "", "system prompt")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "max output tokens (default: provider setting)")
	cmd.Flags().BoolVar(&stream, "stream", false, "stream the response")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "request timeout")

	return cmd
}
