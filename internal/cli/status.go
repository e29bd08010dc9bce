package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dudufisio/fisioflow/internal/config"
	"github.com/dudufisio/fisioflow/internal/providers"
	"github.com/dudufisio/fisioflow/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show FisioFlow status and configuration summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "FisioFlow %s (commit %s)\n\n", version.Version, version.Short(version.Commit))

			fmt.Fprintf(out, "Config:  %s\n", paths.Config)
			fmt.Fprintf(out, "Data:    %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:    %s\n", paths.Logs)
			fmt.Fprintln(out)

			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(out, "Config:  error loading: %v\n", err)
				return nil
			}

			storage := cfg.Storage.Driver
			if storage == "sqlite" {
				storage += " " + paths.StoragePath(cfg.Storage)
			}
			fmt.Fprintf(out, "Storage: %s\n", storage)
			fmt.Fprintf(out, "Gateway: port=%d bind=%s auth=%s tls=%v\n",
				cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.Auth.Mode, cfg.Gateway.TLS.Enabled)

			if issues := config.Validate(&cfg); len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s\n", issue)
				}
				return nil
			}

			a, err := openApp()
			if err != nil {
				fmt.Fprintf(out, "AI:      error opening settings: %v\n", err)
				return nil
			}
			defer a.Close()

			if a.sqliteKV != nil {
				schema, _ := a.db.SchemaVersion()
				saved := "never (built-in defaults)"
				if ts, ok, err := a.sqliteKV.UpdatedAt(providers.SettingsKey); err == nil && ok {
					saved = ts.Local().Format(time.DateTime)
				}
				fmt.Fprintf(out, "Schema:  v%d, settings saved %s\n", schema, saved)
			}

			merged := a.resolver.MergedConfigs()
			var enabled []string
			for _, c := range merged.Enabled() {
				enabled = append(enabled, string(c.Key))
			}
			fmt.Fprintf(out, "AI:      mode=%s providers=%d enabled=%s\n",
				cfg.AI.Mode, merged.Len(), orNone(strings.Join(enabled, ",")))

			def, err := a.resolver.DefaultProvider()
			switch {
			case errors.Is(err, providers.ErrDefaultDrift):
				fmt.Fprintf(out, "Default: %s (warning: not in the provider table, calls fall back)\n", def)
			case err != nil:
				return err
			default:
				fmt.Fprintf(out, "Default: %s\n", def)
			}

			if sel, err := a.resolver.Select(""); err == nil {
				fmt.Fprintf(out, "Routing: %s (%s)\n", sel.Key, sel.Model)
			} else {
				fmt.Fprintf(out, "Routing: %v\n", err)
			}
			return nil
		},
	}

	return cmd
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
