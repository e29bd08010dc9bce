package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dudufisio/fisioflow/internal/providers"
	"github.com/spf13/cobra"
)

func newProvidersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "providers",
		Aliases: []string{"ai"},
		Short:   "Inspect and change AI provider settings",
	}

	cmd.AddCommand(newProvidersListCmd())
	cmd.AddCommand(newProvidersToggleCmd("enable", "Enable a provider", true))
	cmd.AddCommand(newProvidersToggleCmd("disable", "Disable a provider", false))
	cmd.AddCommand(newProvidersDefaultCmd())
	cmd.AddCommand(newProvidersSettingsCmd())
	cmd.AddCommand(newProvidersResetCmd())
	cmd.AddCommand(newProvidersHistoryCmd())

	return cmd
}

func newProvidersListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List providers with their effective enabled state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			merged := a.resolver.MergedConfigs()
			def, derr := a.resolver.DefaultProvider()

			if asJSON {
				redacted := make([]providers.Config, 0, merged.Len())
				for _, c := range merged.All() {
					redacted = append(redacted, c.Redacted())
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"providers": redacted, "defaultProvider": def})
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tNAME\tMODEL\tENABLED\tDEFAULT")
			for _, c := range merged.All() {
				mark := ""
				if c.Key == def {
					mark = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t%s\n", c.Key, c.Name, c.Model, c.Enabled, mark)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if errors.Is(derr, providers.ErrDefaultDrift) {
				fmt.Fprintf(cmd.OutOrStdout(), "\nwarning: default provider %q is not in the provider table\n", def)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newProvidersToggleCmd(use, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <key>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			key, err := lookupProvider(a.resolver.Catalog(), args[0])
			if err != nil {
				return err
			}
			if _, err := a.resolver.SetEnabled(key, enabled); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: enabled=%v\n", key, enabled)
			return nil
		},
	}
}

// lookupProvider resolves a key or alias, listing the known keys on a miss.
func lookupProvider(c *providers.Catalog, name string) (providers.Key, error) {
	key, ok := c.Lookup(name)
	if !ok {
		known := make([]string, 0, c.Len())
		for _, k := range c.Keys() {
			known = append(known, string(k))
		}
		return "", fmt.Errorf("%w: %q (known: %s)", providers.ErrUnknownProvider, name, strings.Join(known, ", "))
	}
	return key, nil
}

func newProvidersDefaultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "default <key>",
		Short: "Set the default provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			key, err := lookupProvider(a.resolver.Catalog(), args[0])
			if err != nil {
				return err
			}
			if _, err := a.resolver.SetDefault(key); err != nil {
				return err
			}
			if c, _ := a.resolver.MergedConfigs().Get(key); !c.Enabled {
				fmt.Fprintf(cmd.OutOrStdout(), "warning: %s is disabled, calls will fall back until it is enabled\n", key)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Default provider: %s\n", key)
			return nil
		},
	}
}

func newProvidersSettingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "Print the persisted provider settings as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(a.resolver.Load())
		},
	}
}

func newProvidersResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Delete persisted overrides and return to built-in defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.resolver.Reset(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Provider settings reset")
			return nil
		},
	}
}

func newProvidersHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show previously saved provider settings, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if a.sqliteKV == nil {
				return errors.New("settings history requires the sqlite storage driver")
			}
			revs, err := a.sqliteKV.History(providers.SettingsKey, limit)
			if err != nil {
				return err
			}
			if len(revs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No earlier settings recorded")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "REPLACED\tDEFAULT\tENABLED")
			for _, rev := range revs {
				def, enabled := "?", "(unreadable)"
				var s providers.Settings
				if json.Unmarshal([]byte(rev.Value), &s) == nil {
					def = string(s.DefaultProvider)
					var keys []string
					for k, o := range s.Providers {
						if o.Enabled {
							keys = append(keys, string(k))
						}
					}
					slices.Sort(keys)
					enabled = orNone(strings.Join(keys, ","))
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", rev.ReplacedAt.Local().Format(time.DateTime), def, enabled)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of entries to show")
	return cmd
}
