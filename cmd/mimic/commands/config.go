package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jholhewres/mimic/pkg/mimic/config"
)

// newConfigCmd creates the `mimic config` command group for managing
// secrets in the OS keyring.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration and secrets",
	}

	cmd.AddCommand(newSetKeyCmd(), newDeleteKeyCmd(), newShowCmd())
	return cmd
}

// keyringEntry maps the user-facing secret name to its keyring key.
func keyringEntry(name string) (string, error) {
	switch name {
	case "api":
		return config.KeyAPIKey, nil
	case "discord":
		return config.KeyDiscordToken, nil
	default:
		return "", fmt.Errorf("unknown secret %q (use \"api\" or \"discord\")", name)
	}
}

func newSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key <api|discord>",
		Short: "Store a secret in the OS keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := keyringEntry(args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Enter %s secret: ", args[0])
			reader := bufio.NewReader(os.Stdin)
			value, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("reading secret: %w", err)
			}
			value = strings.TrimSpace(value)
			if value == "" {
				return fmt.Errorf("empty secret")
			}

			if err := config.StoreSecret(key, value); err != nil {
				return fmt.Errorf("storing secret: %w", err)
			}
			fmt.Printf("Stored %s secret in the OS keyring.\n", args[0])
			return nil
		},
	}
}

func newDeleteKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-key <api|discord>",
		Short: "Remove a secret from the OS keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := keyringEntry(args[0])
			if err != nil {
				return err
			}
			if err := config.DeleteSecret(key); err != nil {
				return fmt.Errorf("deleting secret: %w", err)
			}
			fmt.Printf("Removed %s secret from the OS keyring.\n", args[0])
			return nil
		},
	}
}

// newShowCmd prints the effective configuration with secrets masked.
func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}

			fmt.Printf("nicknames:      %s\n", strings.Join(cfg.Nicknames, ", "))
			fmt.Printf("model:          %s\n", cfg.API.Model)
			fmt.Printf("base url:       %s\n", cfg.API.BaseURL)
			fmt.Printf("api key:        %s\n", mask(cfg.API.Key))
			fmt.Printf("discord token:  %s\n", mask(cfg.Discord.Token))
			fmt.Printf("history:        %d entries, group limit %d\n", cfg.History.Length, cfg.History.GroupLimit)
			fmt.Printf("memory:         %s (limit %d)\n", cfg.Memory.Path, cfg.Memory.Limit)
			fmt.Printf("features:       history=%t users=%t classify=%t plugins=%t\n",
				cfg.Features.History, cfg.Features.Users, cfg.Features.Classify, cfg.Features.Plugins)
			fmt.Printf("revive:         enabled=%t cron=%q channels=%d\n",
				cfg.Revive.Enabled, cfg.Revive.Cron, len(cfg.Revive.Channels))
			return nil
		},
	}
}

func mask(secret string) string {
	if secret == "" {
		return "(not set)"
	}
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}
