package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jholhewres/mimic/pkg/mimic/llm"
	"github.com/jholhewres/mimic/pkg/mimic/memory"
)

// newMemoryCmd creates the `mimic memory` command group for inspecting
// the agent's long-term memory store.
func newMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect the agent's long-term memory",
	}

	cmd.AddCommand(newMemorySearchCmd())
	return cmd
}

func newMemorySearchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search stored memories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)

			var embedder llm.Embedder
			if cfg.API.EmbeddingModel != "" && cfg.API.Key != "" {
				api := llm.NewClient(cfg.API.BaseURL, cfg.API.Key, logger)
				embedder = llm.NewEmbedding(api, cfg.API.EmbeddingModel)
			}

			store, err := memory.NewSQLiteStore(cfg.Memory.Path, embedder, logger)
			if err != nil {
				return fmt.Errorf("opening memory store: %w", err)
			}
			defer store.Close()

			query := strings.Join(args, " ")
			entries, err := store.Search(cmd.Context(), query, memory.Filter{}, limit)
			if err != nil {
				return fmt.Errorf("searching memories: %w", err)
			}

			if len(entries) == 0 {
				fmt.Println("No memories found.")
				return nil
			}
			for _, e := range entries {
				fmt.Printf("[%s] (%s %s)\n%s\n\n",
					e.Time.Format("2006-01-02 15:04"), e.TargetKind, e.TargetName, e.Text)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "maximum results")
	return cmd
}
