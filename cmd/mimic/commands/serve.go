package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/jholhewres/mimic/pkg/mimic/collector"
	"github.com/jholhewres/mimic/pkg/mimic/config"
	"github.com/jholhewres/mimic/pkg/mimic/environment"
	"github.com/jholhewres/mimic/pkg/mimic/llm"
	"github.com/jholhewres/mimic/pkg/mimic/memory"
	"github.com/jholhewres/mimic/pkg/mimic/persona"
	"github.com/jholhewres/mimic/pkg/mimic/platform"
	"github.com/jholhewres/mimic/pkg/mimic/platform/discord"
	"github.com/jholhewres/mimic/pkg/mimic/plugins"
	"github.com/jholhewres/mimic/pkg/mimic/tasks"
)

// newServeCmd creates the `mimic serve` command that starts the agent.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to Discord and start the agent",
		Long: `Start the agent: connect to Discord, collect incoming messages into
bursts, and answer conversations it is part of.

Examples:
  mimic serve
  mimic serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)

	if cfg.Discord.Token == "" {
		return fmt.Errorf("no Discord token configured; run `mimic config set-key discord` or set MIMIC_DISCORD_TOKEN")
	}
	if cfg.API.Key == "" {
		return fmt.Errorf("no API key configured; run `mimic config set-key api` or set MIMIC_API_KEY")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Platform ──
	client := discord.New(cfg.Discord, logger)

	// ── Completion backend ──
	api := llm.NewClient(cfg.API.BaseURL, cfg.API.Key, logger)

	var classifier *llm.Classifier
	if cfg.Features.Classify {
		model := cfg.API.ClassifierModel
		if model == "" {
			model = cfg.API.Model
		}
		classifier = llm.NewClassifier(api, model, logger)
	}

	// ── Memory ──
	var embedder llm.Embedder
	if cfg.API.EmbeddingModel != "" {
		embedder = llm.NewEmbedding(api, cfg.API.EmbeddingModel)
	}
	store, err := memory.NewSQLiteStore(cfg.Memory.Path, embedder, logger)
	if err != nil {
		return fmt.Errorf("opening memory store: %w", err)
	}
	defer store.Close()

	// ── Environment ──
	assembler := environment.NewAssembler(client, environment.Options{
		Length:       cfg.History.Length,
		GroupLimit:   cfg.History.GroupLimit,
		FetchHistory: cfg.Features.History,
	}, logger)

	// ── Scheduler ──
	scheduler := tasks.New(logger)

	// ── Plugins ──
	registry := plugins.NewRegistry(cfg.Plugins.Blacklist, logger)
	builtin := []plugins.Plugin{
		&plugins.Remind{Filer: scheduler},
		&plugins.React{Chat: client},
		&plugins.Sticker{Directory: client},
		&plugins.Memorize{Store: store},
		&plugins.Whois{Store: store},
	}
	for _, p := range builtin {
		if err := registry.Register(p); err != nil {
			return fmt.Errorf("registering plugins: %w", err)
		}
	}
	logger.Info("plugins loaded", "count", registry.Len())

	// ── Persona ──
	assistant := persona.New(client, assembler, api, registry, store, cfg, logger)
	scheduler.Register(&persona.PingHandler{Assistant: assistant, Queue: cfg.Tasks.PingQueue})
	scheduler.Register(&persona.WorkHandler{Assistant: assistant, Queue: cfg.Tasks.WorkQueue})
	scheduler.Register(&persona.DeadChatHandler{Assistant: assistant, Queue: cfg.Tasks.DeadChatQueue})

	// ── Collector ──
	coll := collector.New(client, assembler, scheduler, classifier, collector.Options{
		Nicknames:       cfg.Nicknames,
		Wait:            cfg.Delays.Collector,
		BlacklistGuilds: cfg.Blacklist.Guilds,
		BlacklistUsers:  cfg.Blacklist.Users,
	}, logger)

	// ── Connect ──
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to Discord: %w", err)
	}
	defer client.Disconnect()

	scheduler.Start(ctx)
	defer scheduler.Stop()

	go func() {
		for msg := range client.Receive() {
			coll.Observe(msg)
		}
	}()
	defer coll.Stop()

	// ── Revive cron ──
	var reviveCron *cron.Cron
	if cfg.Revive.Enabled {
		reviveCron = cron.New()
		if _, err := reviveCron.AddFunc(cfg.Revive.Cron, func() {
			reviveIdleChannels(ctx, client, scheduler, cfg, logger)
		}); err != nil {
			return fmt.Errorf("invalid revive cron %q: %w", cfg.Revive.Cron, err)
		}
		reviveCron.Start()
		defer reviveCron.Stop()
		logger.Info("revive job scheduled", "cron", cfg.Revive.Cron, "channels", len(cfg.Revive.Channels))
	}

	logger.Info("agent running", "name", selfName(client))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		logger.Info("shutting down", "signal", s.String())
	case <-ctx.Done():
	}
	return nil
}

// reviveIdleChannels files a dead-chat task for each eligible channel
// that has been silent long enough.
func reviveIdleChannels(ctx context.Context, client platform.Client, scheduler *tasks.Scheduler, cfg *config.Config, logger *slog.Logger) {
	idle := time.Duration(cfg.Revive.IdleMinutes) * time.Minute

	for _, channelID := range cfg.Revive.Channels {
		last, ok := lastActivity(ctx, client, channelID)
		if !ok || time.Since(last) < idle {
			continue
		}

		c := tasks.Context{ChannelID: channelID}
		if ch, err := client.Channel(ctx, channelID); err == nil {
			c.GuildID = ch.GuildID
		}

		if _, added := scheduler.Add(tasks.KindDeadChat, c, time.Now()); added {
			logger.Info("channel idle, filing revive", "channel", channelID, "idle", time.Since(last).Round(time.Minute))
		}
	}
}

// lastActivity finds the timestamp of the newest message in a channel,
// from cache when warm, over the network otherwise.
func lastActivity(ctx context.Context, client platform.Client, channelID string) (time.Time, bool) {
	if cached := client.CachedMessages(channelID); len(cached) > 0 {
		return cached[len(cached)-1].Timestamp, true
	}

	msgs, err := client.FetchMessages(ctx, channelID, 1)
	if err != nil || len(msgs) == 0 {
		return time.Time{}, false
	}
	return msgs[len(msgs)-1].Timestamp, true
}

func selfName(client platform.Client) string {
	if self := client.Self(); self != nil {
		return self.Name
	}
	return ""
}
