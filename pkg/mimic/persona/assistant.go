// Package persona drives a single conversational turn end to end: it
// assembles the environment, builds the layered prompt, runs generation
// with tool calling, stores memories, and delivers the reply with
// humanlike pacing, typos and splitting.
package persona

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/jholhewres/mimic/pkg/mimic/config"
	"github.com/jholhewres/mimic/pkg/mimic/environment"
	"github.com/jholhewres/mimic/pkg/mimic/llm"
	"github.com/jholhewres/mimic/pkg/mimic/memory"
	"github.com/jholhewres/mimic/pkg/mimic/platform"
	"github.com/jholhewres/mimic/pkg/mimic/plugins"
	"github.com/jholhewres/mimic/pkg/mimic/tasks"
)

// Assistant owns a turn from trigger to delivered reply.
type Assistant struct {
	client    platform.Client
	assembler *environment.Assembler
	completer llm.Completer
	registry  *plugins.Registry
	store     memory.VectorStore
	cfg       *config.Config
	logger    *slog.Logger

	rng   *rand.Rand
	sleep func(ctx context.Context, d time.Duration)
}

// New wires an Assistant. The store may be nil (memory disabled); the
// registry may be empty.
func New(client platform.Client, assembler *environment.Assembler, completer llm.Completer, registry *plugins.Registry, store memory.VectorStore, cfg *config.Config, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{
		client:    client,
		assembler: assembler,
		completer: completer,
		registry:  registry,
		store:     store,
		cfg:       cfg,
		logger:    logger.With("component", "persona"),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep: func(ctx context.Context, d time.Duration) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
			}
		},
	}
}

// GenResult is the outcome of one generation pass.
type GenResult struct {
	// Content is the raw model output, empty on a short-circuit.
	Content string

	// Plugin is the executed tool call whose result rides along with the
	// reply (attachments, stickers), when one ran.
	Plugin *plugins.ToolResult

	// Usage aggregates tokens across both completion calls.
	Usage llm.Usage
}

// Respond runs one full turn for a task: fetch environment, generate,
// remember, deliver.
func (a *Assistant) Respond(ctx context.Context, task *tasks.Task) error {
	// Acknowledge lag: a human does not start typing the instant a
	// message lands.
	a.sleep(ctx, a.pickDelay(a.cfg.Delays.Typing))
	if err := ctx.Err(); err != nil {
		return err
	}

	env, err := a.assembler.Fetch(ctx, task.Context.ChannelID, task.Context.Messages)
	if err != nil {
		return fmt.Errorf("assemble environment: %w", err)
	}
	if len(env.History.Messages) == 0 {
		return nil
	}

	trigger := env.History.Messages[len(env.History.Messages)-1]

	var triggered []plugins.Plugin
	if a.cfg.Features.Plugins && a.registry != nil {
		triggered = a.registry.Triggered(env)
	}

	memories := a.recall(ctx, env, trigger.Content)

	messages := a.prompts(env, memories, task.Context.Instructions)

	result, err := a.generate(ctx, env, messages, triggered)
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}

	a.logger.Debug("generated reply",
		"channel", task.Context.ChannelID,
		"parts", len(Segment(result.Content)),
		"tokens", result.Usage.TotalTokens,
		"plugin", pluginName(result.Plugin))

	a.remember(ctx, env, trigger, result)

	return a.deliver(ctx, env, task, result)
}

// generate runs at most two completion calls: the initial one, and one
// follow-up when the model requested tools and none of them
// short-circuited the turn.
func (a *Assistant) generate(ctx context.Context, env *environment.Environment, messages []llm.Message, triggered []plugins.Plugin) (*GenResult, error) {
	req := &llm.Request{
		Model:       a.cfg.API.Model,
		Messages:    messages,
		Temperature: a.cfg.API.Temperature,
	}
	if len(triggered) > 0 {
		req.Tools = a.registry.AsTools(triggered)
	}

	first, err := a.completer.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	if len(first.ToolCalls) == 0 {
		return &GenResult{Content: first.Content, Usage: first.Usage}, nil
	}

	results := a.registry.ExecuteAll(ctx, env, first.ToolCalls)

	var carried *plugins.ToolResult
	for i := range results {
		// A short-circuiting plugin is the reply; skip the follow-up.
		if results[i].ShortCircuit {
			return &GenResult{Plugin: &results[i], Usage: first.Usage}, nil
		}
		if results[i].Result != nil {
			carried = &results[i]
		}
	}

	followup := make([]llm.Message, 0, len(messages)+1+len(results))
	followup = append(followup, messages...)
	followup = append(followup, llm.Message{
		Role:      llm.RoleAssistant,
		Content:   first.Content,
		ToolCalls: first.ToolCalls,
	})
	for _, r := range results {
		followup = append(followup, llm.Message{
			Role:       llm.RoleTool,
			Content:    r.Output,
			ToolCallID: r.ID,
		})
	}

	// No tools on the follow-up: one round of calls per turn.
	second, err := a.completer.Complete(ctx, &llm.Request{
		Model:       a.cfg.API.Model,
		Messages:    followup,
		Temperature: a.cfg.API.Temperature,
	})
	if err != nil {
		return nil, err
	}

	usage := first.Usage
	usage.Add(second.Usage)
	return &GenResult{Content: second.Content, Plugin: carried, Usage: usage}, nil
}

// ---------- Memory glue ----------

// recall retrieves memories relevant to the trigger content.
func (a *Assistant) recall(ctx context.Context, env *environment.Environment, query string) []memory.Entry {
	if a.store == nil || query == "" {
		return nil
	}

	filter := memory.Filter{}
	if env.Guild != nil {
		filter.GuildID = env.Guild.ID
	}

	limit := a.cfg.Memory.Limit
	if limit <= 0 {
		limit = 4
	}

	entries, err := a.store.Search(ctx, query, filter, limit)
	if err != nil {
		a.logger.Warn("memory search failed", "error", err)
		return nil
	}
	return entries
}

// remember stores the exchange so later turns can recall it.
func (a *Assistant) remember(ctx context.Context, env *environment.Environment, trigger *environment.Message, result *GenResult) {
	if a.store == nil || result.Content == "" {
		return
	}

	selfName := ""
	if env.Self != nil {
		selfName = env.Self.Name
	}

	entry := memory.Entry{
		Text:       environment.RenderEntry(trigger, -1) + "\n" + selfName + ": " + result.Content,
		Time:       time.Now(),
		TargetKind: memory.TargetSelf,
		ChannelID:  env.Channel.ID,
	}
	if env.Guild != nil {
		entry.GuildID = env.Guild.ID
	}
	if trigger.Author != nil {
		entry.AuthorID = trigger.Author.ID
	}
	if result.Plugin != nil {
		entry.PluginName = result.Plugin.Name
	}

	if err := a.store.Insert(ctx, []memory.Entry{entry}); err != nil {
		a.logger.Warn("memory insert failed", "error", err)
	}
}

// ---------- Pacing ----------

func (a *Assistant) pickDelay(w config.DelayWindow) time.Duration {
	spread := w.MaxMs - w.MinMs
	if spread <= 0 {
		return time.Duration(w.MinMs) * time.Millisecond
	}
	return time.Duration(w.MinMs+a.rng.Intn(spread)) * time.Millisecond
}

// composeDelay scales with message length, floored at two seconds, plus
// configured jitter. Roughly how long typing the part would take.
func (a *Assistant) composeDelay(part string) time.Duration {
	base := len(part) * 55
	if base < 2000 {
		base = 2000
	}
	return time.Duration(base)*time.Millisecond + a.pickDelay(a.cfg.Delays.Sending)
}

func (a *Assistant) chance(p float64) bool {
	return a.rng.Float64() < p
}

func pluginName(r *plugins.ToolResult) string {
	if r == nil {
		return ""
	}
	return r.Name
}
