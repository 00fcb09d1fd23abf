package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jholhewres/mimic/pkg/mimic/environment"
	"github.com/jholhewres/mimic/pkg/mimic/memory"
	"github.com/jholhewres/mimic/pkg/mimic/platform"
	"github.com/jholhewres/mimic/pkg/mimic/tasks"
)

// TaskFiler is the scheduler surface plugins need: filing a deferred task.
type TaskFiler interface {
	Add(kind tasks.Kind, c tasks.Context, runAt time.Time) (*tasks.Task, bool)
}

// stringInput pulls a string field out of decoded tool arguments.
func stringInput(input map[string]any, key string) string {
	if v, ok := input[key].(string); ok {
		return v
	}
	return ""
}

func numberInput(input map[string]any, key string) (float64, bool) {
	v, ok := input[key].(float64)
	return v, ok
}

// ---------- remind ----------

// Remind files a work task that fires later with custom instructions, so
// the agent comes back to the channel on its own.
type Remind struct {
	Filer TaskFiler
}

func (p *Remind) Descriptor() Descriptor {
	return Descriptor{
		Name:        "remind",
		Description: "set a reminder for yourself: after the given delay you will come back to this conversation and act on the note",
		TriggerPhrases: []string{
			"remind", "reminder", "don't forget", "dont forget", "later",
		},
		Parameters: map[string]Parameter{
			"minutes": {
				Type:        "number",
				Description: "how many minutes from now the reminder should fire",
				Required:    true,
			},
			"note": {
				Type:        "string",
				Description: "what to do or say when the reminder fires",
				Required:    true,
			},
		},
	}
}

func (p *Remind) Available(env *environment.Environment) bool { return true }

func (p *Remind) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	minutes, ok := numberInput(opts.Input, "minutes")
	if !ok || minutes <= 0 {
		return nil, fmt.Errorf("remind: missing or invalid minutes")
	}
	note := stringInput(opts.Input, "note")
	if note == "" {
		return nil, fmt.Errorf("remind: missing note")
	}

	c := tasks.Context{
		ChannelID:    opts.Env.Channel.ID,
		Instructions: note,
	}
	if opts.Env.Guild != nil {
		c.GuildID = opts.Env.Guild.ID
	}
	if opts.Env.TriggerUser != nil {
		c.AuthorID = opts.Env.TriggerUser.ID
	}

	runAt := time.Now().Add(time.Duration(minutes) * time.Minute)
	if _, ok := p.Filer.Add(tasks.KindWork, c, runAt); !ok {
		return &Result{Text: "couldn't set the reminder, too many pending already"}, nil
	}
	return &Result{Text: fmt.Sprintf("reminder set, it will fire in %.0f minutes", minutes)}, nil
}

// ---------- react ----------

// React adds an emoji reaction to a message in the current history.
type React struct {
	Chat platform.Chat
}

func (p *React) Descriptor() Descriptor {
	return Descriptor{
		Name:        "react",
		Description: "react to a message in the conversation with an emoji, referenced by its numeric index in the history",
		Parameters: map[string]Parameter{
			"index": {
				Type:        "number",
				Description: "the index of the message to react to, as shown in the history",
				Required:    true,
			},
			"emoji": {
				Type:        "string",
				Description: "the emoji to react with, as a unicode character",
				Required:    true,
			},
		},
	}
}

func (p *React) Available(env *environment.Environment) bool { return true }

func (p *React) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	idx, ok := numberInput(opts.Input, "index")
	if !ok {
		return nil, fmt.Errorf("react: missing index")
	}
	emoji := stringInput(opts.Input, "emoji")
	if emoji == "" {
		return nil, fmt.Errorf("react: missing emoji")
	}

	msgs := opts.Env.History.Messages
	i := int(idx)
	if i < 0 || i >= len(msgs) {
		return nil, fmt.Errorf("react: index %d out of range", i)
	}

	if err := p.Chat.React(ctx, opts.Env.Channel.ID, msgs[i].ID, emoji); err != nil {
		return nil, fmt.Errorf("react: %w", err)
	}
	return &Result{Text: fmt.Sprintf("reacted with %s", emoji)}, nil
}

// ---------- sticker ----------

// Sticker sends a guild sticker by name. It short-circuits generation:
// the sticker itself is the reply.
type Sticker struct {
	Directory platform.Directory
}

func (p *Sticker) Descriptor() Descriptor {
	return Descriptor{
		Name:        "sticker",
		Description: "reply with one of the server's stickers instead of text, picked by name",
		TriggerPhrases: []string{
			"sticker", "figurinha",
		},
		Parameters: map[string]Parameter{
			"name": {
				Type:        "string",
				Description: "the name of the sticker to send",
				Required:    true,
			},
		},
	}
}

// Available requires a guild: DMs have no sticker pool to pick from.
func (p *Sticker) Available(env *environment.Environment) bool {
	return env.Guild != nil
}

func (p *Sticker) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	name := stringInput(opts.Input, "name")
	if name == "" {
		return nil, fmt.Errorf("sticker: missing name")
	}

	stickers, err := p.Directory.Stickers(ctx, opts.Env.Guild.ID)
	if err != nil {
		return nil, fmt.Errorf("sticker: %w", err)
	}

	lower := strings.ToLower(name)
	for _, s := range stickers {
		if strings.ToLower(s.Name) == lower {
			return &Result{StickerIDs: []string{s.ID}, ShortCircuit: true}, nil
		}
	}
	return nil, fmt.Errorf("sticker: no sticker named %q", name)
}

// ---------- memorize ----------

// Memorize stores a durable note about the agent itself, a user, or the
// guild, retrievable in later conversations.
type Memorize struct {
	Store memory.VectorStore
}

func (p *Memorize) Descriptor() Descriptor {
	return Descriptor{
		Name:        "memorize",
		Description: "save a fact worth remembering across conversations, about yourself, a specific person or this server",
		TriggerPhrases: []string{
			"remember", "memorize", "never forget",
		},
		Parameters: map[string]Parameter{
			"text": {
				Type:        "string",
				Description: "the fact to remember, phrased so it makes sense on its own later",
				Required:    true,
			},
			"target": {
				Type:        "string",
				Description: "who the fact is about",
				Enum:        []string{"self", "user", "guild"},
				Required:    true,
			},
			"target_name": {
				Type:        "string",
				Description: "the person's name, when target is user",
			},
		},
	}
}

func (p *Memorize) Available(env *environment.Environment) bool { return true }

func (p *Memorize) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	text := stringInput(opts.Input, "text")
	if text == "" {
		return nil, fmt.Errorf("memorize: missing text")
	}

	entry := memory.Entry{
		Text:       text,
		Time:       time.Now(),
		TargetKind: memory.TargetKind(stringInput(opts.Input, "target")),
		TargetName: stringInput(opts.Input, "target_name"),
		ChannelID:  opts.Env.Channel.ID,
		PluginName: "memorize",
	}
	switch entry.TargetKind {
	case memory.TargetSelf, memory.TargetUser, memory.TargetGuild:
	default:
		entry.TargetKind = memory.TargetSelf
	}
	if opts.Env.Guild != nil {
		entry.GuildID = opts.Env.Guild.ID
	}
	if opts.Env.TriggerUser != nil {
		entry.AuthorID = opts.Env.TriggerUser.ID
	}
	if raw, err := json.Marshal(opts.Input); err == nil {
		entry.PluginParams = string(raw)
	}

	if err := p.Store.Insert(ctx, []memory.Entry{entry}); err != nil {
		return nil, fmt.Errorf("memorize: %w", err)
	}
	return &Result{Text: "noted, I'll remember that"}, nil
}

// ---------- whois ----------

// Whois describes a member of the current conversation: nickname,
// presence, activities and stored memories about them.
type Whois struct {
	Store memory.VectorStore
}

func (p *Whois) Descriptor() Descriptor {
	return Descriptor{
		Name:        "whois",
		Description: "look up what you know about a person in this conversation: presence, activity and remembered facts",
		TriggerPhrases: []string{
			"who is", "who's", "quem é",
		},
		Parameters: map[string]Parameter{
			"name": {
				Type:        "string",
				Description: "the name or nickname of the person to look up",
				Required:    true,
			},
		},
	}
}

func (p *Whois) Available(env *environment.Environment) bool { return true }

func (p *Whois) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	name := stringInput(opts.Input, "name")
	if name == "" {
		return nil, fmt.Errorf("whois: missing name")
	}

	lower := strings.ToLower(name)
	var found *environment.User
	for _, u := range opts.Env.History.Users {
		if strings.ToLower(u.Name) == lower || strings.ToLower(u.Nick) == lower {
			found = u
			break
		}
	}
	if found == nil {
		// Loose pass: prefix/substring, so "jo" still finds "joana".
		for _, u := range opts.Env.History.Users {
			if strings.Contains(strings.ToLower(u.Name), lower) || strings.Contains(strings.ToLower(u.Nick), lower) {
				found = u
				break
			}
		}
	}
	if found == nil {
		return &Result{Text: fmt.Sprintf("I don't see anyone called %s around here", name)}, nil
	}

	var sb strings.Builder
	sb.WriteString(environment.DescribeUser(found))

	if p.Store != nil {
		filter := memory.Filter{TargetKind: memory.TargetUser, TargetName: found.Name}
		if opts.Env.Guild != nil {
			filter.GuildID = opts.Env.Guild.ID
		}
		if entries, err := p.Store.Search(ctx, found.Name, filter, 4); err == nil && len(entries) > 0 {
			sb.WriteString("\nthings I remember about them:")
			for _, e := range entries {
				sb.WriteString("\n- ")
				sb.WriteString(e.Text)
			}
		}
	}

	return &Result{Text: sb.String()}, nil
}
