// Package collector batches incoming messages into per-author bursts.
// Rapid messages from the same person in the same channel are collected
// behind a sliding debounce window and flushed as one unit, so the agent
// answers the whole thought instead of every fragment.
package collector

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jholhewres/mimic/pkg/mimic/config"
	"github.com/jholhewres/mimic/pkg/mimic/environment"
	"github.com/jholhewres/mimic/pkg/mimic/llm"
	"github.com/jholhewres/mimic/pkg/mimic/platform"
	"github.com/jholhewres/mimic/pkg/mimic/tasks"
)

// Scheduler is the task queue surface the collector files into.
type Scheduler interface {
	Add(kind tasks.Kind, c tasks.Context, runAt time.Time) (*tasks.Task, bool)
}

// Options configures a Collector.
type Options struct {
	// Nicknames trigger the agent when they appear in a message,
	// alongside the account's own user and display names.
	Nicknames []string

	// Wait is the debounce window; a fresh value is picked per burst.
	Wait config.DelayWindow

	// BlacklistGuilds and BlacklistUsers are dropped at the door.
	BlacklistGuilds []string
	BlacklistUsers  []string
}

// Collector groups messages into bursts and files ping tasks.
type Collector struct {
	client     platform.Client
	assembler  *environment.Assembler
	scheduler  Scheduler
	classifier *llm.Classifier
	opts       Options
	logger     *slog.Logger

	blockedGuilds map[string]bool
	blockedUsers  map[string]bool

	mu     sync.Mutex
	bursts map[string]*burst
	closed bool
}

// burst is one pending group of messages from a single author in a
// single channel.
type burst struct {
	key       string
	channelID string
	guildID   string
	authorID  string
	messages  []*platform.Message
	triggered bool
	timer     *time.Timer
	wait      time.Duration
}

// New creates a Collector. The classifier may be nil; untriggered bursts
// are then discarded instead of being judged.
func New(client platform.Client, assembler *environment.Assembler, scheduler Scheduler, classifier *llm.Classifier, opts Options, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Collector{
		client:        client,
		assembler:     assembler,
		scheduler:     scheduler,
		classifier:    classifier,
		opts:          opts,
		logger:        logger.With("component", "collector"),
		blockedGuilds: make(map[string]bool, len(opts.BlacklistGuilds)),
		blockedUsers:  make(map[string]bool, len(opts.BlacklistUsers)),
		bursts:        make(map[string]*burst),
	}
	for _, id := range opts.BlacklistGuilds {
		c.blockedGuilds[id] = true
	}
	for _, id := range opts.BlacklistUsers {
		c.blockedUsers[id] = true
	}
	return c
}

// Observe feeds one incoming message into the collector. Messages that
// fail admission are dropped silently.
func (c *Collector) Observe(msg *platform.Message) {
	if !c.admit(msg) {
		return
	}

	key := msg.ChannelID + ":" + msg.Author.ID

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	b, ok := c.bursts[key]
	if !ok {
		b = &burst{
			key:       key,
			channelID: msg.ChannelID,
			guildID:   msg.GuildID,
			authorID:  msg.Author.ID,
			wait:      c.opts.Wait.Pick(),
		}
		c.bursts[key] = b
		b.timer = time.AfterFunc(b.wait, func() { c.flush(key) })
	}

	b.messages = append(b.messages, msg)
	if c.addressesSelf(msg) {
		b.triggered = true
	}
	// Sliding window: every new fragment pushes the flush out again.
	if ok {
		b.timer.Reset(b.wait)
	}
}

// Stop cancels all pending bursts without flushing them.
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for key, b := range c.bursts {
		b.timer.Stop()
		delete(c.bursts, key)
	}
}

// Pending reports the number of open bursts.
func (c *Collector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bursts)
}

// admit applies the door checks: never the agent's own messages, never
// blacklisted guilds or users, never channels it cannot speak in.
func (c *Collector) admit(msg *platform.Message) bool {
	if msg == nil || msg.Content == "" && len(msg.Stickers) == 0 && len(msg.Attachments) == 0 {
		return false
	}
	self := c.client.Self()
	if self != nil && msg.Author.ID == self.ID {
		return false
	}
	if msg.Author.Bot {
		return false
	}
	if c.blockedUsers[msg.Author.ID] {
		return false
	}
	if msg.GuildID != "" && c.blockedGuilds[msg.GuildID] {
		return false
	}
	if !c.client.CanSend(msg.ChannelID) {
		return false
	}
	return true
}

// addressesSelf reports whether the message speaks to the agent: a
// direct mention, or any of its names appearing in the text.
func (c *Collector) addressesSelf(msg *platform.Message) bool {
	self := c.client.Self()
	if self == nil {
		return false
	}

	for _, id := range msg.MentionIDs {
		if id == self.ID {
			return true
		}
	}

	lower := strings.ToLower(msg.Content)
	if self.Name != "" && strings.Contains(lower, strings.ToLower(self.Name)) {
		return true
	}
	for _, nick := range c.opts.Nicknames {
		if nick != "" && strings.Contains(lower, strings.ToLower(nick)) {
			return true
		}
	}
	return false
}

// flush closes a burst and decides whether it deserves a reply. Triggered
// bursts always file a ping task; untriggered ones are judged by the
// classifier, or discarded when no classifier is wired.
func (c *Collector) flush(key string) {
	c.mu.Lock()
	b, ok := c.bursts[key]
	if ok {
		delete(c.bursts, key)
	}
	c.mu.Unlock()
	if !ok || len(b.messages) == 0 {
		return
	}

	if !b.triggered && !c.judge(b) {
		return
	}

	c.scheduler.Add(tasks.KindPing, tasks.Context{
		ChannelID: b.channelID,
		GuildID:   b.guildID,
		AuthorID:  b.authorID,
		Messages:  b.messages,
		Triggered: b.triggered,
	}, time.Now())
}

// judge asks the classifier whether an unaddressed burst is still part
// of a conversation the agent is in. Errors fail closed.
func (c *Collector) judge(b *burst) bool {
	if c.classifier == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	env, err := c.assembler.Fetch(ctx, b.channelID, b.messages)
	if err != nil {
		c.logger.Warn("failed to assemble history for classification", "channel", b.channelID, "error", err)
		return false
	}

	selfName := ""
	if env.Self != nil {
		selfName = env.Self.Name
	}
	cls, err := c.classifier.Classify(ctx, selfName, environment.RenderHistory(env.History))
	if err != nil {
		c.logger.Warn("classification failed", "channel", b.channelID, "error", err)
		return false
	}
	// Only a continuation earns a turn; a burst merely about the agent
	// is left alone unless it named the agent and triggered outright.
	return cls.Continuation
}
