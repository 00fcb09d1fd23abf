// Package environment assembles the conversation snapshot a turn operates
// on: guild/channel/self metadata plus a deduplicated, grouped, reply
// threaded message history. An Environment is built fresh per turn, never
// mutated afterwards, and owned exclusively by the turn that built it.
package environment

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jholhewres/mimic/pkg/mimic/platform"
)

// Textual markers shared between the prompt, the rendered history and the
// output segmenter. The model is instructed to use these tokens.
const (
	// SplitMarker delimits multiple outgoing messages inside one reply,
	// and joins grouped same-author messages in the rendered history.
	SplitMarker = "---"

	// IgnoreMarker marks a reply (or part) the agent wants to suppress.
	IgnoreMarker = "-+-"

	// SelfTag replaces the agent's own name in rendered history lines.
	SelfTag = "<self>"

	// ResponseMarker delimits an imitated history line; the segmenter
	// strips everything up to its last occurrence in model output.
	ResponseMarker = "<response>:"
)

const (
	// cacheColdThreshold is the cache size below which the assembler
	// assumes a fresh restart and fetches history from the network.
	cacheColdThreshold = 5

	// networkFetchLimit is how many messages a cold fetch requests.
	networkFetchLimit = 50
)

// User is a resolved chat participant.
type User struct {
	ID         string
	Name       string
	Nick       string
	Status     string
	Activities []platform.Activity
	Voice      *platform.VoiceState
	Self       bool
}

// MessageTag is extra metadata rendered with a history entry
// (e.g. sticker names).
type MessageTag struct {
	Name    string
	Content []string
}

// Message is one logical history entry. Grouped same-author bursts are
// merged into a single Message whose content joins the originals with the
// split marker.
type Message struct {
	ID      string
	Author  *User
	When    time.Time
	Content string
	Tags    []MessageTag

	// ReplyTo is the referenced message, resolved one level deep.
	ReplyTo *Message

	// MentionedSelf is true when the message mentioned the agent.
	MentionedSelf bool

	// Self is true when the agent sent the message.
	Self bool
}

// History is the assembled window, ordered oldest to newest.
type History struct {
	Messages []*Message
	Users    []*User
}

// Environment is the per-turn conversation snapshot.
type Environment struct {
	Self    *User
	Guild   *platform.Guild
	Channel *platform.Channel
	History History

	// TriggerUser is the user the reply is directed at, when the turn
	// has a trigger.
	TriggerUser *User
}

// Options controls history assembly.
type Options struct {
	// Length is the maximum number of history entries kept.
	Length int

	// GroupLimit is how many consecutive same-author messages may be
	// absorbed into one entry.
	GroupLimit int

	// FetchHistory enables reading the channel window; when false only
	// trigger messages enter the history.
	FetchHistory bool
}

// Assembler builds Environments from platform state.
type Assembler struct {
	client platform.Client
	opts   Options
	logger *slog.Logger
}

// NewAssembler creates an environment assembler.
func NewAssembler(client platform.Client, opts Options, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		client: client,
		opts:   opts,
		logger: logger.With("component", "environment"),
	}
}

// Fetch assembles the environment for a channel. Trigger messages, when
// given, are guaranteed to be the newest entries of the history.
func (a *Assembler) Fetch(ctx context.Context, channelID string, triggers []*platform.Message) (*Environment, error) {
	channel, err := a.client.Channel(ctx, channelID)
	if err != nil {
		return nil, err
	}

	var guild *platform.Guild
	if channel.GuildID != "" {
		guild, err = a.client.Guild(ctx, channel.GuildID)
		if err != nil {
			return nil, err
		}
	}

	builder := &historyBuilder{assembler: a, guildID: channel.GuildID}
	history, err := builder.build(ctx, channelID, triggers)
	if err != nil {
		return nil, err
	}

	self := a.selfUser(ctx, channel.GuildID)

	var triggerUser *User
	if len(triggers) > 0 {
		for _, u := range history.Users {
			if u.ID == triggers[0].Author.ID {
				triggerUser = u
				break
			}
		}
	}

	return &Environment{
		Self:        self,
		Guild:       guild,
		Channel:     channel,
		History:     history,
		TriggerUser: triggerUser,
	}, nil
}

// selfUser resolves the agent's own profile, with guild membership when in
// a guild.
func (a *Assembler) selfUser(ctx context.Context, guildID string) *User {
	self := a.client.Self()
	user := &User{ID: self.ID, Name: self.Name, Self: true, Status: "online"}

	if guildID != "" {
		if member, err := a.client.Member(ctx, guildID, self.ID); err == nil {
			user.Nick = member.Nick
			user.Status = member.Status
		}
	}
	return user
}

// ---------- History assembly ----------

// historyBuilder carries the per-assembly state: the author memo and the
// absorbed-message index used for reply fallback.
type historyBuilder struct {
	assembler *Assembler
	guildID   string

	users map[string]*User

	// absorbed maps message IDs that were merged into a group to the
	// group's representative entry. A reply pointing at an absorbed
	// message resolves against the representative, since the absorbed
	// message no longer exists as an independent history entry.
	absorbed map[string]*Message
}

func (b *historyBuilder) build(ctx context.Context, channelID string, triggers []*platform.Message) (History, error) {
	a := b.assembler
	b.users = make(map[string]*User)
	b.absorbed = make(map[string]*Message)

	var window []*platform.Message
	if a.opts.FetchHistory {
		raw, err := b.fetchWindow(ctx, channelID)
		if err != nil {
			return History{}, err
		}
		// Exclude duplicates of the trigger messages; they are appended
		// last so the turn's proximate cause is always the newest entry.
		for _, m := range raw {
			if containsMessage(triggers, m.ID) {
				continue
			}
			window = append(window, m)
		}
	}
	window = append(window, triggers...)

	var messages []*Message

	for i := 0; i < len(window); i++ {
		raw := window[i]
		if strings.TrimSpace(raw.Content) == "" {
			continue
		}

		author := b.user(ctx, &raw.Author)
		if author == nil {
			// Membership could not be resolved; skip the message.
			continue
		}

		msg := b.message(ctx, raw, author, true)

		// Grouping: absorb immediately-following messages by the same
		// author. Replies, empty messages and other authors end the run.
		if a.opts.GroupLimit > 0 {
			var grouped []*platform.Message
			j := i + 1
			for ; j < len(window) && len(grouped) < a.opts.GroupLimit; j++ {
				next := window[j]
				if next.Author.ID != raw.Author.ID || next.IsReply() || strings.TrimSpace(next.Content) == "" {
					break
				}
				grouped = append(grouped, next)
			}

			if len(grouped) > 0 {
				parts := []string{msg.Content}
				for _, g := range grouped {
					parts = append(parts, g.Content)
					b.absorbed[g.ID] = msg
				}
				msg.Content = strings.Join(parts, SplitMarker)
				// Splice the absorbed messages out of the window.
				window = append(window[:i+1], window[i+1+len(grouped):]...)
			}
		}

		messages = append(messages, msg)
	}

	// Keep the most recent entries.
	if len(messages) > a.opts.Length {
		messages = messages[len(messages)-a.opts.Length:]
	}

	users := make([]*User, 0, len(b.users))
	for _, u := range b.users {
		users = append(users, u)
	}

	return History{Messages: messages, Users: users}, nil
}

// fetchWindow reads the channel window cache-first. A near-empty cache
// means the process just restarted, so the window is fetched instead.
func (b *historyBuilder) fetchWindow(ctx context.Context, channelID string) ([]*platform.Message, error) {
	cached := b.assembler.client.CachedMessages(channelID)
	if len(cached) >= cacheColdThreshold {
		return cached, nil
	}
	return b.assembler.client.FetchMessages(ctx, channelID, networkFetchLimit)
}

// message converts a raw platform message. resolveReply limits reply
// chains to one level.
func (b *historyBuilder) message(ctx context.Context, raw *platform.Message, author *User, resolveReply bool) *Message {
	a := b.assembler
	self := a.client.Self()

	content, mentioned := normalizeMentions(raw.Content, self)
	if !mentioned {
		for _, id := range raw.MentionIDs {
			if id == self.ID {
				mentioned = true
				break
			}
		}
	}

	msg := &Message{
		ID:            raw.ID,
		Author:        author,
		When:          raw.Timestamp,
		Content:       content,
		MentionedSelf: mentioned,
		Self:          raw.Author.ID == self.ID,
	}

	if len(raw.Stickers) > 0 {
		names := make([]string, 0, len(raw.Stickers))
		for _, s := range raw.Stickers {
			names = append(names, s.Name)
		}
		msg.Tags = append(msg.Tags, MessageTag{Name: "stickers", Content: names})
	}

	if resolveReply && raw.IsReply() {
		msg.ReplyTo = b.resolveReply(ctx, raw)
	}

	return msg
}

// resolveReply fetches the referenced message, best-effort. References to
// messages absorbed into a group resolve against the group representative.
func (b *historyBuilder) resolveReply(ctx context.Context, raw *platform.Message) *Message {
	if rep, ok := b.absorbed[raw.ReplyToID]; ok {
		return rep
	}

	ref, err := b.assembler.client.FetchMessage(ctx, raw.ChannelID, raw.ReplyToID)
	if err != nil {
		b.assembler.logger.Debug("reply reference unavailable", "msg_id", raw.ID, "ref_id", raw.ReplyToID)
		return nil
	}
	if strings.TrimSpace(ref.Content) == "" {
		return nil
	}

	author := b.user(ctx, &ref.Author)
	if author == nil {
		return nil
	}
	return b.message(ctx, ref, author, false)
}

// user resolves and memoizes an author. Returns nil when guild membership
// cannot be resolved.
func (b *historyBuilder) user(ctx context.Context, raw *platform.User) *User {
	if u, ok := b.users[raw.ID]; ok {
		return u
	}

	a := b.assembler
	self := a.client.Self()

	user := &User{
		ID:     raw.ID,
		Name:   raw.Name,
		Status: "offline",
		Self:   raw.ID == self.ID,
	}

	if b.guildID != "" {
		member, err := a.client.Member(ctx, b.guildID, raw.ID)
		if err != nil {
			a.logger.Debug("member unresolvable, skipping author", "user_id", raw.ID)
			return nil
		}
		user.Nick = member.Nick
		user.Status = member.Status
		user.Activities = member.Activities
		user.Voice = member.Voice
	}

	b.users[raw.ID] = user
	return user
}

// normalizeMentions rewrites raw <@id> mentions of the agent to a readable
// @name form. Reports whether the content mentioned the agent.
func normalizeMentions(content string, self *platform.User) (string, bool) {
	replaced := strings.ReplaceAll(content, "<@"+self.ID+">", "@"+self.Name)
	replaced = strings.ReplaceAll(replaced, "<@!"+self.ID+">", "@"+self.Name)
	return replaced, replaced != content
}

func containsMessage(msgs []*platform.Message, id string) bool {
	for _, m := range msgs {
		if m.ID == id {
			return true
		}
	}
	return false
}
