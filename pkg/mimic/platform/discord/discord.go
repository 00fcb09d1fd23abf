// Package discord implements the platform client on top of discordgo.
//
// Besides the plain API calls, the adapter maintains an in-process message
// cache per channel. The environment assembler reads history cache-first
// and only hits the network right after a restart, when the cache is still
// cold — same behavior the platform SDK cache used to provide.
package discord

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/jholhewres/mimic/pkg/mimic/platform"
)

// cacheLimit is how many messages are kept per channel in the local cache.
const cacheLimit = 100

// Config holds Discord connection configuration.
type Config struct {
	// Token is the Discord bot token.
	Token string `yaml:"token"`

	// AllowedGuilds restricts which guild IDs the agent listens in.
	// Empty means all guilds.
	AllowedGuilds []string `yaml:"allowed_guilds"`
}

// Discord implements platform.Client using discordgo.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session

	// messages is the feed of incoming messages from other users.
	messages chan *platform.Message

	// cache holds recent messages per channel, oldest to newest.
	// Includes the agent's own sent messages.
	cache   map[string][]*platform.Message
	cacheMu sync.RWMutex

	connected  atomic.Bool
	httpClient *http.Client
}

// New creates a new Discord platform client.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		cfg:        cfg,
		logger:     logger.With("component", "discord"),
		messages:   make(chan *platform.Message, 256),
		cache:      make(map[string][]*platform.Message),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Connect opens the Discord gateway connection.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildPresences

	session.State.MaxMessageCount = cacheLimit

	session.AddHandler(d.onMessageCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}

	d.session = session
	d.connected.Store(true)

	user := session.State.User
	d.logger.Info("discord: connected", "user", user.Username, "id", user.ID)
	return nil
}

// Disconnect closes the gateway connection.
func (d *Discord) Disconnect() error {
	if d.session != nil {
		d.session.Close()
	}
	d.connected.Store(false)
	d.logger.Info("discord: disconnected")
	return nil
}

// Receive returns the incoming message feed.
func (d *Discord) Receive() <-chan *platform.Message {
	return d.messages
}

// ---------- Chat ----------

// CachedMessages returns the channel's local message cache, oldest first.
func (d *Discord) CachedMessages(channelID string) []*platform.Message {
	d.cacheMu.RLock()
	defer d.cacheMu.RUnlock()

	cached := d.cache[channelID]
	out := make([]*platform.Message, len(cached))
	copy(out, cached)
	return out
}

// FetchMessages retrieves up to limit recent messages, oldest first.
// Fetched messages also seed the local cache.
func (d *Discord) FetchMessages(ctx context.Context, channelID string, limit int) ([]*platform.Message, error) {
	if d.session == nil {
		return nil, platform.ErrDisconnected
	}

	raw, err := d.session.ChannelMessages(channelID, limit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: fetching messages: %w", err)
	}

	// Discord returns newest first; reverse to oldest first.
	out := make([]*platform.Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		out = append(out, d.convert(raw[i]))
	}

	d.cacheMu.Lock()
	d.cache[channelID] = append([]*platform.Message(nil), out...)
	d.cacheMu.Unlock()

	return out, nil
}

// FetchMessage retrieves a single message by ID.
func (d *Discord) FetchMessage(ctx context.Context, channelID, messageID string) (*platform.Message, error) {
	if d.session == nil {
		return nil, platform.ErrDisconnected
	}

	raw, err := d.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: fetching message %s: %w", messageID, err)
	}
	return d.convert(raw), nil
}

// LatestMessageID returns the newest cached message ID for the channel.
func (d *Discord) LatestMessageID(channelID string) string {
	d.cacheMu.RLock()
	defer d.cacheMu.RUnlock()

	cached := d.cache[channelID]
	if len(cached) == 0 {
		return ""
	}
	return cached[len(cached)-1].ID
}

// Send delivers a message, downloading attachment URLs into files.
// The sent message is recorded in the local cache.
func (d *Discord) Send(ctx context.Context, channelID string, out *platform.Outgoing) (*platform.Message, error) {
	if d.session == nil {
		return nil, platform.ErrDisconnected
	}

	msgSend := &discordgo.MessageSend{Content: out.Content}

	if out.ReplyToID != "" {
		msgSend.Reference = &discordgo.MessageReference{
			MessageID: out.ReplyToID,
			ChannelID: channelID,
		}
	}

	for _, url := range out.AttachmentURLs {
		file, err := d.downloadFile(ctx, url)
		if err != nil {
			d.logger.Warn("discord: skipping attachment", "url", url, "error", err)
			continue
		}
		msgSend.Files = append(msgSend.Files, file)
	}

	if len(out.StickerIDs) > 0 {
		msgSend.StickerIDs = out.StickerIDs
	}

	sent, err := d.session.ChannelMessageSendComplex(channelID, msgSend, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: sending message: %w", err)
	}

	msg := d.convert(sent)
	if msg.ChannelID == "" {
		msg.ChannelID = channelID
	}
	d.remember(msg)
	return msg, nil
}

// Edit replaces a sent message's content.
func (d *Discord) Edit(ctx context.Context, channelID, messageID, content string) error {
	if d.session == nil {
		return platform.ErrDisconnected
	}
	_, err := d.session.ChannelMessageEdit(channelID, messageID, content, discordgo.WithContext(ctx))
	return err
}

// Typing shows the typing indicator.
func (d *Discord) Typing(ctx context.Context, channelID string) error {
	if d.session == nil {
		return platform.ErrDisconnected
	}
	return d.session.ChannelTyping(channelID, discordgo.WithContext(ctx))
}

// React adds an emoji reaction to a message.
func (d *Discord) React(ctx context.Context, channelID, messageID, emoji string) error {
	if d.session == nil {
		return platform.ErrDisconnected
	}
	return d.session.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx))
}

// ---------- Directory ----------

// Self returns the agent's own account.
func (d *Discord) Self() *platform.User {
	if d.session == nil || d.session.State.User == nil {
		return &platform.User{}
	}
	u := d.session.State.User
	return &platform.User{ID: u.ID, Name: u.Username, Bot: u.Bot}
}

// Guild resolves a guild, state-first.
func (d *Discord) Guild(ctx context.Context, guildID string) (*platform.Guild, error) {
	if d.session == nil {
		return nil, platform.ErrDisconnected
	}
	if g, err := d.session.State.Guild(guildID); err == nil {
		return &platform.Guild{ID: g.ID, Name: g.Name}, nil
	}
	g, err := d.session.Guild(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: resolving guild %s: %w", guildID, err)
	}
	return &platform.Guild{ID: g.ID, Name: g.Name}, nil
}

// Channel resolves a channel, state-first.
func (d *Discord) Channel(ctx context.Context, channelID string) (*platform.Channel, error) {
	if d.session == nil {
		return nil, platform.ErrDisconnected
	}

	ch, err := d.session.State.Channel(channelID)
	if err != nil {
		ch, err = d.session.Channel(channelID, discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("discord: resolving channel %s: %w", channelID, err)
		}
	}

	name := ch.Name
	if ch.Type == discordgo.ChannelTypeDM && len(ch.Recipients) > 0 {
		name = ch.Recipients[0].Username
	}

	return &platform.Channel{
		ID:      ch.ID,
		GuildID: ch.GuildID,
		Name:    name,
		Type:    convertChannelType(ch),
	}, nil
}

// Member resolves a guild member, fetching when absent from state.
func (d *Discord) Member(ctx context.Context, guildID, userID string) (*platform.Member, error) {
	if d.session == nil {
		return nil, platform.ErrDisconnected
	}

	m, err := d.session.State.Member(guildID, userID)
	if err != nil {
		m, err = d.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
		if err != nil {
			return nil, platform.ErrNotFound
		}
	}
	return d.convertMember(guildID, m), nil
}

// MemberByName finds a member by username, searching guild state.
func (d *Discord) MemberByName(ctx context.Context, guildID, name string) (*platform.Member, error) {
	if d.session == nil {
		return nil, platform.ErrDisconnected
	}

	g, err := d.session.State.Guild(guildID)
	if err != nil {
		return nil, platform.ErrNotFound
	}
	for _, m := range g.Members {
		if strings.EqualFold(m.User.Username, name) {
			return d.convertMember(guildID, m), nil
		}
	}
	return nil, platform.ErrNotFound
}

// Emojis lists the guild's custom emojis.
func (d *Discord) Emojis(ctx context.Context, guildID string) ([]platform.Emoji, error) {
	if d.session == nil {
		return nil, platform.ErrDisconnected
	}
	g, err := d.session.State.Guild(guildID)
	if err != nil {
		return nil, platform.ErrNotFound
	}
	out := make([]platform.Emoji, 0, len(g.Emojis))
	for _, e := range g.Emojis {
		out = append(out, platform.Emoji{ID: e.ID, Name: e.Name, Animated: e.Animated})
	}
	return out, nil
}

// Channels lists the guild's channels.
func (d *Discord) Channels(ctx context.Context, guildID string) ([]platform.Channel, error) {
	if d.session == nil {
		return nil, platform.ErrDisconnected
	}
	g, err := d.session.State.Guild(guildID)
	if err != nil {
		return nil, platform.ErrNotFound
	}
	out := make([]platform.Channel, 0, len(g.Channels))
	for _, ch := range g.Channels {
		if ch.Type == discordgo.ChannelTypeGuildCategory {
			continue
		}
		out = append(out, platform.Channel{
			ID:      ch.ID,
			GuildID: ch.GuildID,
			Name:    ch.Name,
			Type:    convertChannelType(ch),
		})
	}
	return out, nil
}

// Stickers lists the guild's stickers.
func (d *Discord) Stickers(ctx context.Context, guildID string) ([]platform.Sticker, error) {
	if d.session == nil {
		return nil, platform.ErrDisconnected
	}
	g, err := d.session.State.Guild(guildID)
	if err != nil {
		return nil, platform.ErrNotFound
	}
	out := make([]platform.Sticker, 0, len(g.Stickers))
	for _, s := range g.Stickers {
		out = append(out, platform.Sticker{ID: s.ID, Name: s.Name})
	}
	return out, nil
}

// CanSend reports whether the agent may send messages in the channel.
func (d *Discord) CanSend(channelID string) bool {
	if d.session == nil || d.session.State.User == nil {
		return false
	}
	perms, err := d.session.State.UserChannelPermissions(d.session.State.User.ID, channelID)
	if err != nil {
		// DMs have no stored permissions; assume sendable.
		return true
	}
	return perms&discordgo.PermissionSendMessages != 0
}

// ---------- Event handlers ----------

func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	msg := d.convert(m.Message)
	d.remember(msg)

	// Own messages are cached for history but not fed to the collector.
	if m.Author == nil || m.Author.ID == s.State.User.ID {
		return
	}

	if len(d.cfg.AllowedGuilds) > 0 && m.GuildID != "" {
		allowed := false
		for _, id := range d.cfg.AllowedGuilds {
			if id == m.GuildID {
				allowed = true
				break
			}
		}
		if !allowed {
			return
		}
	}

	select {
	case d.messages <- msg:
	default:
		d.logger.Warn("discord: message buffer full, dropping message", "msg_id", msg.ID)
	}
}

// ---------- Helpers ----------

// remember appends a message to the channel cache, evicting the oldest
// entries past cacheLimit.
func (d *Discord) remember(msg *platform.Message) {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()

	cached := append(d.cache[msg.ChannelID], msg)
	if len(cached) > cacheLimit {
		cached = cached[len(cached)-cacheLimit:]
	}
	d.cache[msg.ChannelID] = cached
}

func (d *Discord) convert(m *discordgo.Message) *platform.Message {
	msg := &platform.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}

	if m.Author != nil {
		msg.Author = platform.User{ID: m.Author.ID, Name: m.Author.Username, Bot: m.Author.Bot}
	}

	if m.MessageReference != nil {
		msg.ReplyToID = m.MessageReference.MessageID
	}

	for _, u := range m.Mentions {
		msg.MentionIDs = append(msg.MentionIDs, u.ID)
	}

	for _, s := range m.StickerItems {
		msg.Stickers = append(msg.Stickers, platform.Sticker{ID: s.ID, Name: s.Name})
	}

	for _, a := range m.Attachments {
		msg.Attachments = append(msg.Attachments, platform.Attachment{Name: a.Filename, URL: a.URL})
	}

	return msg
}

func (d *Discord) convertMember(guildID string, m *discordgo.Member) *platform.Member {
	member := &platform.Member{
		User: platform.User{ID: m.User.ID, Name: m.User.Username, Bot: m.User.Bot},
		Nick: m.Nick,
	}

	if p, err := d.session.State.Presence(guildID, m.User.ID); err == nil && p != nil {
		member.Status = string(p.Status)
		for _, a := range p.Activities {
			if a == nil {
				continue
			}
			member.Activities = append(member.Activities, platform.Activity{
				Name:    a.Name,
				Details: a.Details,
				State:   a.State,
			})
		}
	}
	if member.Status == "" {
		member.Status = "offline"
	}

	if vs, err := d.session.State.VoiceState(guildID, m.User.ID); err == nil && vs != nil {
		voice := &platform.VoiceState{Muted: vs.SelfMute || vs.Mute, Deafened: vs.SelfDeaf || vs.Deaf}
		if ch, err := d.session.State.Channel(vs.ChannelID); err == nil {
			voice.Channel = ch.Name
		}
		member.Voice = voice
	}

	return member
}

func (d *Discord) downloadFile(ctx context.Context, url string) (*discordgo.File, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	name := url
	if idx := strings.LastIndex(url, "/"); idx >= 0 && idx < len(url)-1 {
		name = url[idx+1:]
	}
	if idx := strings.Index(name, "?"); idx > 0 {
		name = name[:idx]
	}

	return &discordgo.File{Name: name, Reader: strings.NewReader(string(data))}, nil
}

func convertChannelType(ch *discordgo.Channel) platform.ChannelType {
	switch {
	case ch.Type == discordgo.ChannelTypeDM || ch.Type == discordgo.ChannelTypeGroupDM:
		return platform.ChannelDM
	case ch.IsThread():
		return platform.ChannelThread
	case ch.Type == discordgo.ChannelTypeGuildVoice || ch.Type == discordgo.ChannelTypeGuildStageVoice:
		return platform.ChannelVoiceText
	default:
		return platform.ChannelText
	}
}

// Compile-time interface verification.
var _ platform.Client = (*Discord)(nil)
