// Package platform defines the interfaces and types for the messaging
// platform the agent lives on. The core never talks to Discord directly;
// it goes through the Chat and Directory capabilities so the orchestration
// engine stays testable with in-memory fakes.
package platform

import (
	"context"
	"errors"
	"time"
)

// ErrDisconnected is returned when an operation is attempted while the
// platform connection is down.
var ErrDisconnected = errors.New("platform: disconnected")

// ErrNotFound is returned when a message, member or channel cannot be
// resolved. Callers generally treat this as best-effort and move on.
var ErrNotFound = errors.New("platform: not found")

// ChannelType identifies the kind of channel a message lives in.
type ChannelType string

const (
	ChannelText      ChannelType = "text"
	ChannelDM        ChannelType = "dm"
	ChannelThread    ChannelType = "thread"
	ChannelVoiceText ChannelType = "voice-text"
)

// User is a platform account.
type User struct {
	ID   string
	Name string
	Bot  bool
}

// Activity is something a member is currently doing (playing, listening...).
type Activity struct {
	Name    string
	Details string
	State   string
}

// VoiceState describes a member's presence in a voice channel.
type VoiceState struct {
	Channel  string
	Muted    bool
	Deafened bool
}

// Member is a user's guild-scoped profile.
type Member struct {
	User       User
	Nick       string
	Status     string
	Activities []Activity
	Voice      *VoiceState
}

// Guild is a server the agent is a member of.
type Guild struct {
	ID   string
	Name string
}

// Channel is a place messages are exchanged in.
type Channel struct {
	ID      string
	GuildID string
	Name    string
	Type    ChannelType
}

// Emoji is a custom guild emoji.
type Emoji struct {
	ID       string
	Name     string
	Animated bool
}

// Sticker is a guild sticker.
type Sticker struct {
	ID   string
	Name string
}

// Attachment is a file attached to a message.
type Attachment struct {
	Name string
	URL  string
}

// Message is a single platform message, incoming or fetched.
type Message struct {
	ID        string
	ChannelID string
	GuildID   string
	Author    User
	Content   string
	Timestamp time.Time

	// ReplyToID is the ID of the message this one replies to, if any.
	ReplyToID string

	// MentionIDs are the user IDs explicitly mentioned in the message.
	MentionIDs []string

	Stickers    []Sticker
	Attachments []Attachment
}

// IsReply reports whether the message references another message.
func (m *Message) IsReply() bool { return m.ReplyToID != "" }

// Outgoing is a message the agent wants to send.
type Outgoing struct {
	Content string

	// ReplyToID links the message as an explicit reply when set.
	ReplyToID string

	// AttachmentURLs are files to attach, referenced by URL.
	AttachmentURLs []string

	// StickerIDs are guild sticker IDs to send with the message.
	StickerIDs []string
}

// Chat covers the message-level operations the core needs: reading the
// recent window, sending, editing and reacting.
type Chat interface {
	// CachedMessages returns the in-process message cache for a channel,
	// ordered oldest to newest. It never touches the network.
	CachedMessages(channelID string) []*Message

	// FetchMessages retrieves up to limit recent messages from the
	// platform, ordered oldest to newest.
	FetchMessages(ctx context.Context, channelID string, limit int) ([]*Message, error)

	// FetchMessage retrieves one message by ID.
	FetchMessage(ctx context.Context, channelID, messageID string) (*Message, error)

	// LatestMessageID returns the ID of the newest known message in the
	// channel, or "" when nothing is cached.
	LatestMessageID(channelID string) string

	// Send delivers a message and returns the sent message.
	Send(ctx context.Context, channelID string, out *Outgoing) (*Message, error)

	// Edit replaces the content of a previously sent message.
	Edit(ctx context.Context, channelID, messageID, content string) error

	// Typing shows a typing indicator in the channel.
	Typing(ctx context.Context, channelID string) error

	// React adds an emoji reaction to a message.
	React(ctx context.Context, channelID, messageID, emoji string) error
}

// Directory covers identity and metadata resolution.
type Directory interface {
	// Self returns the agent's own account.
	Self() *User

	// Guild resolves a guild by ID.
	Guild(ctx context.Context, guildID string) (*Guild, error)

	// Channel resolves a channel by ID.
	Channel(ctx context.Context, channelID string) (*Channel, error)

	// Member resolves a guild member, fetching from the platform when the
	// local state has no entry.
	Member(ctx context.Context, guildID, userID string) (*Member, error)

	// MemberByName finds a guild member by username.
	MemberByName(ctx context.Context, guildID, name string) (*Member, error)

	// Emojis lists the guild's custom emojis.
	Emojis(ctx context.Context, guildID string) ([]Emoji, error)

	// Channels lists the guild's channels.
	Channels(ctx context.Context, guildID string) ([]Channel, error)

	// Stickers lists the guild's stickers.
	Stickers(ctx context.Context, guildID string) ([]Sticker, error)

	// CanSend reports whether the agent may send messages in the channel.
	CanSend(channelID string) bool
}

// Client is the full platform surface: chat plus directory plus the
// incoming message feed.
type Client interface {
	Chat
	Directory

	// Connect establishes the platform connection.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Receive returns the stream of incoming messages. Messages sent by
	// other users only; the agent's own messages are cached but not
	// emitted here.
	Receive() <-chan *Message
}
