// Package memory provides the agent's long-term conversational memory: a
// write-only store of interaction records with similarity retrieval. The
// core never deletes entries.
package memory

import (
	"context"
	"time"
)

// TargetKind scopes a memory to the agent itself, a user or a guild.
type TargetKind string

const (
	TargetSelf  TargetKind = "self"
	TargetUser  TargetKind = "user"
	TargetGuild TargetKind = "guild"
)

// Entry is one stored memory record.
type Entry struct {
	// ID is the unique record ID (usually the trigger message ID).
	ID string

	// Text is the rendered memory content.
	Text string

	// Time is when the remembered interaction happened.
	Time time.Time

	// TargetKind scopes the memory (self, user, guild).
	TargetKind TargetKind

	// TargetName is the scoped subject's name, when applicable.
	TargetName string

	// AuthorID, ChannelID and GuildID locate the source interaction.
	AuthorID  string
	ChannelID string
	GuildID   string

	// PluginName and PluginParams record a tool invocation tied to the
	// interaction, when one happened.
	PluginName   string
	PluginParams string
}

// Filter narrows a search to matching entries. Zero fields match all.
type Filter struct {
	TargetKind TargetKind
	TargetName string
	GuildID    string
	AuthorID   string
}

// VectorStore is the similarity-retrieval capability over stored memories.
type VectorStore interface {
	// Insert stores entries. Existing IDs are overwritten.
	Insert(ctx context.Context, entries []Entry) error

	// Search returns up to limit entries most relevant to the query text,
	// restricted by the filter, most relevant first.
	Search(ctx context.Context, query string, filter Filter, limit int) ([]Entry, error)
}
