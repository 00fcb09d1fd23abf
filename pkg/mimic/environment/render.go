// Package environment – render.go renders the canonical textual history
// representation shown to the model.
package environment

import (
	"fmt"
	"strings"
)

// RenderEntry renders one history entry as a prompt line:
//
//	(mentioned you) [author] <index>[reply to name: 'text']: [tag: a, b]; content
//
// The agent's own messages are tagged with SelfTag instead of a name.
// A negative index omits the index marker.
func RenderEntry(m *Message, index int) string {
	var sb strings.Builder

	if m.MentionedSelf {
		sb.WriteString("(mentioned you) ")
	}

	name := m.Author.Name
	if m.Self {
		name = SelfTag
	}
	sb.WriteString("[" + name + "]")

	if index >= 0 {
		fmt.Fprintf(&sb, " <%d>", index)
	}

	if m.ReplyTo != nil {
		replyName := m.ReplyTo.Author.Name
		if m.ReplyTo.Self {
			replyName = SelfTag
		}
		fmt.Fprintf(&sb, "[reply to %s: '%s']", replyName, m.ReplyTo.Content)
	}

	sb.WriteString(": ")

	if len(m.Tags) > 0 {
		tags := make([]string, 0, len(m.Tags))
		for _, t := range m.Tags {
			tags = append(tags, fmt.Sprintf("[%s: %s]", t.Name, strings.Join(t.Content, ", ")))
		}
		sb.WriteString(strings.Join(tags, " ") + "; ")
	}

	sb.WriteString(m.Content)
	return sb.String()
}

// RenderHistory renders the whole window, oldest first, one entry per
// block.
func RenderHistory(h History) string {
	lines := make([]string, 0, len(h.Messages))
	for i, m := range h.Messages {
		lines = append(lines, RenderEntry(m, i))
	}
	return strings.Join(lines, "\n\n")
}

// DescribeUser renders a user roster entry for the prompt, skipping empty
// fields.
func DescribeUser(u *User) string {
	var sb strings.Builder
	sb.WriteString(u.Name + " =\n")

	if u.Nick != "" {
		fmt.Fprintf(&sb, "nick: %s\n", u.Nick)
	}
	fmt.Fprintf(&sb, "status: %s\n", u.Status)

	for _, a := range u.Activities {
		fmt.Fprintf(&sb, "activity: {name: %s", a.Name)
		if a.Details != "" {
			fmt.Fprintf(&sb, " details: %s", a.Details)
		}
		if a.State != "" {
			fmt.Fprintf(&sb, " state: %s", a.State)
		}
		sb.WriteString("}\n")
	}

	if u.Voice != nil {
		fmt.Fprintf(&sb, "voice: {channel: %s muted: %t deafened: %t}\n", u.Voice.Channel, u.Voice.Muted, u.Voice.Deafened)
	}

	return strings.TrimRight(sb.String(), "\n")
}
