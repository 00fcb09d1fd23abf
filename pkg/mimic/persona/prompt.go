package persona

import (
	"fmt"
	"strings"
	"time"

	"github.com/jholhewres/mimic/pkg/mimic/environment"
	"github.com/jholhewres/mimic/pkg/mimic/llm"
	"github.com/jholhewres/mimic/pkg/mimic/memory"
)

// prompts builds the layered prompt for one turn: optional user roster,
// optional memories, the persona system prompt, optional self-directed
// instructions, and finally the rendered history primed for the agent's
// next line.
func (a *Assistant) prompts(env *environment.Environment, memories []memory.Entry, instructions string) []llm.Message {
	var messages []llm.Message

	if a.cfg.Features.Users && len(env.History.Users) > 0 {
		var sb strings.Builder
		sb.WriteString("USERS IN CHAT:\n")
		for _, u := range env.History.Users {
			sb.WriteString(environment.DescribeUser(u))
			sb.WriteString("\n")
		}
		messages = append(messages, llm.Message{
			Role:    llm.RoleSystem,
			Content: strings.TrimRight(sb.String(), "\n"),
		})
	}

	if len(memories) > 0 {
		var sb strings.Builder
		sb.WriteString("Use these previous interactions (memories) if relevant:\n")
		for _, m := range memories {
			sb.WriteString(m.Text)
			sb.WriteString("\n\n")
		}
		messages = append(messages, llm.Message{
			Role:    llm.RoleSystem,
			Content: strings.TrimRight(sb.String(), "\n"),
		})
	}

	messages = append(messages, llm.Message{
		Role:    llm.RoleSystem,
		Content: a.personaPrompt(env),
	})

	if instructions != "" {
		messages = append(messages, llm.Message{
			Role:    llm.RoleSystem,
			Content: instructions,
		})
	}

	selfName := ""
	if env.Self != nil {
		selfName = env.Self.Name
	}
	history := environment.RenderHistory(env.History) +
		"\n\n" + selfName + environment.ResponseMarker + "\n"

	messages = append(messages, llm.Message{
		Role:    llm.RoleUser,
		Content: history,
	})

	return messages
}

// personaPrompt is the core system layer: identity, tone, place, time
// and the output contract (split and ignore markers, history format).
func (a *Assistant) personaPrompt(env *environment.Environment) string {
	p := a.cfg.Persona
	selfName := ""
	if env.Self != nil {
		selfName = env.Self.Name
	}

	var lines []string
	add := func(format string, args ...any) {
		lines = append(lines, fmt.Sprintf(format, args...))
	}

	add("you must be a discord user called %s: an internet user & 100%% real human.", selfName)
	add("you MAY NEVER break character.")
	add("fully act like a human and type like one AT ALL TIMES.")
	add("current time and date: %s", time.Now().UTC().Format("2 January 2006, 15:04 UTC"))
	add("keep your responses very concise, with no punctuation (except , and ?) and in all lowercase.")

	if p.Tone != "" {
		add("your tone will be %s throughout the convo.", p.Tone)
	}
	if p.Persona != "" {
		add("you will act like this: %s.", p.Persona)
	}
	if len(p.Interests) > 0 {
		add("you have interests in the following: %s.", strings.Join(p.Interests, ", "))
	}
	if len(p.Dislikes) > 0 {
		add("you dislike all of these things: %s.", strings.Join(p.Dislikes, ", "))
	}

	if env.Guild != nil && env.Channel != nil {
		add("you are on the server %q, in the %s %s channel.", env.Guild.Name, env.Channel.Name, env.Channel.Type)
	}
	if len(a.cfg.Nicknames) > 0 {
		add("your nicknames are: %s.", strings.Join(a.cfg.Nicknames, ", "))
	}

	add("can add %q at any point in your reply, to split it at that point into multiple.", environment.SplitMarker)
	add("message history format: \"[user] <msg id>: content\". simply reply in raw text without this format.")
	add("messages sent by %q were sent by you.", environment.SelfTag)
	add("ONLY REPLY to A SINGLE message in chat at a time. the LAST message in history is the latest.")
	add("if wish to ignore the message & not reply, reply with %q VERBATIM.", environment.IgnoreMarker)

	return strings.Join(lines, " ")
}
