package persona

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jholhewres/mimic/pkg/mimic/environment"
	"github.com/jholhewres/mimic/pkg/mimic/platform"
)

// Output formatters rewrite the model's human-readable references into
// platform syntax before sending: "@name" into a real mention, "<e:name>"
// into a custom emoji, "#name" into a channel link. History assembly does
// the inverse rewrite, so the model only ever sees the readable form.
var (
	mentionPattern = regexp.MustCompile(`@(\w+)`)
	emojiPattern   = regexp.MustCompile(`<e:(.*?)>`)
	channelPattern = regexp.MustCompile(`#(\w+)`)
)

// formatOutput applies all output formatters. A reference that cannot be
// resolved is left as the model wrote it.
func formatOutput(ctx context.Context, dir platform.Directory, env *environment.Environment, text string) string {
	if env.Guild == nil {
		return text
	}
	guildID := env.Guild.ID

	text = replaceAllMatches(text, mentionPattern, func(name string) string {
		member, err := dir.MemberByName(ctx, guildID, name)
		if err != nil || member == nil {
			return ""
		}
		return "<@" + member.User.ID + ">"
	})

	text = replaceAllMatches(text, emojiPattern, func(name string) string {
		emojis, err := dir.Emojis(ctx, guildID)
		if err != nil {
			return ""
		}
		for _, e := range emojis {
			if e.Name == name {
				if e.Animated {
					return fmt.Sprintf("<a:%s:%s>", e.Name, e.ID)
				}
				return fmt.Sprintf("<:%s:%s>", e.Name, e.ID)
			}
		}
		return ""
	})

	text = replaceAllMatches(text, channelPattern, func(name string) string {
		channels, err := dir.Channels(ctx, guildID)
		if err != nil {
			return ""
		}
		for _, c := range channels {
			if c.Name == name {
				return "<#" + c.ID + ">"
			}
		}
		return ""
	})

	return text
}

// replaceAllMatches substitutes each match's first capture group through
// resolve; an empty resolution keeps the original text.
func replaceAllMatches(text string, pattern *regexp.Regexp, resolve func(capture string) string) string {
	matches := pattern.FindAllStringSubmatch(text, -1)
	for _, match := range matches {
		replacement := resolve(match[1])
		if replacement == "" {
			continue
		}
		text = strings.Replace(text, match[0], replacement, 1)
	}
	return text
}
