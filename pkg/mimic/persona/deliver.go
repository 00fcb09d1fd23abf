package persona

import (
	"context"
	"fmt"

	"github.com/jholhewres/mimic/pkg/mimic/environment"
	"github.com/jholhewres/mimic/pkg/mimic/platform"
	"github.com/jholhewres/mimic/pkg/mimic/tasks"
)

// deliver sends the generated reply: format platform references, split
// into parts, pace each part behind typing indicators, occasionally
// fat-finger a typo and correct it with an edit. Plugin attachments and
// stickers ride on the first part only; the reply link, when used, also
// goes on the first part.
func (a *Assistant) deliver(ctx context.Context, env *environment.Environment, task *tasks.Task, result *GenResult) error {
	channelID := task.Context.ChannelID

	formatted := formatOutput(ctx, a.client, env, result.Content)
	parts := Segment(formatted)

	var attachments, stickers []string
	if result.Plugin != nil && result.Plugin.Result != nil {
		attachments = result.Plugin.Result.AttachmentURLs
		stickers = result.Plugin.Result.StickerIDs
	}

	// Nothing generated and nothing carried by a plugin: stay silent.
	if len(parts) == 1 && parts[0] == "" && len(attachments)+len(stickers) == 0 {
		return nil
	}

	var trigger *platform.Message
	if n := len(task.Context.Messages); n > 0 {
		trigger = task.Context.Messages[n-1]
	}

	// When others spoke after the trigger, a bare message would read as
	// answering the wrong person; force the reply link then.
	mustReply := trigger != nil && a.client.LatestMessageID(channelID) != trigger.ID

	replied := false
	for _, part := range parts {
		if part == "" && len(attachments)+len(stickers) == 0 {
			continue
		}

		typed := part
		makeTypo := part != "" && a.chance(a.cfg.Chances.Typo)
		if makeTypo {
			typed = addTypo(part, a.rng)
		}

		a.sleep(ctx, a.pickDelay(a.cfg.Delays.Typing))
		if typed != "" {
			if err := a.client.Typing(ctx, channelID); err != nil {
				a.logger.Debug("typing indicator failed", "channel", channelID, "error", err)
			}
		}
		a.sleep(ctx, a.composeDelay(typed))
		if err := ctx.Err(); err != nil {
			return err
		}

		out := &platform.Outgoing{Content: typed}
		if !replied {
			out.AttachmentURLs = attachments
			out.StickerIDs = stickers
			if trigger != nil && task.Context.Triggered && (mustReply || a.chance(a.cfg.Chances.Reply)) {
				// Any of the burst's messages is a fair reply target.
				out.ReplyToID = task.Context.Messages[a.rng.Intn(len(task.Context.Messages))].ID
			}
		}

		sent, err := a.client.Send(ctx, channelID, out)
		if err != nil {
			return fmt.Errorf("send part: %w", err)
		}

		if makeTypo && typed != part {
			a.sleep(ctx, a.pickDelay(a.cfg.Delays.Typing))
			if err := a.client.Edit(ctx, channelID, sent.ID, part); err != nil {
				a.logger.Debug("typo correction failed", "channel", channelID, "error", err)
			}
		}

		replied = true
	}
	return nil
}
