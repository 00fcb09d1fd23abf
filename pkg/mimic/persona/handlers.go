package persona

import (
	"context"

	"github.com/jholhewres/mimic/pkg/mimic/tasks"
)

// reviveInstructions steer an idle-channel turn towards opening a new
// topic instead of continuing stale messages.
const reviveInstructions = "The current channel has been inactive for a while. I will 'revive' it by saying a generic greeting (hi, hello, hey) or asking people what they're doing (wyad, wyd, what are you up to), or by starting a monologue about some topic I enjoy or just want to talk about randomly. I must say something interesting. Say something that might provoke discussion or get people talking, but start a new topic and don't simply continue old messages."

// PingHandler answers collected message bursts.
type PingHandler struct {
	Assistant *Assistant
	Queue     int
}

func (h *PingHandler) Kind() tasks.Kind { return tasks.KindPing }
func (h *PingHandler) MaxQueue() int    { return h.Queue }

func (h *PingHandler) Check(c tasks.Context) bool {
	return c.ChannelID != "" && len(c.Messages) > 0
}

func (h *PingHandler) Run(ctx context.Context, task *tasks.Task) error {
	return h.Assistant.Respond(ctx, task)
}

// WorkHandler runs self-directed turns: reminders and other deferred
// actions carrying their own instructions.
type WorkHandler struct {
	Assistant *Assistant
	Queue     int
}

func (h *WorkHandler) Kind() tasks.Kind { return tasks.KindWork }
func (h *WorkHandler) MaxQueue() int    { return h.Queue }

func (h *WorkHandler) Check(c tasks.Context) bool {
	return c.ChannelID != "" && c.Instructions != ""
}

func (h *WorkHandler) Run(ctx context.Context, task *tasks.Task) error {
	return h.Assistant.Respond(ctx, task)
}

// DeadChatHandler revives idle channels with a canned self-direction.
type DeadChatHandler struct {
	Assistant *Assistant
	Queue     int
}

func (h *DeadChatHandler) Kind() tasks.Kind { return tasks.KindDeadChat }
func (h *DeadChatHandler) MaxQueue() int    { return h.Queue }

func (h *DeadChatHandler) Check(c tasks.Context) bool {
	return c.ChannelID != ""
}

func (h *DeadChatHandler) Run(ctx context.Context, task *tasks.Task) error {
	if task.Context.Instructions == "" {
		task.Context.Instructions = reviveInstructions
	}
	return h.Assistant.Respond(ctx, task)
}

var (
	_ tasks.Handler = (*PingHandler)(nil)
	_ tasks.Handler = (*WorkHandler)(nil)
	_ tasks.Handler = (*DeadChatHandler)(nil)
)
