package collector

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/mimic/pkg/mimic/config"
	"github.com/jholhewres/mimic/pkg/mimic/environment"
	"github.com/jholhewres/mimic/pkg/mimic/llm"
	"github.com/jholhewres/mimic/pkg/mimic/platform"
	"github.com/jholhewres/mimic/pkg/mimic/tasks"
)

// recordingScheduler captures filed tasks.
type recordingScheduler struct {
	mu    sync.Mutex
	added []tasks.Context
}

func (r *recordingScheduler) Add(kind tasks.Kind, c tasks.Context, runAt time.Time) (*tasks.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added = append(r.added, c)
	return &tasks.Task{Kind: kind, Context: c}, true
}

func (r *recordingScheduler) tasks() []tasks.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]tasks.Context, len(r.added))
	copy(out, r.added)
	return out
}

// stubClient provides just what admission and trigger detection read.
type stubClient struct {
	self    platform.User
	canSend bool
	channel *platform.Channel
}

func (s *stubClient) CachedMessages(channelID string) []*platform.Message { return nil }
func (s *stubClient) FetchMessages(ctx context.Context, channelID string, limit int) ([]*platform.Message, error) {
	return nil, nil
}
func (s *stubClient) FetchMessage(ctx context.Context, channelID, messageID string) (*platform.Message, error) {
	return nil, platform.ErrNotFound
}
func (s *stubClient) LatestMessageID(channelID string) string { return "" }
func (s *stubClient) Send(ctx context.Context, channelID string, out *platform.Outgoing) (*platform.Message, error) {
	return nil, platform.ErrDisconnected
}
func (s *stubClient) Edit(ctx context.Context, channelID, messageID, content string) error {
	return nil
}
func (s *stubClient) Typing(ctx context.Context, channelID string) error { return nil }
func (s *stubClient) React(ctx context.Context, channelID, messageID, emoji string) error {
	return nil
}
func (s *stubClient) Self() *platform.User { return &s.self }
func (s *stubClient) Guild(ctx context.Context, guildID string) (*platform.Guild, error) {
	return nil, platform.ErrNotFound
}
func (s *stubClient) Channel(ctx context.Context, channelID string) (*platform.Channel, error) {
	if s.channel != nil {
		return s.channel, nil
	}
	return nil, platform.ErrNotFound
}
func (s *stubClient) Member(ctx context.Context, guildID, userID string) (*platform.Member, error) {
	return nil, platform.ErrNotFound
}
func (s *stubClient) MemberByName(ctx context.Context, guildID, name string) (*platform.Member, error) {
	return nil, platform.ErrNotFound
}
func (s *stubClient) Emojis(ctx context.Context, guildID string) ([]platform.Emoji, error) {
	return nil, nil
}
func (s *stubClient) Channels(ctx context.Context, guildID string) ([]platform.Channel, error) {
	return nil, nil
}
func (s *stubClient) Stickers(ctx context.Context, guildID string) ([]platform.Sticker, error) {
	return nil, nil
}
func (s *stubClient) CanSend(channelID string) bool     { return s.canSend }
func (s *stubClient) Connect(ctx context.Context) error { return nil }
func (s *stubClient) Disconnect() error                 { return nil }
func (s *stubClient) Receive() <-chan *platform.Message { return nil }

var _ platform.Client = (*stubClient)(nil)

func newTestCollector(sched Scheduler) *Collector {
	client := &stubClient{self: platform.User{ID: "self-id", Name: "milo"}, canSend: true}
	return New(client, nil, sched, nil, Options{
		Nicknames: []string{"milinho"},
		Wait:      config.DelayWindow{MinMs: 30},
	}, nil)
}

func msg(id, channelID, authorID, content string) *platform.Message {
	return &platform.Message{
		ID:        id,
		ChannelID: channelID,
		Author:    platform.User{ID: authorID, Name: "ana"},
		Content:   content,
		Timestamp: time.Now(),
	}
}

func waitForTasks(t *testing.T, r *recordingScheduler, want int) []tasks.Context {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := r.tasks(); len(got) >= want {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d tasks, got %d", want, len(r.tasks()))
	return nil
}

func TestBurstFlushesOnce(t *testing.T) {
	sched := &recordingScheduler{}
	c := newTestCollector(sched)
	defer c.Stop()

	c.Observe(msg("1", "c1", "u1", "hey milo"))
	c.Observe(msg("2", "c1", "u1", "got a minute"))
	c.Observe(msg("3", "c1", "u1", "wanted to ask something"))

	got := waitForTasks(t, sched, 1)
	if len(got) != 1 {
		t.Fatalf("tasks = %d, want exactly 1", len(got))
	}

	task := got[0]
	if len(task.Messages) != 3 {
		t.Fatalf("burst carries %d messages, want 3", len(task.Messages))
	}
	for i, want := range []string{"1", "2", "3"} {
		if task.Messages[i].ID != want {
			t.Fatalf("message %d = %s, want %s (arrival order)", i, task.Messages[i].ID, want)
		}
	}
	if !task.Triggered {
		t.Fatal("name in first message did not trigger the burst")
	}
	if c.Pending() != 0 {
		t.Fatalf("pending bursts = %d after flush", c.Pending())
	}
}

func TestUntriggeredBurstDiscardedWithoutClassifier(t *testing.T) {
	sched := &recordingScheduler{}
	c := newTestCollector(sched)
	defer c.Stop()

	c.Observe(msg("1", "c1", "u1", "talking to someone else"))

	time.Sleep(150 * time.Millisecond)
	if got := sched.tasks(); len(got) != 0 {
		t.Fatalf("untriggered burst filed %d tasks", len(got))
	}
}

// verdictCompleter hands the classifier a canned judgment.
type verdictCompleter struct {
	content string
}

func (v *verdictCompleter) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	return &llm.Response{Content: v.content}, nil
}

func newClassifierCollector(sched Scheduler, verdict string) *Collector {
	client := &stubClient{
		self:    platform.User{ID: "self-id", Name: "milo"},
		canSend: true,
		channel: &platform.Channel{ID: "c1", Name: "dm", Type: platform.ChannelDM},
	}
	assembler := environment.NewAssembler(client, environment.Options{Length: 10, GroupLimit: 5}, nil)
	classifier := llm.NewClassifier(&verdictCompleter{content: verdict}, "small-model", nil)
	return New(client, assembler, sched, classifier, Options{
		Wait: config.DelayWindow{MinMs: 30},
	}, nil)
}

func TestClassifierContinuationEnqueues(t *testing.T) {
	sched := &recordingScheduler{}
	c := newClassifierCollector(sched, `{"continuation":true,"aboutUser":false}`)
	defer c.Stop()

	c.Observe(msg("1", "c1", "u1", "and what did he say next"))

	got := waitForTasks(t, sched, 1)
	if got[0].Triggered {
		t.Fatal("classifier-admitted burst marked as triggered")
	}
}

func TestClassifierAboutOnlyVerdictDiscarded(t *testing.T) {
	sched := &recordingScheduler{}
	c := newClassifierCollector(sched, `{"continuation":false,"aboutUser":true}`)
	defer c.Stop()

	c.Observe(msg("1", "c1", "u1", "that guy is always online"))

	time.Sleep(150 * time.Millisecond)
	if got := sched.tasks(); len(got) != 0 {
		t.Fatalf("about-only verdict filed %d tasks", len(got))
	}
}

func TestNicknameTriggers(t *testing.T) {
	sched := &recordingScheduler{}
	c := newTestCollector(sched)
	defer c.Stop()

	c.Observe(msg("1", "c1", "u1", "MILINHO what do you think"))

	got := waitForTasks(t, sched, 1)
	if !got[0].Triggered {
		t.Fatal("nickname did not trigger")
	}
}

func TestMentionIDTriggers(t *testing.T) {
	sched := &recordingScheduler{}
	c := newTestCollector(sched)
	defer c.Stop()

	m := msg("1", "c1", "u1", "what about this one")
	m.MentionIDs = []string{"self-id"}
	c.Observe(m)

	got := waitForTasks(t, sched, 1)
	if !got[0].Triggered {
		t.Fatal("direct mention did not trigger")
	}
}

func TestAuthorsCollectIndependently(t *testing.T) {
	sched := &recordingScheduler{}
	c := newTestCollector(sched)
	defer c.Stop()

	c.Observe(msg("1", "c1", "u1", "milo here"))
	c.Observe(msg("2", "c1", "u2", "milo me too"))

	got := waitForTasks(t, sched, 2)
	if len(got) != 2 {
		t.Fatalf("tasks = %d, want 2 (one per author)", len(got))
	}
	if got[0].AuthorID == got[1].AuthorID {
		t.Fatal("bursts were not split by author")
	}
	for _, task := range got {
		if len(task.Messages) != 1 {
			t.Fatalf("cross-author messages merged: %d", len(task.Messages))
		}
	}
}

func TestAdmissionFilters(t *testing.T) {
	t.Run("own messages dropped", func(t *testing.T) {
		sched := &recordingScheduler{}
		c := newTestCollector(sched)
		defer c.Stop()

		own := msg("1", "c1", "self-id", "milo talking to himself")
		c.Observe(own)
		if c.Pending() != 0 {
			t.Fatal("own message opened a burst")
		}
	})

	t.Run("bot authors dropped", func(t *testing.T) {
		sched := &recordingScheduler{}
		c := newTestCollector(sched)
		defer c.Stop()

		m := msg("1", "c1", "u9", "milo hi")
		m.Author.Bot = true
		c.Observe(m)
		if c.Pending() != 0 {
			t.Fatal("bot message opened a burst")
		}
	})

	t.Run("blacklisted user dropped", func(t *testing.T) {
		sched := &recordingScheduler{}
		client := &stubClient{self: platform.User{ID: "self-id", Name: "milo"}, canSend: true}
		c := New(client, nil, sched, nil, Options{
			Wait:           config.DelayWindow{MinMs: 30},
			BlacklistUsers: []string{"u1"},
		}, nil)
		defer c.Stop()

		c.Observe(msg("1", "c1", "u1", "milo hello"))
		if c.Pending() != 0 {
			t.Fatal("blacklisted user opened a burst")
		}
	})

	t.Run("unsendable channel dropped", func(t *testing.T) {
		sched := &recordingScheduler{}
		client := &stubClient{self: platform.User{ID: "self-id", Name: "milo"}, canSend: false}
		c := New(client, nil, sched, nil, Options{Wait: config.DelayWindow{MinMs: 30}}, nil)
		defer c.Stop()

		c.Observe(msg("1", "c1", "u1", "milo hello"))
		if c.Pending() != 0 {
			t.Fatal("unsendable channel opened a burst")
		}
	})
}

func TestStopCancelsPendingBursts(t *testing.T) {
	sched := &recordingScheduler{}
	c := newTestCollector(sched)

	c.Observe(msg("1", "c1", "u1", "milo wait"))
	c.Stop()

	time.Sleep(100 * time.Millisecond)
	if got := sched.tasks(); len(got) != 0 {
		t.Fatalf("stopped collector still filed %d tasks", len(got))
	}
}
