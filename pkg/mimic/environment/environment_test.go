package environment

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jholhewres/mimic/pkg/mimic/platform"
)

// fakeClient is an in-memory platform.Client backed by fixed fixtures.
type fakeClient struct {
	self     platform.User
	guild    platform.Guild
	channel  platform.Channel
	cached   []*platform.Message
	fetched  []*platform.Message
	members  map[string]*platform.Member
	byID     map[string]*platform.Message
	latestID string

	fetchCalls int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		self:    platform.User{ID: "self-id", Name: "milo"},
		guild:   platform.Guild{ID: "g1", Name: "the lounge"},
		channel: platform.Channel{ID: "c1", GuildID: "g1", Name: "general", Type: platform.ChannelText},
		members: map[string]*platform.Member{},
		byID:    map[string]*platform.Message{},
	}
}

func (f *fakeClient) addMember(id, name string) {
	f.members[id] = &platform.Member{User: platform.User{ID: id, Name: name}, Status: "online"}
}

func (f *fakeClient) msg(id, authorID, authorName, content string) *platform.Message {
	m := &platform.Message{
		ID:        id,
		ChannelID: "c1",
		GuildID:   "g1",
		Author:    platform.User{ID: authorID, Name: authorName},
		Content:   content,
		Timestamp: time.Now(),
	}
	f.byID[id] = m
	return m
}

func (f *fakeClient) CachedMessages(channelID string) []*platform.Message { return f.cached }

// FetchMessages serves the fetched fixture when set, otherwise the same
// window as the cache. Small fixtures trip the cold-cache path without
// each test having to pad its cache.
func (f *fakeClient) FetchMessages(ctx context.Context, channelID string, limit int) ([]*platform.Message, error) {
	f.fetchCalls++
	if f.fetched != nil {
		return f.fetched, nil
	}
	return f.cached, nil
}

func (f *fakeClient) FetchMessage(ctx context.Context, channelID, messageID string) (*platform.Message, error) {
	if m, ok := f.byID[messageID]; ok {
		return m, nil
	}
	return nil, platform.ErrNotFound
}

func (f *fakeClient) LatestMessageID(channelID string) string { return f.latestID }

func (f *fakeClient) Send(ctx context.Context, channelID string, out *platform.Outgoing) (*platform.Message, error) {
	return &platform.Message{ID: "sent", ChannelID: channelID, Content: out.Content}, nil
}

func (f *fakeClient) Edit(ctx context.Context, channelID, messageID, content string) error {
	return nil
}
func (f *fakeClient) Typing(ctx context.Context, channelID string) error { return nil }
func (f *fakeClient) React(ctx context.Context, channelID, messageID, emoji string) error {
	return nil
}

func (f *fakeClient) Self() *platform.User { return &f.self }

func (f *fakeClient) Guild(ctx context.Context, guildID string) (*platform.Guild, error) {
	return &f.guild, nil
}

func (f *fakeClient) Channel(ctx context.Context, channelID string) (*platform.Channel, error) {
	return &f.channel, nil
}

func (f *fakeClient) Member(ctx context.Context, guildID, userID string) (*platform.Member, error) {
	if userID == f.self.ID {
		return &platform.Member{User: f.self, Status: "online"}, nil
	}
	if m, ok := f.members[userID]; ok {
		return m, nil
	}
	return nil, platform.ErrNotFound
}

func (f *fakeClient) MemberByName(ctx context.Context, guildID, name string) (*platform.Member, error) {
	for _, m := range f.members {
		if m.User.Name == name {
			return m, nil
		}
	}
	return nil, platform.ErrNotFound
}

func (f *fakeClient) Emojis(ctx context.Context, guildID string) ([]platform.Emoji, error) {
	return nil, nil
}

func (f *fakeClient) Channels(ctx context.Context, guildID string) ([]platform.Channel, error) {
	return []platform.Channel{f.channel}, nil
}

func (f *fakeClient) Stickers(ctx context.Context, guildID string) ([]platform.Sticker, error) {
	return nil, nil
}

func (f *fakeClient) CanSend(channelID string) bool     { return true }
func (f *fakeClient) Connect(ctx context.Context) error { return nil }
func (f *fakeClient) Disconnect() error                 { return nil }
func (f *fakeClient) Receive() <-chan *platform.Message { return nil }

var _ platform.Client = (*fakeClient)(nil)

func newTestAssembler(f *fakeClient) *Assembler {
	return NewAssembler(f, Options{Length: 40, GroupLimit: 5, FetchHistory: true}, nil)
}

func TestFetchGroupsConsecutiveSameAuthor(t *testing.T) {
	f := newFakeClient()
	f.addMember("u1", "ana")
	f.addMember("u2", "bruno")

	f.cached = []*platform.Message{
		f.msg("1", "u1", "ana", "first"),
		f.msg("2", "u1", "ana", "second"),
		f.msg("3", "u1", "ana", "third"),
		f.msg("4", "u2", "bruno", "hello"),
		f.msg("5", "u2", "bruno", "there"),
	}

	env, err := newTestAssembler(f).Fetch(context.Background(), "c1", nil)
	if err != nil {
		t.Fatal(err)
	}

	msgs := env.History.Messages
	if len(msgs) != 2 {
		t.Fatalf("entries = %d, want 2: %+v", len(msgs), rendered(msgs))
	}

	want := strings.Join([]string{"first", "second", "third"}, SplitMarker)
	if msgs[0].Content != want {
		t.Fatalf("grouped content = %q, want %q", msgs[0].Content, want)
	}
	if msgs[1].Content != "hello"+SplitMarker+"there" {
		t.Fatalf("second group = %q", msgs[1].Content)
	}
}

func TestFetchGroupingRespectsLimit(t *testing.T) {
	f := newFakeClient()
	f.addMember("u1", "ana")

	for i := 1; i <= 8; i++ {
		f.cached = append(f.cached, f.msg(fmt.Sprint(i), "u1", "ana", fmt.Sprintf("m%d", i)))
	}

	env, err := newTestAssembler(f).Fetch(context.Background(), "c1", nil)
	if err != nil {
		t.Fatal(err)
	}

	msgs := env.History.Messages
	// 8 messages with a group limit of 5: one entry absorbing 5 extras
	// would exceed it, so the first takes 5 followers and the rest form a
	// second entry.
	if len(msgs) != 2 {
		t.Fatalf("entries = %d, want 2: %v", len(msgs), rendered(msgs))
	}
	if got := strings.Count(msgs[0].Content, SplitMarker); got != 5 {
		t.Fatalf("first entry joins %d markers, want 5", got)
	}
}

func TestFetchGroupingStopsAtReply(t *testing.T) {
	f := newFakeClient()
	f.addMember("u1", "ana")

	first := f.msg("1", "u1", "ana", "one")
	reply := f.msg("2", "u1", "ana", "two")
	reply.ReplyToID = "1"

	f.cached = []*platform.Message{first, reply}

	env, err := newTestAssembler(f).Fetch(context.Background(), "c1", nil)
	if err != nil {
		t.Fatal(err)
	}

	if len(env.History.Messages) != 2 {
		t.Fatalf("reply was absorbed into the group: %v", rendered(env.History.Messages))
	}
	if env.History.Messages[1].ReplyTo == nil {
		t.Fatal("reply reference not resolved")
	}
}

func TestFetchTriggersAreNewestAndNotDuplicated(t *testing.T) {
	f := newFakeClient()
	f.addMember("u1", "ana")
	f.addMember("u2", "bruno")

	older := f.msg("1", "u2", "bruno", "old talk")
	trigger := f.msg("9", "u1", "ana", "hey milo")

	// Trigger already present in the window; it must not appear twice.
	f.cached = []*platform.Message{older, trigger}

	env, err := newTestAssembler(f).Fetch(context.Background(), "c1", []*platform.Message{trigger})
	if err != nil {
		t.Fatal(err)
	}

	msgs := env.History.Messages
	if len(msgs) != 2 {
		t.Fatalf("entries = %d, want 2: %v", len(msgs), rendered(msgs))
	}
	if msgs[len(msgs)-1].ID != "9" {
		t.Fatalf("trigger is not the newest entry, got %s", msgs[len(msgs)-1].ID)
	}
	if env.TriggerUser == nil || env.TriggerUser.Name != "ana" {
		t.Fatalf("trigger user = %+v", env.TriggerUser)
	}
}

func TestFetchColdCacheFallsBackToNetwork(t *testing.T) {
	f := newFakeClient()
	f.addMember("u1", "ana")

	f.cached = []*platform.Message{f.msg("1", "u1", "ana", "lonely cached message")}
	f.fetched = []*platform.Message{
		f.msg("2", "u1", "ana", "from the network"),
	}

	env, err := newTestAssembler(f).Fetch(context.Background(), "c1", nil)
	if err != nil {
		t.Fatal(err)
	}

	if f.fetchCalls != 1 {
		t.Fatalf("fetch calls = %d, want 1", f.fetchCalls)
	}
	if len(env.History.Messages) != 1 || env.History.Messages[0].Content != "from the network" {
		t.Fatalf("history = %v", rendered(env.History.Messages))
	}
}

func TestFetchNormalizesSelfMentions(t *testing.T) {
	f := newFakeClient()
	f.addMember("u1", "ana")

	f.cached = []*platform.Message{
		f.msg("1", "u1", "ana", "<@self-id> are you there"),
		f.msg("2", "u1", "ana", "filler"),
		f.msg("3", "u1", "ana", "filler2"),
		f.msg("4", "u1", "ana", "filler3"),
		f.msg("5", "u1", "ana", "filler4"),
	}

	env, err := newTestAssembler(f).Fetch(context.Background(), "c1", nil)
	if err != nil {
		t.Fatal(err)
	}

	first := env.History.Messages[0]
	if !strings.HasPrefix(first.Content, "@milo are you there") {
		t.Fatalf("mention not normalized: %q", first.Content)
	}
	if !first.MentionedSelf {
		t.Fatal("MentionedSelf not set")
	}
}

func TestFetchReplyToAbsorbedMessageResolvesToGroup(t *testing.T) {
	f := newFakeClient()
	f.addMember("u1", "ana")
	f.addMember("u2", "bruno")

	f.cached = []*platform.Message{
		f.msg("1", "u1", "ana", "part one"),
		f.msg("2", "u1", "ana", "part two"),
	}
	reply := f.msg("3", "u2", "bruno", "replying to part two")
	reply.ReplyToID = "2"
	f.cached = append(f.cached, reply)

	env, err := newTestAssembler(f).Fetch(context.Background(), "c1", nil)
	if err != nil {
		t.Fatal(err)
	}

	msgs := env.History.Messages
	if len(msgs) != 2 {
		t.Fatalf("entries = %d, want 2: %v", len(msgs), rendered(msgs))
	}
	if msgs[1].ReplyTo == nil {
		t.Fatal("reply unresolved")
	}
	// Message "2" was absorbed into the "1"+"2" group; the reply must
	// point at that group entry, not a phantom standalone message.
	if msgs[1].ReplyTo != msgs[0] {
		t.Fatalf("reply resolves to %q, want the group representative %q", msgs[1].ReplyTo.Content, msgs[0].Content)
	}
}

func TestFetchSkipsUnresolvableAuthors(t *testing.T) {
	f := newFakeClient()
	f.addMember("u1", "ana")
	// u3 deliberately has no membership entry.

	f.cached = []*platform.Message{
		f.msg("1", "u3", "ghost", "I left the server"),
		f.msg("2", "u1", "ana", "hello"),
	}

	env, err := newTestAssembler(f).Fetch(context.Background(), "c1", nil)
	if err != nil {
		t.Fatal(err)
	}

	if len(env.History.Messages) != 1 || env.History.Messages[0].Content != "hello" {
		t.Fatalf("history = %v", rendered(env.History.Messages))
	}
}

func TestFetchTruncatesToLength(t *testing.T) {
	f := newFakeClient()
	f.addMember("u1", "ana")
	f.addMember("u2", "bruno")

	// Alternate authors so grouping cannot collapse entries.
	for i := 0; i < 10; i++ {
		author, name := "u1", "ana"
		if i%2 == 1 {
			author, name = "u2", "bruno"
		}
		f.cached = append(f.cached, f.msg(fmt.Sprint(i), author, name, fmt.Sprintf("m%d", i)))
	}

	a := NewAssembler(f, Options{Length: 4, GroupLimit: 5, FetchHistory: true}, nil)
	env, err := a.Fetch(context.Background(), "c1", nil)
	if err != nil {
		t.Fatal(err)
	}

	msgs := env.History.Messages
	if len(msgs) != 4 {
		t.Fatalf("entries = %d, want 4", len(msgs))
	}
	if msgs[len(msgs)-1].Content != "m9" {
		t.Fatalf("newest entry = %q, want m9", msgs[len(msgs)-1].Content)
	}
}

func rendered(msgs []*Message) []string {
	out := make([]string, 0, len(msgs))
	for i, m := range msgs {
		out = append(out, RenderEntry(m, i))
	}
	return out
}
