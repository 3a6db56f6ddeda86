// ABOUTME: In-memory Platform fake and helpers shared by the modmail tests
// ABOUTME: Records every outbound call and can be told to fail individual capabilities

package modmail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-modmail/internal/directory"
	"github.com/2389/coven-modmail/internal/scheduler"
	"github.com/2389/coven-modmail/internal/store"
)

var errPlatformDown = errors.New("platform unavailable")

type sentMessage struct {
	Target string
	Msg    Message
}

type reaction struct {
	ChannelID string
	MessageID string
	Marker    string
}

// fakePlatform is a Platform that keeps everything in memory.
type fakePlatform struct {
	mu sync.Mutex

	nextChannel int
	channels    map[string]ChannelSpec
	deleted     []string
	direct      []sentMessage
	posted      []sentMessage
	reactions   []reaction
	users       map[string]User

	createDelay time.Duration

	failCreate    bool
	failDirect    map[string]bool // user id -> fail
	failPost      map[string]bool // channel id -> fail
	failReact     bool
	failDelete    bool
	failFetch     bool
	existsErr     error
	onDelete      func(channelID string)
	createdCalled int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		channels:   make(map[string]ChannelSpec),
		users:      make(map[string]User),
		failDirect: make(map[string]bool),
		failPost:   make(map[string]bool),
	}
}

func (f *fakePlatform) SendDirect(ctx context.Context, userID string, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDirect[userID] {
		return fmt.Errorf("send direct to %s: %w", userID, errPlatformDown)
	}
	f.direct = append(f.direct, sentMessage{Target: userID, Msg: msg})
	return nil
}

func (f *fakePlatform) SendToChannel(ctx context.Context, channelID string, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPost[channelID] {
		return fmt.Errorf("post to %s: %w", channelID, errPlatformDown)
	}
	f.posted = append(f.posted, sentMessage{Target: channelID, Msg: msg})
	return nil
}

func (f *fakePlatform) CreateChannel(ctx context.Context, spec ChannelSpec) (string, error) {
	f.mu.Lock()
	f.createdCalled++
	delay := f.createDelay
	fail := f.failCreate
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if fail {
		return "", errPlatformDown
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextChannel++
	id := fmt.Sprintf("!relay%d:example.org", f.nextChannel)
	f.channels[id] = spec
	return id, nil
}

func (f *fakePlatform) DeleteChannel(ctx context.Context, channelID string) error {
	if f.onDelete != nil {
		f.onDelete(channelID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelete {
		return errPlatformDown
	}
	delete(f.channels, channelID)
	f.deleted = append(f.deleted, channelID)
	return nil
}

func (f *fakePlatform) ChannelExists(ctx context.Context, channelID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existsErr != nil {
		return false, f.existsErr
	}
	_, ok := f.channels[channelID]
	return ok, nil
}

func (f *fakePlatform) FetchUser(ctx context.Context, userID string) (User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFetch {
		return User{}, errPlatformDown
	}
	if u, ok := f.users[userID]; ok {
		return u, nil
	}
	return User{ID: userID}, nil
}

func (f *fakePlatform) React(ctx context.Context, channelID, messageID, marker string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReact {
		return errPlatformDown
	}
	f.reactions = append(f.reactions, reaction{ChannelID: channelID, MessageID: messageID, Marker: marker})
	return nil
}

func (f *fakePlatform) channelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.channels)
}

func (f *fakePlatform) postsTo(channelID string) []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Message
	for _, p := range f.posted {
		if p.Target == channelID {
			out = append(out, p.Msg)
		}
	}
	return out
}

func (f *fakePlatform) directTo(userID string) []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Message
	for _, d := range f.direct {
		if d.Target == userID {
			out = append(out, d.Msg)
		}
	}
	return out
}

func (f *fakePlatform) deletedChannels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

// fakeResponder records command replies.
type fakeResponder struct {
	mu        sync.Mutex
	replies   []string
	private   []bool
	followUps []string
}

func (r *fakeResponder) Reply(ctx context.Context, text string, private bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, text)
	r.private = append(r.private, private)
	return nil
}

func (r *fakeResponder) FollowUp(ctx context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.followUps = append(r.followUps, text)
	return nil
}

// memoryAudit is an AuditSink that keeps events in a slice.
type memoryAudit struct {
	mu     sync.Mutex
	events []store.TicketEvent
}

func (m *memoryAudit) AppendTicketEvent(ctx context.Context, e *store.TicketEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *e)
	return nil
}

func (m *memoryAudit) kinds() []store.TicketEventKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.TicketEventKind
	for _, e := range m.events {
		out = append(out, e.Kind)
	}
	return out
}

const (
	testSelf  = "@modmail:example.org"
	testSpace = "!support-space:example.org"
	testStaff = "!staff:example.org"
)

var (
	alice = User{ID: "@alice:example.org", DisplayName: "Alice Liddell", AvatarURL: "mxc://example.org/alice"}
	staff = User{ID: "@sam:example.org", DisplayName: "Sam"}
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		SelfID:      testSelf,
		ParentID:    testSpace,
		StaffRoleID: testStaff,
		CloseDelay:  10 * time.Millisecond,
		AckMarker:   DefaultAckMarker,
	}
}

type testRig struct {
	platform *fakePlatform
	dir      *directory.Directory
	sched    *scheduler.Scheduler
	audit    *memoryAudit
	router   *Router
}

func newTestRig() *testRig {
	p := newFakePlatform()
	d := directory.New()
	s := scheduler.New(testLogger())
	a := &memoryAudit{}
	r := New(testConfig(), Deps{
		Platform:  p,
		Directory: d,
		Deferrer:  s,
		Audit:     a,
		Logger:    testLogger(),
	})
	return &testRig{platform: p, dir: d, sched: s, audit: a, router: r}
}

func directMessage(id string, from User, text string) InboundMessage {
	return InboundMessage{
		ID:        id,
		Source:    SourceDirect,
		ChannelID: "!dm-" + from.ID,
		Sender:    from,
		Text:      text,
	}
}

func relayMessage(channelID string, from User, isStaff bool, text string) InboundMessage {
	return InboundMessage{
		ID:            "$" + text,
		Source:        SourceChannel,
		ChannelID:     channelID,
		Sender:        from,
		Text:          text,
		SenderIsStaff: isStaff,
	}
}
