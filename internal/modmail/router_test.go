// ABOUTME: Tests for the inbound router and end-to-end ticket flows
// ABOUTME: Covers first contact races, stale sessions, failure notices, and the full round trip

package modmail

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-modmail/internal/store"
)

func TestRouter_FirstContactOpensTicket(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()

	rig.router.OnInboundMessage(ctx, directMessage("$1", alice, "hello"))

	channelID, ok := rig.dir.LookupChannel(alice.ID)
	require.True(t, ok)

	posts := rig.platform.postsTo(channelID)
	require.Len(t, posts, 2)
	assert.True(t, posts[0].MentionStaff, "announcement first")
	assert.Equal(t, "hello", posts[1].Description)
	assert.Len(t, rig.platform.reactions, 1)
}

func TestRouter_ExistingSessionReused(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()

	rig.router.OnInboundMessage(ctx, directMessage("$1", alice, "one"))
	rig.router.OnInboundMessage(ctx, directMessage("$2", alice, "two"))

	assert.Equal(t, 1, rig.platform.channelCount())
	channelID, _ := rig.dir.LookupChannel(alice.ID)
	assert.Len(t, rig.platform.postsTo(channelID), 3)
}

func TestRouter_ConcurrentFirstContactCreatesOneChannel(t *testing.T) {
	rig := newTestRig()
	rig.platform.createDelay = 5 * time.Millisecond
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rig.router.OnInboundMessage(ctx, directMessage(fmt.Sprintf("$%d", i), alice, fmt.Sprintf("msg %d", i)))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, rig.platform.createdCalled)
	assert.Equal(t, 1, rig.platform.channelCount())
	assert.Equal(t, 1, rig.dir.Len())

	channelID, ok := rig.dir.LookupChannel(alice.ID)
	require.True(t, ok)
	assert.Len(t, rig.platform.postsTo(channelID), n+1)
	assert.Equal(t, 0, rig.router.userLocks.size())
}

func TestRouter_DifferentUsersGetDifferentChannels(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()
	bob := User{ID: "@bob:example.org", DisplayName: "Bob"}

	var wg sync.WaitGroup
	for _, u := range []User{alice, bob} {
		wg.Add(1)
		go func(u User) {
			defer wg.Done()
			rig.router.OnInboundMessage(ctx, directMessage("$"+u.ID, u, "hi"))
		}(u)
	}
	wg.Wait()

	a, _ := rig.dir.LookupChannel(alice.ID)
	b, _ := rig.dir.LookupChannel(bob.ID)
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, rig.dir.Len())
}

func TestRouter_IgnoresOwnMessages(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()

	own := directMessage("$1", User{ID: testSelf}, "echo")
	rig.router.OnInboundMessage(ctx, own)

	flagged := directMessage("$2", alice, "echo")
	flagged.FromSelf = true
	rig.router.OnInboundMessage(ctx, flagged)

	assert.Equal(t, 0, rig.platform.channelCount())
	assert.Equal(t, 0, rig.dir.Len())
}

func TestRouter_IgnoresUnknownSource(t *testing.T) {
	rig := newTestRig()

	msg := directMessage("$1", alice, "hello")
	msg.Source = SourceUnknown
	rig.router.OnInboundMessage(context.Background(), msg)

	assert.Equal(t, 0, rig.platform.channelCount())
}

func TestRouter_StaleSessionReprovisions(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()
	require.NoError(t, rig.dir.Create(alice.ID, "!deleted-by-admin:example.org"))

	rig.router.OnInboundMessage(ctx, directMessage("$1", alice, "still there?"))

	channelID, ok := rig.dir.LookupChannel(alice.ID)
	require.True(t, ok)
	assert.NotEqual(t, "!deleted-by-admin:example.org", channelID)
	assert.Len(t, rig.platform.postsTo(channelID), 2)
	assert.Equal(t, []store.TicketEventKind{store.TicketInvalidated, store.TicketOpened}, rig.audit.kinds())
}

func TestRouter_InconclusiveExistenceCheckKeepsSession(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()
	require.NoError(t, rig.dir.Create(alice.ID, relayID))
	rig.platform.existsErr = errPlatformDown

	rig.router.OnInboundMessage(ctx, directMessage("$1", alice, "hi"))

	channelID, _ := rig.dir.LookupChannel(alice.ID)
	assert.Equal(t, relayID, channelID)
	assert.Len(t, rig.platform.postsTo(relayID), 1)
	assert.Equal(t, 0, rig.platform.createdCalled)
}

func TestRouter_ProvisioningFailureTellsUserOnce(t *testing.T) {
	rig := newTestRig()
	rig.platform.failCreate = true

	rig.router.OnInboundMessage(context.Background(), directMessage("$1", alice, "hello"))

	dms := rig.platform.directTo(alice.ID)
	require.Len(t, dms, 1)
	assert.Equal(t, msgTicketCreateFailed, dms[0].Content)
	assert.Equal(t, 0, rig.dir.Len())
}

func TestRouter_RelayFailureSendsGenericNotice(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()
	require.NoError(t, rig.dir.Create(alice.ID, relayID))
	rig.platform.channels[relayID] = ChannelSpec{}
	rig.platform.failPost[relayID] = true

	rig.router.OnInboundMessage(ctx, directMessage("$1", alice, "hello"))

	dms := rig.platform.directTo(alice.ID)
	require.Len(t, dms, 1)
	assert.Equal(t, msgProcessingFailed, dms[0].Content)
	assert.Empty(t, rig.platform.reactions)
}

func TestRouter_StaffReplyReachesUser(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()
	rig.router.OnInboundMessage(ctx, directMessage("$1", alice, "help"))
	channelID, _ := rig.dir.LookupChannel(alice.ID)

	rig.router.OnInboundMessage(ctx, relayMessage(channelID, staff, true, "sure"))
	rig.router.OnInboundMessage(ctx, relayMessage(channelID, User{ID: "@lurker:example.org"}, false, "psst"))

	dms := rig.platform.directTo(alice.ID)
	require.Len(t, dms, 1)
	assert.Equal(t, "sure", dms[0].Description)
}

func TestRouter_OnChannelGone(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()
	require.NoError(t, rig.dir.Create(alice.ID, relayID))

	rig.router.OnChannelGone(ctx, relayID)
	rig.router.OnChannelGone(ctx, relayID)

	assert.Equal(t, 0, rig.dir.Len())
	assert.Equal(t, []store.TicketEventKind{store.TicketInvalidated}, rig.audit.kinds())
}

func TestRouter_OnCommand(t *testing.T) {
	t.Run("unknown command ignored", func(t *testing.T) {
		rig := newTestRig()
		require.NoError(t, rig.dir.Create(alice.ID, relayID))
		resp := &fakeResponder{}

		rig.router.OnCommand(context.Background(), Command{Name: "ban", ChannelID: relayID, Issuer: staff, IssuerIsStaff: true, Responder: resp})

		assert.Empty(t, resp.replies)
		assert.Equal(t, 1, rig.dir.Len())
	})

	t.Run("rejection answered privately", func(t *testing.T) {
		rig := newTestRig()
		resp := &fakeResponder{}

		rig.router.OnCommand(context.Background(), closeCommand(relayID, alice, false, resp))

		assert.Equal(t, []string{msgNoPermission}, resp.replies)
	})

	t.Run("close through router", func(t *testing.T) {
		rig := newTestRig()
		require.NoError(t, rig.dir.Create(alice.ID, relayID))
		resp := &fakeResponder{}

		rig.router.OnCommand(context.Background(), closeCommand(relayID, staff, true, resp))

		assert.Equal(t, []string{msgClosing}, resp.replies)
		assert.Equal(t, 0, rig.dir.Len())
	})
}

// panickyPlatform blows up on profile lookups.
type panickyPlatform struct {
	*fakePlatform
}

func (p panickyPlatform) FetchUser(ctx context.Context, userID string) (User, error) {
	panic("profile service exploded")
}

func TestRouter_RecoversFromPanics(t *testing.T) {
	fp := newFakePlatform()
	rig := newTestRig()
	r := New(testConfig(), Deps{Platform: panickyPlatform{fp}, Directory: rig.dir, Deferrer: rig.sched, Logger: testLogger()})
	require.NoError(t, rig.dir.Create(alice.ID, relayID))

	assert.NotPanics(t, func() {
		r.OnInboundMessage(context.Background(), relayMessage(relayID, staff, true, "boom"))
	})
}

func TestRouter_RoundTrip(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()

	// User opens a ticket
	rig.router.OnInboundMessage(ctx, directMessage("$1", alice, "my package is lost"))
	first, ok := rig.dir.LookupChannel(alice.ID)
	require.True(t, ok)

	// Staff answers
	rig.router.OnInboundMessage(ctx, relayMessage(first, staff, true, "looking into it"))

	// Staff closes
	resp := &fakeResponder{}
	rig.router.OnCommand(ctx, closeCommand(first, staff, true, resp))
	assert.Equal(t, StateClosing, rig.router.Closer().State(first))

	// A staff message in the grace window is not mirrored
	rig.router.OnInboundMessage(ctx, relayMessage(first, staff, true, "one more thing"))

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, rig.sched.Wait(waitCtx))
	assert.Equal(t, []string{first}, rig.platform.deletedChannels())

	dms := rig.platform.directTo(alice.ID)
	require.Len(t, dms, 2)
	assert.Equal(t, "looking into it", dms[0].Description)
	assert.Equal(t, "🎫 Ticket Closed", dms[1].Title)

	// Next message opens a fresh ticket
	rig.router.OnInboundMessage(ctx, directMessage("$2", alice, "another issue"))
	second, ok := rig.dir.LookupChannel(alice.ID)
	require.True(t, ok)
	assert.NotEqual(t, first, second)

	assert.Equal(t, []store.TicketEventKind{store.TicketOpened, store.TicketClosed, store.TicketOpened}, rig.audit.kinds())
}
