// ABOUTME: Matrix client lifecycle for the modmail bot: login, startup checks, sync loop, shutdown
// ABOUTME: Feeds classified events into the modmail router and drains in-flight work on exit

package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-modmail/internal/dedupe"
	"github.com/2389/coven-modmail/internal/modmail"
)

const (
	// networkTimeout bounds Matrix API calls made outside an event handler.
	networkTimeout = 15 * time.Second
	// handlerTimeout bounds the handling of one event.
	handlerTimeout = 2 * time.Minute
)

// Handler receives classified events. *modmail.Router implements it.
type Handler interface {
	OnInboundMessage(ctx context.Context, msg modmail.InboundMessage)
	OnCommand(ctx context.Context, cmd modmail.Command)
	OnChannelGone(ctx context.Context, channelID string)
}

// Options configures a Bridge.
type Options struct {
	Homeserver  string
	Username    string
	Password    string
	UserID      string
	AccessToken string
	DeviceID    string

	// RecoveryKey turns on E2EE; CryptoDir holds its store.
	RecoveryKey string
	CryptoDir   string

	SpaceID       string
	StaffRoomID   string
	CommandPrefix string
	StatusMessage string

	LogLevel string
}

// Bridge is the Matrix side of modmail. It implements modmail.Platform.
type Bridge struct {
	opts   Options
	client *mautrix.Client
	logger *slog.Logger

	crypto *cryptoSession
	seen   *dedupe.EventCache

	conduits *conduits
	staff    *roster
	relays   *roomSet
	queues   *roomQueues

	// dmLocks serialises conduit creation per user.
	dmMu    sync.Mutex
	dmLocks map[string]*sync.Mutex
}

// NewBridge creates the Matrix client. Nothing touches the network until
// Login.
func NewBridge(opts Options, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := mautrix.NewClient(opts.Homeserver, id.UserID(opts.UserID), opts.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	client.Log = clientLogger(opts.LogLevel)
	if opts.DeviceID != "" {
		client.DeviceID = id.DeviceID(opts.DeviceID)
	}
	if opts.CommandPrefix == "" {
		opts.CommandPrefix = "!"
	}

	return &Bridge{
		opts:     opts,
		client:   client,
		logger:   logger.With("component", "matrix"),
		seen:     dedupe.New(dedupe.DefaultTTL, dedupe.DefaultCapacity),
		conduits: newConduits(),
		staff:    newRoster(),
		relays:   newRoomSet(),
		queues:   newRoomQueues(),
		dmLocks:  make(map[string]*sync.Mutex),
	}, nil
}

// clientLogger builds the zerolog logger mautrix writes its own diagnostics
// to, at the bridge's level.
func clientLogger(level string) zerolog.Logger {
	lvl := zerolog.InfoLevel
	switch level {
	case "debug":
		lvl = zerolog.DebugLevel
	case "warn":
		lvl = zerolog.WarnLevel
	case "error":
		lvl = zerolog.ErrorLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).With().Timestamp().Str("component", "mautrix").Logger()
}

// UserID returns the bot's user id once logged in.
func (b *Bridge) UserID() string {
	return b.client.UserID.String()
}

// Login authenticates with a password, or checks the configured access
// token with whoami. E2EE is set up afterwards when a recovery key is set.
func (b *Bridge) Login(ctx context.Context) error {
	if b.opts.AccessToken != "" {
		resp, err := b.client.Whoami(ctx)
		if err != nil {
			return fmt.Errorf("checking access token: %w", err)
		}
		b.client.UserID = resp.UserID
		if resp.DeviceID != "" {
			b.client.DeviceID = resp.DeviceID
		}
	} else {
		resp, err := b.client.Login(ctx, &mautrix.ReqLogin{
			Type: mautrix.AuthTypePassword,
			Identifier: mautrix.UserIdentifier{
				Type: mautrix.IdentifierTypeUser,
				User: b.opts.Username,
			},
			Password:                 b.opts.Password,
			DeviceID:                 id.DeviceID(b.opts.DeviceID),
			InitialDeviceDisplayName: "coven-modmail",
			StoreCredentials:         true,
		})
		if err != nil {
			return fmt.Errorf("password login: %w", err)
		}
		b.logger.Info("logged in", "user_id", resp.UserID, "device_id", resp.DeviceID)
	}

	if b.opts.RecoveryKey != "" {
		session, err := setupCrypto(ctx, b.client, b.opts.RecoveryKey, b.opts.CryptoDir, b.logger)
		if err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}
		b.crypto = session
	} else {
		b.logger.Info("encryption disabled (no recovery key)")
	}
	return nil
}

// Run performs startup checks, then syncs until ctx is cancelled. It
// returns after in-flight events have been handled.
func (b *Bridge) Run(ctx context.Context, h Handler) error {
	syncer, ok := b.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.client.Syncer)
	}

	b.checkRooms(ctx)
	b.setPresence(ctx)

	// Only events that arrive after startup are relayed.
	syncer.OnSync(b.client.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, func(_ context.Context, evt *event.Event) {
		b.dispatch(ctx, evt, func(hctx context.Context) { b.handleMessage(hctx, h, evt) })
	})
	syncer.OnEventType(event.StateMember, func(_ context.Context, evt *event.Event) {
		b.dispatch(ctx, evt, func(hctx context.Context) { b.handleMember(hctx, h, evt) })
	})

	b.logger.Info("syncing", "homeserver", b.opts.Homeserver, "user_id", b.UserID())

	err := b.client.SyncWithContext(ctx)
	b.queues.wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("matrix sync failed: %w", err)
	}
	b.logger.Info("matrix sync stopped")
	return nil
}

// dispatch drops redelivered events and queues the rest on their room.
// Handlers run detached from ctx so work accepted before shutdown finishes.
func (b *Bridge) dispatch(ctx context.Context, evt *event.Event, fn func(context.Context)) {
	if evt.ID != "" && !b.seen.FirstSeen(dedupe.Key(evt.RoomID.String(), evt.ID.String())) {
		b.logger.Debug("dropping duplicate event", "event_id", evt.ID, "room", evt.RoomID)
		return
	}
	if ctx.Err() != nil {
		return
	}
	b.queues.enqueue(evt.RoomID.String(), func() {
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), handlerTimeout)
		defer cancel()
		fn(hctx)
	})
}

// Close releases the dedupe sweeper and the crypto store.
func (b *Bridge) Close() error {
	b.seen.Close()
	return b.crypto.Close()
}

// checkRooms makes sure the bot sits in the space and the staff room, and
// loads the staff roster. Missing rooms are logged; the bot still starts.
func (b *Bridge) checkRooms(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()

	joined := map[id.RoomID]bool{}
	if resp, err := b.client.JoinedRooms(ctx); err != nil {
		b.logger.Warn("could not list joined rooms", "error", err)
	} else {
		for _, r := range resp.JoinedRooms {
			joined[r] = true
		}
	}

	for _, room := range []struct{ label, id string }{
		{"space", b.opts.SpaceID},
		{"staff room", b.opts.StaffRoomID},
	} {
		rid := id.RoomID(room.id)
		if joined[rid] {
			b.logger.Info(room.label+" found", "room", room.id)
			continue
		}
		if _, err := b.client.JoinRoomByID(ctx, rid); err != nil {
			b.logger.Error(room.label+" NOT FOUND", "room", room.id, "error", err)
			continue
		}
		b.logger.Info(room.label+" joined", "room", room.id)
	}

	if err := b.loadStaff(ctx); err != nil {
		b.logger.Error("could not load staff roster", "room", b.opts.StaffRoomID, "error", err)
		return
	}
	b.logger.Info("staff roster loaded", "members", len(b.staff.list()))
}

func (b *Bridge) loadStaff(ctx context.Context) error {
	resp, err := b.client.JoinedMembers(ctx, id.RoomID(b.opts.StaffRoomID))
	if err != nil {
		return err
	}
	members := make([]string, 0, len(resp.Joined))
	for uid := range resp.Joined {
		if uid == b.client.UserID {
			continue
		}
		members = append(members, uid.String())
	}
	b.staff.replace(members)
	return nil
}

// setPresence advertises how to reach the bot. Failures are cosmetic.
func (b *Bridge) setPresence(ctx context.Context) {
	if b.opts.StatusMessage == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()

	body := map[string]string{"presence": "online", "status_msg": b.opts.StatusMessage}
	url := b.client.BuildClientURL("v3", "presence", b.client.UserID, "status")
	if _, err := b.client.MakeRequest(ctx, "PUT", url, body, nil); err != nil {
		b.logger.Debug("could not set presence", "error", err)
	}
}

// serverName returns the homeserver part of the bot's user id, used as the
// via server for space links.
func (b *Bridge) serverName() string {
	_, server, err := b.client.UserID.Parse()
	if err != nil || server == "" {
		if i := strings.LastIndexByte(b.UserID(), ':'); i >= 0 {
			return b.UserID()[i+1:]
		}
	}
	return server
}
