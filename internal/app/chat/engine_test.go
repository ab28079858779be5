package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/talkie/internal/app"
	"github.com/dkeye/talkie/internal/core"
	"github.com/dkeye/talkie/internal/domain"
	"github.com/dkeye/talkie/internal/mocks"
	"github.com/dkeye/talkie/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type fixture struct {
	members  *mocks.MockMembershipStore
	messages *mocks.MockMessageStore
	reg      *app.Registry
	engine   *Engine
}

func newFixture(t *testing.T) *fixture {
	ctrl := gomock.NewController(t)
	f := &fixture{
		members:  mocks.NewMockMembershipStore(ctrl),
		messages: mocks.NewMockMessageStore(ctrl),
		reg:      app.NewRegistry(app.NewDirectory(), true),
	}
	f.engine = NewEngine(f.members, f.messages, f.reg, Options{LaneIdle: 50 * time.Millisecond}, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = f.engine.Close(ctx)
	})
	return f
}

// connect registers a fake connection for user and subscribes it to rooms.
func (f *fixture) connect(t *testing.T, user domain.UserID, rooms ...domain.RoomID) (app.Subscriber, *mocks.FakeConn) {
	c := mocks.NewFakeConn()
	id, err := f.reg.Register(user, c, nil)
	require.NoError(t, err)
	for _, r := range rooms {
		f.reg.Subscribe(id, r)
	}
	return app.Subscriber{Conn: id, User: user, Signal: c}, c
}

func (f *fixture) room(id domain.RoomID, kind domain.RoomKind) {
	f.members.EXPECT().RoomOf(gomock.Any(), id).Return(domain.Room{ID: id, Kind: kind}, nil).AnyTimes()
}

func (f *fixture) role(room domain.RoomID, user domain.UserID, role domain.Role) {
	f.members.EXPECT().RoleOf(gomock.Any(), room, user).Return(role, true, nil).AnyTimes()
}

func (f *fixture) stranger(room domain.RoomID, user domain.UserID) {
	f.members.EXPECT().RoleOf(gomock.Any(), room, user).Return(domain.Role(""), false, nil).AnyTimes()
}

func msg(id string, room domain.RoomID, author domain.UserID, body string) domain.ChatMessage {
	return domain.ChatMessage{
		ID:        domain.MessageID(id),
		Room:      room,
		AuthorID:  author,
		Author:    &domain.User{ID: author, Username: string(author)},
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
}

func TestEngine_SendBroadcastsToEveryConnection(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	// Given U1 with two connections and U2 share private chat C
	f.room("C", domain.RoomPrivate)
	f.role("C", "u1", domain.RoleMember)
	u1a, c1a := f.connect(t, "u1", "C")
	_, c1b := f.connect(t, "u1", "C")
	_, c2 := f.connect(t, "u2", "C")
	f.messages.EXPECT().Append(gomock.Any(), domain.RoomID("C"), domain.UserID("u1"), "hello").
		Return(msg("m1", "C", "u1", "hello"), nil)

	// When U1 sends hello
	got, err := f.engine.Send(ctx, u1a, protocol.SendMessage{ChatID: "C", Message: "hello"})

	// Then all connections receive the persisted record
	req.NoError(err)
	req.Equal(domain.MessageID("m1"), got.ID)
	for _, c := range []*mocks.FakeConn{c1a, c1b, c2} {
		evs := c.EventsOf("newMessage")
		req.Len(evs, 1)
		m := evs[0]["message"].(map[string]any)
		req.Equal("m1", m["messageId"])
		req.Equal("hello", m["message"])
		req.NotEmpty(m["createdAt"])
	}
}

func TestEngine_NonMemberIsRejectedWithoutWrite(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.room("X", domain.RoomCommunity)
	f.stranger("X", "u3")
	u3, c3 := f.connect(t, "u3")
	_, member := f.connect(t, "u1", "X")
	f.messages.EXPECT().Append(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	_, err := f.engine.Send(context.Background(), u3, protocol.SendMessage{ChatID: "X", Message: "spam"})

	req.Equal(core.KindAuthorization, core.KindOf(err))
	req.Empty(member.Frames())
	req.Empty(c3.Frames())
}

func TestEngine_StoreFailureIsNotBroadcast(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.room("C", domain.RoomPrivate)
	f.role("C", "u1", domain.RoleMember)
	u1, c1 := f.connect(t, "u1", "C")
	f.messages.EXPECT().Append(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(domain.ChatMessage{}, errors.New("disk full"))

	_, err := f.engine.Send(context.Background(), u1, protocol.SendMessage{ChatID: "C", Message: "x"})

	req.Equal(core.KindDependency, core.KindOf(err))
	req.Empty(c1.Frames())
}

func TestEngine_UnknownChat(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.members.EXPECT().RoomOf(gomock.Any(), domain.RoomID("nope")).Return(domain.Room{}, core.ErrNoSuchRoom)
	u1, _ := f.connect(t, "u1")

	_, err := f.engine.Send(context.Background(), u1, protocol.SendMessage{ChatID: "nope", Message: "x"})
	req.Equal(core.KindNotFound, core.KindOf(err))
}

func TestEngine_CommunityPinRequiresModerator(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	f.room("K", domain.RoomCommunity)
	f.role("K", "admin", domain.RoleAdmin)
	f.role("K", "member", domain.RoleMember)
	adm, ca := f.connect(t, "admin", "K")
	mem, cm := f.connect(t, "member", "K")

	// When a plain member pins
	_, err := f.engine.Pin(ctx, mem, protocol.PinMessage{ChatID: "K", MessageID: "m1"})
	req.Equal(core.KindAuthorization, core.KindOf(err))
	req.Empty(ca.Frames())

	// When the admin pins then unpins
	pinned := msg("m1", "K", "member", "hi")
	pinned.Pinned = true
	f.messages.EXPECT().MarkPinned(gomock.Any(), domain.RoomID("K"), domain.MessageID("m1"), true).Return(pinned, nil)
	unpinned := pinned
	unpinned.Pinned = false
	f.messages.EXPECT().MarkPinned(gomock.Any(), domain.RoomID("K"), domain.MessageID("m1"), false).Return(unpinned, nil)

	_, err = f.engine.Pin(ctx, adm, protocol.PinMessage{ChatID: "K", MessageID: "m1"})
	req.NoError(err)
	_, err = f.engine.Unpin(ctx, adm, protocol.UnpinMessage{ChatID: "K", MessageID: "m1"})
	req.NoError(err)

	// Then every subscriber observes both with the pinned flag
	for _, c := range []*mocks.FakeConn{ca, cm} {
		p := c.EventsOf("messagePinned")
		u := c.EventsOf("messageUnpinned")
		req.Len(p, 1)
		req.Len(u, 1)
		req.Equal(true, p[0]["message"].(map[string]any)["pinned"])
		req.Equal(false, u[0]["message"].(map[string]any)["pinned"])
	}
}

func TestEngine_PinMissingMessage(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.room("C", domain.RoomPrivate)
	f.role("C", "u1", domain.RoleMember)
	u1, _ := f.connect(t, "u1", "C")
	f.messages.EXPECT().MarkPinned(gomock.Any(), gomock.Any(), gomock.Any(), true).Return(domain.ChatMessage{}, fmt.Errorf("mark: %w", core.ErrNotFound))

	_, err := f.engine.Pin(context.Background(), u1, protocol.PinMessage{ChatID: "C", MessageID: "ghost"})
	req.Equal(core.KindNotFound, core.KindOf(err))
}

func TestEngine_DeleteRules(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	f.room("C", domain.RoomPrivate)
	f.role("C", "u1", domain.RoleMember)
	f.role("C", "u2", domain.RoleMember)
	u1, c1 := f.connect(t, "u1", "C")
	u2, _ := f.connect(t, "u2", "C")
	f.messages.EXPECT().Get(gomock.Any(), domain.RoomID("C"), domain.MessageID("m1")).Return(msg("m1", "C", "u1", "hi"), nil).Times(2)

	// Given U2 tries to delete U1's message in a private chat
	err := f.engine.Delete(ctx, u2, protocol.DeleteMessage{ChatID: "C", MessageID: "m1"})
	req.Equal(core.KindAuthorization, core.KindOf(err))

	// When the author deletes it
	f.messages.EXPECT().Delete(gomock.Any(), domain.RoomID("C"), domain.MessageID("m1")).Return(true, nil)
	err = f.engine.Delete(ctx, u1, protocol.DeleteMessage{ChatID: "C", MessageID: "m1"})

	// Then the room is told
	req.NoError(err)
	evs := c1.EventsOf("messageDeleted")
	req.Len(evs, 1)
	req.Equal("m1", evs[0]["messageId"])
	req.Equal("C", evs[0]["chatId"])
}

func TestEngine_AuthorWithoutProfileCanDelete(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.room("C", domain.RoomPrivate)
	f.role("C", "u1", domain.RoleMember)
	u1, c1 := f.connect(t, "u1", "C")

	// Given a message whose author profile could not be resolved
	orphan := msg("m1", "C", "u1", "hi")
	orphan.Author = nil
	f.messages.EXPECT().Get(gomock.Any(), domain.RoomID("C"), domain.MessageID("m1")).Return(orphan, nil)
	f.messages.EXPECT().Delete(gomock.Any(), domain.RoomID("C"), domain.MessageID("m1")).Return(true, nil)

	// When the author deletes it
	err := f.engine.Delete(context.Background(), u1, protocol.DeleteMessage{ChatID: "C", MessageID: "m1"})

	// Then ownership is decided by the author id
	req.NoError(err)
	req.Len(c1.EventsOf("messageDeleted"), 1)
}

func TestEngine_JoinAndLeaveCommunity(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	f.room("K", domain.RoomCommunity)
	_, existing := f.connect(t, "u2", "K")
	u1, c1a := f.connect(t, "u1")
	_, c1b := f.connect(t, "u1")

	// Given the store accepts the new membership
	gomock.InOrder(
		f.members.EXPECT().IsMember(gomock.Any(), domain.RoomID("K"), domain.UserID("u1")).Return(false, nil),
		f.members.EXPECT().AddMember(gomock.Any(), domain.RoomID("K"), domain.UserID("u1"), domain.RoleMember).Return(nil),
	)

	// When U1 joins
	req.NoError(f.engine.JoinCommunity(ctx, u1, protocol.JoinCommunityChat{ChatID: "K"}))

	// Then both of U1's connections are subscribed, the requester is acked
	// and the existing member is notified
	req.Len(f.reg.ConnectionsFor("K"), 3)
	req.Len(c1a.EventsOf("joinedCommunityChat"), 1)
	req.Empty(c1b.EventsOf("joinedCommunityChat"))
	presence := existing.EventsOf("userJoinedChat")
	req.Len(presence, 1)
	req.Equal("u1", presence[0]["userId"])

	// When U1 leaves
	f.members.EXPECT().RemoveMember(gomock.Any(), domain.RoomID("K"), domain.UserID("u1")).Return(true, nil)
	req.NoError(f.engine.LeaveCommunity(ctx, u1, protocol.LeaveCommunityChat{ChatID: "K"}))

	req.Len(f.reg.ConnectionsFor("K"), 1)
	req.Len(c1a.EventsOf("leftCommunityChat"), 1)
	req.Len(existing.EventsOf("userLeftChat"), 1)
	req.Empty(c1b.EventsOf("userLeftChat"))
}

func TestEngine_JoinSkipsConnectionsScopedElsewhere(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.room("K", domain.RoomCommunity)
	u1, _ := f.connect(t, "u1")
	elsewhere, err := f.reg.RegisterScoped("u1", mocks.NewFakeConn(), nil, "X")
	req.NoError(err)
	f.reg.Subscribe(elsewhere, "X")
	here, err := f.reg.RegisterScoped("u1", mocks.NewFakeConn(), nil, "K")
	req.NoError(err)
	f.members.EXPECT().IsMember(gomock.Any(), domain.RoomID("K"), domain.UserID("u1")).Return(false, nil)
	f.members.EXPECT().AddMember(gomock.Any(), domain.RoomID("K"), domain.UserID("u1"), domain.RoleMember).Return(nil)

	// When U1 joins K from an unscoped connection
	req.NoError(f.engine.JoinCommunity(context.Background(), u1, protocol.JoinCommunityChat{ChatID: "K"}))

	// Then the connection scoped to X keeps following only X
	req.True(f.reg.IsSubscribed(u1.Conn, "K"))
	req.True(f.reg.IsSubscribed(here, "K"))
	req.False(f.reg.IsSubscribed(elsewhere, "K"))
	req.True(f.reg.IsSubscribed(elsewhere, "X"))
	req.Len(f.reg.ConnectionsFor("K"), 2)
}

func TestEngine_AttachChecksMembershipOnTheLane(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	id, err := f.reg.Register("u1", mocks.NewFakeConn(), nil)
	req.NoError(err)
	f.members.EXPECT().IsMember(gomock.Any(), domain.RoomID("a"), domain.UserID("u1")).Return(true, nil)
	f.members.EXPECT().IsMember(gomock.Any(), domain.RoomID("b"), domain.UserID("u1")).Return(false, nil)

	joined, err := f.engine.Attach(context.Background(), id, "u1", []domain.RoomID{"a", "b"})

	req.NoError(err)
	req.Equal([]domain.RoomID{"a"}, joined)
	req.True(f.reg.IsSubscribed(id, "a"))
	req.False(f.reg.IsSubscribed(id, "b"))

	f.members.EXPECT().IsMember(gomock.Any(), domain.RoomID("a"), domain.UserID("u1")).Return(false, errors.New("db down"))
	_, err = f.engine.Attach(context.Background(), id, "u1", []domain.RoomID{"a"})
	req.Equal(core.KindDependency, core.KindOf(err))
}

func TestEngine_JoinFailureLeavesDirectoryUntouched(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.room("K", domain.RoomCommunity)
	u1, c1 := f.connect(t, "u1")
	f.members.EXPECT().IsMember(gomock.Any(), gomock.Any(), gomock.Any()).Return(false, nil)
	f.members.EXPECT().AddMember(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("db down"))

	err := f.engine.JoinCommunity(context.Background(), u1, protocol.JoinCommunityChat{ChatID: "K"})

	req.Equal(core.KindDependency, core.KindOf(err))
	req.Empty(f.reg.ConnectionsFor("K"))
	req.Empty(c1.Frames())
}

func TestEngine_JoinRejections(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	f.room("P", domain.RoomPrivate)
	f.room("K", domain.RoomCommunity)
	u1, _ := f.connect(t, "u1")
	f.members.EXPECT().IsMember(gomock.Any(), domain.RoomID("K"), domain.UserID("u1")).Return(true, nil)

	err := f.engine.JoinCommunity(ctx, u1, protocol.JoinCommunityChat{ChatID: "P"})
	req.Equal(core.KindAuthorization, core.KindOf(err))
	err = f.engine.JoinCommunity(ctx, u1, protocol.JoinCommunityChat{ChatID: "K"})
	req.Equal(core.KindAuthorization, core.KindOf(err))

	f.members.EXPECT().RemoveMember(gomock.Any(), domain.RoomID("P"), domain.UserID("u1")).Return(false, nil)
	err = f.engine.LeaveCommunity(ctx, u1, protocol.LeaveCommunityChat{ChatID: "P"})
	req.Equal(core.KindAuthorization, core.KindOf(err))
}

func TestEngine_ChangeRole(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	f.room("K", domain.RoomCommunity)
	f.role("K", "boss", domain.RoleCreator)
	f.role("K", "m1", domain.RoleMember)
	boss, cb := f.connect(t, "boss", "K")
	m1, _ := f.connect(t, "m1", "K")

	err := f.engine.ChangeRole(ctx, m1, protocol.ChangeRole{ChatID: "K", UserID: "m1", Role: domain.RoleAdmin})
	req.Equal(core.KindAuthorization, core.KindOf(err))

	err = f.engine.ChangeRole(ctx, boss, protocol.ChangeRole{ChatID: "K", UserID: "m1", Role: domain.RoleCreator})
	req.Equal(core.KindAuthorization, core.KindOf(err))

	err = f.engine.ChangeRole(ctx, boss, protocol.ChangeRole{ChatID: "K", UserID: "boss", Role: domain.RoleMember})
	req.Equal(core.KindAuthorization, core.KindOf(err))

	f.members.EXPECT().SetRole(gomock.Any(), domain.RoomID("K"), domain.UserID("m1"), domain.RoleAdmin).Return(nil)
	req.NoError(f.engine.ChangeRole(ctx, boss, protocol.ChangeRole{ChatID: "K", UserID: "m1", Role: domain.RoleAdmin}))
	evs := cb.EventsOf("roleChanged")
	req.Len(evs, 1)
	req.Equal("admin", evs[0]["role"])
	req.Equal("boss", evs[0]["by"])
}

func TestEngine_History(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.room("C", domain.RoomPrivate)
	f.role("C", "u1", domain.RoleMember)
	f.stranger("C", "u9")
	f.messages.EXPECT().List(gomock.Any(), domain.RoomID("C"), 50, time.Time{}).Return(nil, nil)

	msgs, err := f.engine.History(context.Background(), "u1", "C", 0, time.Time{})
	req.NoError(err)
	req.NotNil(msgs)
	req.Empty(msgs)

	_, err = f.engine.History(context.Background(), "u9", "C", 10, time.Time{})
	req.Equal(core.KindAuthorization, core.KindOf(err))
}

func TestEngine_PerRoomOrderMatchesCommitOrder(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.room("R", domain.RoomCommunity)
	f.members.EXPECT().RoleOf(gomock.Any(), domain.RoomID("R"), gomock.Any()).Return(domain.RoleMember, true, nil).AnyTimes()

	var mu sync.Mutex
	seq := 0
	f.messages.EXPECT().Append(gomock.Any(), domain.RoomID("R"), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, room domain.RoomID, author domain.UserID, body string) (domain.ChatMessage, error) {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return msg(fmt.Sprintf("%04d", seq), room, author, body), nil
		}).Times(40)

	senders := make([]app.Subscriber, 4)
	for i := range senders {
		senders[i], _ = f.connect(t, domain.UserID(fmt.Sprintf("u%d", i)), "R")
	}
	_, watcher := f.connect(t, "watcher", "R")

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.engine.Send(context.Background(), senders[i%4], protocol.SendMessage{ChatID: "R", Message: "m"})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	evs := watcher.EventsOf("newMessage")
	req.Len(evs, 40)
	for i, ev := range evs {
		req.Equal(fmt.Sprintf("%04d", i+1), ev["message"].(map[string]any)["messageId"])
	}
}

func TestEngine_CommittedWriteBroadcastsAfterSenderGivesUp(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.room("C", domain.RoomPrivate)
	f.role("C", "u1", domain.RoleMember)
	u1, _ := f.connect(t, "u1", "C")
	_, other := f.connect(t, "u2", "C")

	release := make(chan struct{})
	f.messages.EXPECT().Append(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, domain.RoomID, domain.UserID, string) (domain.ChatMessage, error) {
			<-release
			return msg("m1", "C", "u1", "late"), nil
		})

	// When the sender's context ends while the write is in flight
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.engine.Send(ctx, u1, protocol.SendMessage{ChatID: "C", Message: "late"})
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	req.ErrorIs(<-done, context.Canceled)
	close(release)

	// Then the other member still receives the committed message
	req.Eventually(func() bool { return len(other.EventsOf("newMessage")) == 1 }, time.Second, 5*time.Millisecond)
}

func TestEngine_LanesRetireWhenIdle(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.room("C", domain.RoomPrivate)
	f.role("C", "u1", domain.RoleMember)
	u1, _ := f.connect(t, "u1", "C")
	f.messages.EXPECT().Append(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(msg("m1", "C", "u1", "x"), nil)

	_, err := f.engine.Send(context.Background(), u1, protocol.SendMessage{ChatID: "C", Message: "x"})
	req.NoError(err)
	req.Eventually(func() bool { return f.engine.ActiveLanes() == 0 }, time.Second, 10*time.Millisecond)
}

func TestEngine_ClosedEngineRejects(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	u1, _ := f.connect(t, "u1")
	req.NoError(f.engine.Close(context.Background()))

	_, err := f.engine.Send(context.Background(), u1, protocol.SendMessage{ChatID: "C", Message: "x"})
	req.ErrorIs(err, ErrClosed)
}

func TestEngine_DropHandlerSeesSlowSubscribers(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.room("C", domain.RoomPrivate)
	f.role("C", "u1", domain.RoleMember)
	u1, _ := f.connect(t, "u1", "C")
	slow, slowConn := f.connect(t, "u2", "C")
	slowConn.SetFull(true)
	f.messages.EXPECT().Append(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(msg("m1", "C", "u1", "x"), nil)

	var got []app.Subscriber
	f.engine.OnDrop(func(_ domain.RoomID, dropped []app.Subscriber) { got = dropped })

	_, err := f.engine.Send(context.Background(), u1, protocol.SendMessage{ChatID: "C", Message: "x"})
	req.NoError(err)
	req.Len(got, 1)
	req.Equal(slow.Conn, got[0].Conn)
}
