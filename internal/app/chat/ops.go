package chat

import (
	"context"
	"time"

	"github.com/dkeye/talkie/internal/app"
	"github.com/dkeye/talkie/internal/core"
	"github.com/dkeye/talkie/internal/domain"
	"github.com/dkeye/talkie/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Send appends a message and broadcasts the stored record to every
// subscriber of the chat, the sender's connections included.
func (e *Engine) Send(ctx context.Context, from app.Subscriber, ev protocol.SendMessage) (domain.ChatMessage, error) {
	return submit(ctx, e.lanes, ev.ChatID, func(ctx context.Context) (domain.ChatMessage, error) {
		if _, err := e.authorize(ctx, ev.ChatID, from.User); err != nil {
			return domain.ChatMessage{}, err
		}
		msg, err := e.messages.Append(ctx, ev.ChatID, from.User, ev.Message)
		if err != nil {
			log.Error().Str("module", "app.chat").Str("room", string(ev.ChatID)).Str("user", string(from.User)).Err(err).Msg("append failed")
			return domain.ChatMessage{}, core.Classify("could not save message", err)
		}
		e.broadcast(ev.ChatID, protocol.NewMessage(msg), protocol.OutNewMessage, "")
		return msg, nil
	})
}

// Delete removes a message. In a community chat only moderators may delete;
// in a private chat only the author may.
func (e *Engine) Delete(ctx context.Context, from app.Subscriber, ev protocol.DeleteMessage) error {
	return run(ctx, e.lanes, ev.ChatID, func(ctx context.Context) error {
		acc, err := e.authorize(ctx, ev.ChatID, from.User)
		if err != nil {
			return err
		}
		msg, err := e.messages.Get(ctx, ev.ChatID, ev.MessageID)
		if err != nil {
			return core.Classify("message not found", err)
		}
		if !canDelete(acc, msg, from.User) {
			return core.Authorization("you do not have permission to delete this message")
		}
		ok, err := e.messages.Delete(ctx, ev.ChatID, ev.MessageID)
		if err != nil {
			return core.Classify("could not delete message", err)
		}
		if !ok {
			return core.NotFound("message not found")
		}
		e.broadcast(ev.ChatID, protocol.MessageDeleted{
			Type:      protocol.OutMessageDeleted,
			ChatID:    ev.ChatID,
			MessageID: ev.MessageID,
		}, protocol.OutMessageDeleted, "")
		return nil
	})
}

func canDelete(acc access, msg domain.ChatMessage, user domain.UserID) bool {
	if acc.room.Kind == domain.RoomCommunity {
		return acc.role.CanModerate()
	}
	return msg.AuthoredBy(user)
}

func (e *Engine) Pin(ctx context.Context, from app.Subscriber, ev protocol.PinMessage) (domain.ChatMessage, error) {
	return e.setPinned(ctx, from, ev.ChatID, ev.MessageID, true)
}

func (e *Engine) Unpin(ctx context.Context, from app.Subscriber, ev protocol.UnpinMessage) (domain.ChatMessage, error) {
	return e.setPinned(ctx, from, ev.ChatID, ev.MessageID, false)
}

// setPinned is open to any member of a private chat; community chats need
// a moderator.
func (e *Engine) setPinned(ctx context.Context, from app.Subscriber, room domain.RoomID, id domain.MessageID, pinned bool) (domain.ChatMessage, error) {
	return submit(ctx, e.lanes, room, func(ctx context.Context) (domain.ChatMessage, error) {
		acc, err := e.authorize(ctx, room, from.User)
		if err != nil {
			return domain.ChatMessage{}, err
		}
		if acc.room.Kind == domain.RoomCommunity && !acc.role.CanModerate() {
			if pinned {
				return domain.ChatMessage{}, core.Authorization("only admins can pin messages in community chats")
			}
			return domain.ChatMessage{}, core.Authorization("only admins can unpin messages in community chats")
		}
		msg, err := e.messages.MarkPinned(ctx, room, id, pinned)
		if err != nil {
			return domain.ChatMessage{}, core.Classify("message not found", err)
		}
		ev := protocol.MessagePinned(msg)
		e.broadcast(room, ev, ev.Type, "")
		return msg, nil
	})
}

// JoinCommunity records the membership first and only then subscribes the
// identity's live connections to the chat. Connections scoped to another
// chat are left alone.
func (e *Engine) JoinCommunity(ctx context.Context, from app.Subscriber, ev protocol.JoinCommunityChat) error {
	return run(ctx, e.lanes, ev.ChatID, func(ctx context.Context) error {
		room, err := e.members.RoomOf(ctx, ev.ChatID)
		if err != nil {
			return core.Classify("chat not found", err)
		}
		if room.Kind != domain.RoomCommunity {
			return core.Authorization("not a community chat")
		}
		member, err := e.members.IsMember(ctx, ev.ChatID, from.User)
		if err != nil {
			return core.Dependency("membership lookup failed", err)
		}
		if member {
			return core.Authorization("you are already a member of this community chat")
		}
		if err := e.members.AddMember(ctx, ev.ChatID, from.User, domain.RoleMember); err != nil {
			return core.Classify("could not join community chat", err)
		}
		for _, id := range e.reg.ConnectionsFollowing(from.User, ev.ChatID) {
			e.reg.Subscribe(id, ev.ChatID)
		}
		log.Info().Str("module", "app.chat").Str("room", string(ev.ChatID)).Str("user", string(from.User)).Msg("joined community chat")
		e.reply(from, protocol.ChatAck{Type: protocol.OutJoinedChat, ChatID: ev.ChatID})
		e.broadcast(ev.ChatID, protocol.ChatPresence{Type: protocol.OutUserJoinedChat, ChatID: ev.ChatID, UserID: from.User}, protocol.OutUserJoinedChat, from.Conn)
		return nil
	})
}

// LeaveCommunity removes the membership, then unsubscribes every live
// connection of the identity.
func (e *Engine) LeaveCommunity(ctx context.Context, from app.Subscriber, ev protocol.LeaveCommunityChat) error {
	return run(ctx, e.lanes, ev.ChatID, func(ctx context.Context) error {
		removed, err := e.members.RemoveMember(ctx, ev.ChatID, from.User)
		if err != nil {
			return core.Classify("could not leave community chat", err)
		}
		if !removed {
			return core.Authorization("you are not a member of this community chat")
		}
		for _, id := range e.reg.ConnectionsOf(from.User) {
			e.reg.Unsubscribe(id, ev.ChatID)
		}
		log.Info().Str("module", "app.chat").Str("room", string(ev.ChatID)).Str("user", string(from.User)).Msg("left community chat")
		e.reply(from, protocol.ChatAck{Type: protocol.OutLeftChat, ChatID: ev.ChatID})
		e.broadcast(ev.ChatID, protocol.ChatPresence{Type: protocol.OutUserLeftChat, ChatID: ev.ChatID, UserID: from.User}, protocol.OutUserLeftChat, "")
		return nil
	})
}

// Attach subscribes a registered connection to rooms. Each subscription
// runs on the room's lane after a fresh membership check, so it is ordered
// against joins and leaves of the same room. It returns the rooms joined.
func (e *Engine) Attach(ctx context.Context, id core.ConnID, user domain.UserID, rooms []domain.RoomID) ([]domain.RoomID, error) {
	joined := make([]domain.RoomID, 0, len(rooms))
	for _, room := range rooms {
		ok, err := submit(ctx, e.lanes, room, func(ctx context.Context) (bool, error) {
			member, err := e.members.IsMember(ctx, room, user)
			if err != nil {
				return false, core.Dependency("membership lookup failed", err)
			}
			return member && e.reg.Subscribe(id, room), nil
		})
		if err != nil {
			return nil, err
		}
		if ok {
			joined = append(joined, room)
		}
	}
	return joined, nil
}

// ChangeRole lets a moderator promote or demote another member. The
// creator role is neither granted nor taken away here.
func (e *Engine) ChangeRole(ctx context.Context, from app.Subscriber, ev protocol.ChangeRole) error {
	return run(ctx, e.lanes, ev.ChatID, func(ctx context.Context) error {
		acc, err := e.authorize(ctx, ev.ChatID, from.User)
		if err != nil {
			return err
		}
		if acc.room.Kind != domain.RoomCommunity {
			return core.Authorization("roles exist only in community chats")
		}
		if !acc.role.CanModerate() {
			return core.Authorization("only admins can change roles")
		}
		if ev.Role == domain.RoleCreator {
			return core.Authorization("creator role cannot be assigned")
		}
		current, ok, err := e.members.RoleOf(ctx, ev.ChatID, ev.UserID)
		if err != nil {
			return core.Dependency("membership lookup failed", err)
		}
		if !ok {
			return core.NotFound("user is not a member of this chat")
		}
		if current == domain.RoleCreator {
			return core.Authorization("creator role cannot be changed")
		}
		if current == ev.Role {
			return nil
		}
		if err := e.members.SetRole(ctx, ev.ChatID, ev.UserID, ev.Role); err != nil {
			return core.Classify("could not change role", err)
		}
		e.broadcast(ev.ChatID, protocol.RoleChanged{
			Type:   protocol.OutRoleChanged,
			ChatID: ev.ChatID,
			UserID: ev.UserID,
			Role:   ev.Role,
			By:     from.User,
		}, protocol.OutRoleChanged, "")
		return nil
	})
}

// History returns up to limit messages older than before, oldest first.
// Reads do not go through the lane.
func (e *Engine) History(ctx context.Context, user domain.UserID, room domain.RoomID, limit int, before time.Time) ([]domain.ChatMessage, error) {
	if _, err := e.authorize(ctx, room, user); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = e.opts.HistoryLimit
	}
	msgs, err := e.messages.List(ctx, room, limit, before)
	if err != nil {
		return nil, core.Classify("could not load messages", err)
	}
	if msgs == nil {
		msgs = []domain.ChatMessage{}
	}
	return msgs, nil
}
