package orch

import (
	"context"
	"time"

	"github.com/dkeye/talkie/internal/core"
	"github.com/dkeye/talkie/internal/protocol"
)

func (o *Orchestrator) SendMessage(ctx context.Context, id core.ConnID, ev protocol.SendMessage) error {
	sub, err := o.subscriber(id)
	if err != nil {
		return err
	}
	_, err = o.Chat.Send(ctx, sub, ev)
	return err
}

func (o *Orchestrator) DeleteMessage(ctx context.Context, id core.ConnID, ev protocol.DeleteMessage) error {
	sub, err := o.subscriber(id)
	if err != nil {
		return err
	}
	return o.Chat.Delete(ctx, sub, ev)
}

func (o *Orchestrator) PinMessage(ctx context.Context, id core.ConnID, ev protocol.PinMessage) error {
	sub, err := o.subscriber(id)
	if err != nil {
		return err
	}
	_, err = o.Chat.Pin(ctx, sub, ev)
	return err
}

func (o *Orchestrator) UnpinMessage(ctx context.Context, id core.ConnID, ev protocol.UnpinMessage) error {
	sub, err := o.subscriber(id)
	if err != nil {
		return err
	}
	_, err = o.Chat.Unpin(ctx, sub, ev)
	return err
}

func (o *Orchestrator) JoinCommunity(ctx context.Context, id core.ConnID, ev protocol.JoinCommunityChat) error {
	sub, err := o.subscriber(id)
	if err != nil {
		return err
	}
	return o.Chat.JoinCommunity(ctx, sub, ev)
}

func (o *Orchestrator) LeaveCommunity(ctx context.Context, id core.ConnID, ev protocol.LeaveCommunityChat) error {
	sub, err := o.subscriber(id)
	if err != nil {
		return err
	}
	return o.Chat.LeaveCommunity(ctx, sub, ev)
}

func (o *Orchestrator) ChangeRole(ctx context.Context, id core.ConnID, ev protocol.ChangeRole) error {
	sub, err := o.subscriber(id)
	if err != nil {
		return err
	}
	return o.Chat.ChangeRole(ctx, sub, ev)
}

// ListMessages answers the requester with a page of history.
func (o *Orchestrator) ListMessages(ctx context.Context, id core.ConnID, ev protocol.ListMessages) (protocol.Messages, error) {
	sub, err := o.subscriber(id)
	if err != nil {
		return protocol.Messages{}, err
	}
	var before time.Time
	if ev.Before != nil {
		before = *ev.Before
	}
	msgs, err := o.Chat.History(ctx, sub.User, ev.ChatID, ev.Limit, before)
	if err != nil {
		return protocol.Messages{}, err
	}
	return protocol.Messages{Type: protocol.OutMessages, ChatID: ev.ChatID, Messages: msgs}, nil
}
