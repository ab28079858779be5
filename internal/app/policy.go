package app

import "github.com/dkeye/talkie/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides what happens to a subscriber that could not take a frame.
type Policy interface {
	OnBackPressure(room domain.RoomID, sub Subscriber) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(room domain.RoomID, sub Subscriber) BackpressureAction {
	return KickMember
}

// TolerantPolicy drops the frame for the slow subscriber and keeps it connected.
type TolerantPolicy struct{}

func (TolerantPolicy) OnBackPressure(room domain.RoomID, sub Subscriber) BackpressureAction {
	return DropFrame
}
