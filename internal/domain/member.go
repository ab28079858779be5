package domain

import "fmt"

type Role string

const (
	RoleCreator Role = "creator"
	RoleAdmin   Role = "admin"
	RoleMember  Role = "member"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleCreator, RoleAdmin, RoleMember:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// CanModerate reports whether the role may pin, unpin, delete and
// change roles in a community room.
func (r Role) CanModerate() bool {
	return r == RoleCreator || r == RoleAdmin
}

// Participant represents user's participation meta for a room.
// Exactly one role per (room, user).
type Participant struct {
	Room RoomID `json:"chatId"`
	User UserID `json:"userId"`
	Role Role   `json:"role"`
}
