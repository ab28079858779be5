package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUserID_Validate(t *testing.T) {
	req := require.New(t)
	req.ErrorIs(UserID("").Validate(), ErrUserIDEmpty)
	req.ErrorIs(UserID(strings.Repeat("a", MaxUserIDLen+1)).Validate(), ErrUserIDTooLong)
	req.NoError(UserID("u1").Validate())
}

func TestNewUser_TruncatesUsername(t *testing.T) {
	req := require.New(t)
	u, err := NewUser("u1", strings.Repeat("x", MaxUsernameLen+10))
	req.NoError(err)
	req.Len(u.Username, MaxUsernameLen)
}

func TestRole(t *testing.T) {
	req := require.New(t)
	r, err := ParseRole("admin")
	req.NoError(err)
	req.True(r.CanModerate())
	req.True(RoleCreator.CanModerate())
	req.False(RoleMember.CanModerate())
	_, err = ParseRole("owner")
	req.Error(err)
}

func TestChatMessage_AuthoredBy(t *testing.T) {
	req := require.New(t)
	m := ChatMessage{AuthorID: "u1", Author: &User{ID: "u1"}}
	req.True(m.AuthoredBy("u1"))
	req.False(m.AuthoredBy("u2"))
	req.False(ChatMessage{}.AuthoredBy("u1"))
	req.False(ChatMessage{}.AuthoredBy(""))

	// Ownership survives a missing profile
	orphan := ChatMessage{AuthorID: "u1"}
	req.True(orphan.AuthoredBy("u1"))
}
