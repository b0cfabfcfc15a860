package store

import (
	"errors"
	"fmt"
	"time"
)

// ErrCorruptRole is returned when a stored role is neither "user" nor
// "assistant". Only the two known roles are ever written.
var ErrCorruptRole = errors.New("corrupt role in chat history")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser:
		return RoleUser, nil
	case RoleAssistant:
		return RoleAssistant, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrCorruptRole, s)
	}
}

// Turn is one immutable message of a transcript.
type Turn struct {
	ID        int64     `json:"-"`
	Subject   string    `json:"-"` // session identifier, never exposed
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"time"`
}

func NewUserTurn(subject, content string) Turn {
	return Turn{Subject: subject, Role: RoleUser, Content: content}
}

func NewAssistantTurn(subject, content string) Turn {
	return Turn{Subject: subject, Role: RoleAssistant, Content: content}
}
