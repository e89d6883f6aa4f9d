package harnessports

import "time"

// Role identifies the author of a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn represents one side of a conversational exchange.
type Turn struct {
	Role      Role
	Content   string
	CreatedAt time.Time
}
