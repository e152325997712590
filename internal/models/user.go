package models

import "time"

// Role distinguishes the two account kinds. A child references at most one
// parent (null once that parent is deleted); a parent never carries a parent
// reference. The schema enforces this with a CHECK constraint and
// registration validates it again.
type Role string

const (
	RoleParent Role = "parent"
	RoleChild  Role = "child"
)

func (r Role) Valid() bool {
	return r == RoleParent || r == RoleChild
}

// User is an account row. CoinBalance is the denormalized running total;
// every mutation of it goes through the ledger service inside a row-locked
// transaction alongside the matching history write.
type User struct {
	ID          int       `json:"id" example:"1"`
	Username    string    `json:"username" example:"mina"`
	Role        Role      `json:"role" example:"child"`
	ParentID    *int      `json:"parentId,omitempty"`
	CoinBalance Money     `json:"coinBalance"`
	CoinUnit    string    `json:"coinUnit" example:"coins"`
	CreatedAt   time.Time `json:"createdAt"`
}
