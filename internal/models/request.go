package models

import "time"

// RequestStatus is the shared request state machine: pending is initial,
// approved and rejected are terminal. There is no transition out of a
// terminal state.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
)

func (s RequestStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// CoinRequest is a child asking a parent for coins. ApprovedAmount is set
// only on approval and may differ from RequestedAmount (parent discretion).
type CoinRequest struct {
	ID              int           `json:"id" db:"id"`
	ChildID         int           `json:"childId" db:"child_id"`
	ParentID        int           `json:"parentId" db:"parent_id"`
	RequestedAmount Money         `json:"requestedAmount" db:"requested_amount"`
	ApprovedAmount  *Money        `json:"approvedAmount,omitempty" db:"approved_amount"`
	Reason          string        `json:"reason" db:"reason"`
	Status          RequestStatus `json:"status" db:"status"`
	CreatedAt       time.Time     `json:"createdAt" db:"created_at"`
}

// GameTimeRequest is a child asking a parent for game days. Approval only
// flips the status; the child purchases days separately.
type GameTimeRequest struct {
	ID        int           `json:"id" db:"id"`
	ChildID   int           `json:"childId" db:"child_id"`
	ParentID  int           `json:"parentId" db:"parent_id"`
	Days      int           `json:"days" db:"days"`
	Status    RequestStatus `json:"status" db:"status"`
	CreatedAt time.Time     `json:"createdAt" db:"created_at"`
}

// DeleteRequest is a child asking for account deletion. The row itself is
// the pending state; approval deletes the account (and the row) outright.
type DeleteRequest struct {
	ID        int       `json:"id" db:"id"`
	ChildID   int       `json:"childId" db:"child_id"`
	ParentID  int       `json:"parentId" db:"parent_id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
