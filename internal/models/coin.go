package models

import "time"

// Coin is one signed, reasoned entry in the append-only balance history.
// CreatedAt is assigned by the database at insert and never changes.
type Coin struct {
	ID        int       `json:"id" db:"id"`
	UserID    int       `json:"userId" db:"user_id"`
	Amount    Money     `json:"amount" db:"amount"`
	Reason    string    `json:"reason" db:"reason"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// GameTimePurchase records a child spending coins on game days. Purchases
// form a second ledger against the same balance: they debit coin_balance
// without writing a Coin row, so the consistency invariant is
// balance == sum(coins) - sum(purchases).
type GameTimePurchase struct {
	ID         int       `json:"id" db:"id"`
	ChildID    int       `json:"childId" db:"child_id"`
	Days       int       `json:"days" db:"days"`
	CoinsSpent Money     `json:"coinsSpent" db:"coins_spent"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}
