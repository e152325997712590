package notify

import (
	"time"

	"github.com/google/uuid"
)

// Event kinds pushed to connected clients. The Type string is the contract
// the frontend switches on.
const (
	EventConnected           = "CONNECTED"
	EventCoinUpdate          = "COIN_UPDATE"
	EventNewCoinRequest      = "NEW_COIN_REQUEST"
	EventCoinRequestResponse = "COIN_REQUEST_RESPONSE"
	EventNewGameTimeRequest  = "NEW_GAME_TIME_REQUEST"
	EventGameTimeResponse    = "GAME_TIME_RESPONSE"
	EventGameTimePurchased   = "GAME_TIME_PURCHASED"
	EventNewDeleteRequest    = "NEW_DELETE_REQUEST"
	EventAccountDeleted      = "ACCOUNT_DELETED"
)

// Event is the tagged payload published after each mutating ledger
// operation. UserID is the account the event concerns, not necessarily the
// session it is delivered to.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	UserID    int       `json:"userId,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(eventType string, userID int, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		UserID:    userID,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// Publisher delivers events to whoever is listening for an account. Delivery
// is best effort: publishers log failures and never return them, because a
// dropped notification must never fail or roll back a committed ledger
// operation.
type Publisher interface {
	Publish(userID int, event Event)
}

// Fanout publishes to several gateways (the in-process WebSocket hub plus
// the optional AMQP exchange).
type Fanout []Publisher

func (f Fanout) Publish(userID int, event Event) {
	for _, p := range f {
		p.Publish(userID, event)
	}
}
