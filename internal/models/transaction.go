package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TransactionStatus enumerates the purchase state machine. Completed and
// cancelled are terminal.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionCancelled TransactionStatus = "cancelled"
)

// Transaction records a purchase attempt. It is created pending at checkout
// initiation and transitions exactly once, keyed by the hosted checkout
// session id. Transactions are never deleted.
type Transaction struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	BuyerID   primitive.ObjectID `bson:"buyer_id" json:"buyer_id"`
	SellerID  primitive.ObjectID `bson:"seller_id" json:"seller_id"`
	ListingID primitive.ObjectID `bson:"listing_id" json:"listing_id"`
	Amount    float64            `bson:"amount" json:"amount"`
	Status    TransactionStatus  `bson:"status" json:"status"`
	SessionID string             `bson:"session_id,omitempty" json:"session_id,omitempty"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at" json:"updated_at"`
}
