package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Response is the single seller reply a review may carry. A second response
// overwrites the first (last-write-wins).
type Response struct {
	Text      string    `bson:"text" json:"text"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// Review is embedded in its listing; its lifetime is the listing's lifetime.
// It carries its own id so seller responses address a stable identifier
// rather than an array position.
type Review struct {
	ID        primitive.ObjectID `bson:"_id" json:"id"`
	BuyerID   primitive.ObjectID `bson:"buyer_id" json:"buyer_id"`
	Rating    int                `bson:"rating" json:"rating"` // 1..5
	Comment   string             `bson:"comment" json:"comment"`
	Response  *Response          `bson:"response,omitempty" json:"response,omitempty"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
}

// Listing represents a website offered for sale.
// Rating is derived: the arithmetic mean of the embedded review ratings,
// 0 when there are none. Views and SalesCount only ever increase.
type Listing struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	URL         string             `bson:"url" json:"url"`
	Price       float64            `bson:"price" json:"price"`
	Description string             `bson:"description" json:"description"`
	Image       string             `bson:"image,omitempty" json:"image,omitempty"` // S3 key of the processed image
	OwnerID     primitive.ObjectID `bson:"owner_id" json:"owner_id"`
	Views       int64              `bson:"views" json:"views"`
	SalesCount  int64              `bson:"sales_count" json:"sales_count"`
	Rating      float64            `bson:"rating" json:"rating"`
	Reviews     []Review           `bson:"reviews" json:"reviews"`
	CreatedAt   time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time          `bson:"updated_at" json:"updated_at"`
}
