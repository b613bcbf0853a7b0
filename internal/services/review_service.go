package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/PNeves10/aiquira-mvp/internal/models"
)

// IReviewService defines the interface for review operations.
type IReviewService interface {
	Submit(ctx context.Context, listingID, buyerID primitive.ObjectID, rating int, comment string) (*models.Review, error)
	Reviews(ctx context.Context, listingID primitive.ObjectID) ([]models.Review, error)
	Respond(ctx context.Context, listingID, reviewID, ownerID primitive.ObjectID, text string) (*models.Review, error)
}

// reviewService implements IReviewService. Reviews live embedded in the
// listing document; the listing's rating field is recomputed in the database
// after every mutation so readers never see a stale aggregate for long.
type reviewService struct {
	db *mongo.Database
}

// NewReviewService creates a new ReviewService.
func NewReviewService(db *mongo.Database) IReviewService {
	return &reviewService{db: db}
}

// Submit appends a review to the listing. Only users with a transaction for
// the listing may review; a cancelled purchase still counts as having bought.
// A buyer may review the same listing more than once.
func (s *reviewService) Submit(ctx context.Context, listingID, buyerID primitive.ObjectID, rating int, comment string) (*models.Review, error) {
	if rating < 1 || rating > 5 {
		return nil, &ValidationError{Field: "rating", Message: "must be between 1 and 5"}
	}
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return nil, &ValidationError{Field: "comment", Message: "must not be empty"}
	}

	count, err := s.db.Collection(listingsCollection).CountDocuments(ctx, bson.M{"_id": listingID})
	if err != nil {
		return nil, fmt.Errorf("error checking listing %s: %w", listingID.Hex(), err)
	}
	if count == 0 {
		return nil, mongo.ErrNoDocuments
	}

	purchases, err := s.db.Collection(transactionsCollection).CountDocuments(ctx, bson.M{
		"listing_id": listingID,
		"buyer_id":   buyerID,
	})
	if err != nil {
		return nil, fmt.Errorf("error checking purchases of listing %s by user %s: %w", listingID.Hex(), buyerID.Hex(), err)
	}
	if purchases == 0 {
		return nil, ErrNotPurchased
	}

	review := models.Review{
		ID:        primitive.NewObjectID(),
		BuyerID:   buyerID,
		Rating:    rating,
		Comment:   comment,
		CreatedAt: time.Now().UTC(),
	}

	res, err := s.db.Collection(listingsCollection).UpdateOne(ctx,
		bson.M{"_id": listingID},
		bson.M{
			"$push": bson.M{"reviews": review},
			"$set":  bson.M{"updated_at": time.Now().UTC()},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("error appending review to listing %s: %w", listingID.Hex(), err)
	}
	if res.MatchedCount == 0 {
		// Listing vanished between the existence check and the push.
		return nil, mongo.ErrNoDocuments
	}

	if err := s.recomputeRating(ctx, listingID); err != nil {
		return nil, err
	}
	return &review, nil
}

// Reviews returns the listing's reviews, oldest first.
func (s *reviewService) Reviews(ctx context.Context, listingID primitive.ObjectID) ([]models.Review, error) {
	var listing models.Listing
	opts := options.FindOne().SetProjection(bson.M{"reviews": 1})
	err := s.db.Collection(listingsCollection).FindOne(ctx, bson.M{"_id": listingID}, opts).Decode(&listing)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error fetching reviews for listing %s: %w", listingID.Hex(), err)
	}
	if listing.Reviews == nil {
		return []models.Review{}, nil
	}
	return listing.Reviews, nil
}

// Respond sets the seller's response on one review, addressed by the review's
// own ID. Responding again overwrites the previous response. Only the listing
// owner may respond.
func (s *reviewService) Respond(ctx context.Context, listingID, reviewID, ownerID primitive.ObjectID, text string) (*models.Review, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &ValidationError{Field: "response", Message: "must not be empty"}
	}

	response := models.Response{Text: text, CreatedAt: time.Now().UTC()}
	res, err := s.db.Collection(listingsCollection).UpdateOne(ctx,
		bson.M{"_id": listingID, "owner_id": ownerID, "reviews._id": reviewID},
		bson.M{"$set": bson.M{
			"reviews.$.response": response,
			"updated_at":         time.Now().UTC(),
		}},
	)
	if err != nil {
		return nil, fmt.Errorf("error responding to review %s on listing %s: %w", reviewID.Hex(), listingID.Hex(), err)
	}
	if res.MatchedCount == 0 {
		// Filtered update missed. Figure out which precondition failed.
		var listing models.Listing
		findErr := s.db.Collection(listingsCollection).FindOne(ctx, bson.M{"_id": listingID}).Decode(&listing)
		if findErr != nil {
			if errors.Is(findErr, mongo.ErrNoDocuments) {
				return nil, mongo.ErrNoDocuments
			}
			return nil, fmt.Errorf("error diagnosing failed response on listing %s: %w", listingID.Hex(), findErr)
		}
		if listing.OwnerID != ownerID {
			return nil, ErrNotOwner
		}
		return nil, mongo.ErrNoDocuments // review not found
	}

	var listing models.Listing
	opts := options.FindOne().SetProjection(bson.M{"reviews": bson.M{"$elemMatch": bson.M{"_id": reviewID}}})
	if err := s.db.Collection(listingsCollection).FindOne(ctx, bson.M{"_id": listingID}, opts).Decode(&listing); err != nil {
		return nil, fmt.Errorf("error reloading review %s: %w", reviewID.Hex(), err)
	}
	if len(listing.Reviews) == 0 {
		return nil, mongo.ErrNoDocuments
	}
	return &listing.Reviews[0], nil
}

// recomputeRating recalculates the listing's average rating from its embedded
// reviews inside the database, so concurrent submissions converge on the
// value implied by the final review set.
func (s *reviewService) recomputeRating(ctx context.Context, listingID primitive.ObjectID) error {
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"rating": bson.M{"$ifNull": bson.A{bson.M{"$avg": "$reviews.rating"}, 0}},
		}}},
	}
	_, err := s.db.Collection(listingsCollection).UpdateOne(ctx, bson.M{"_id": listingID}, pipeline)
	if err != nil {
		return fmt.Errorf("error recomputing rating for listing %s: %w", listingID.Hex(), err)
	}
	return nil
}
