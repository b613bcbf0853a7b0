package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/PNeves10/aiquira-mvp/internal/config"
	"github.com/PNeves10/aiquira-mvp/internal/models"
)

// SearchParams carries the inputs of a listing search. Zero values mean
// "no constraint"; Page and Limit are clamped by the service.
type SearchParams struct {
	Query     string
	MinRating float64
	Sort      string
	Page      int
	Limit     int
}

// Recognized Sort values. Anything else falls back to newest-first.
const (
	SortPriceAsc   = "price_asc"
	SortPriceDesc  = "price_desc"
	SortRatingDesc = "rating_desc"
)

// IListingService defines the interface for listing-related operations.
type IListingService interface {
	Create(ctx context.Context, ownerID primitive.ObjectID, url string, price float64, description string) (*models.Listing, error)
	FindByID(ctx context.Context, listingID primitive.ObjectID) (*models.Listing, error)
	Search(ctx context.Context, params SearchParams) ([]models.Listing, int64, error)
	TopRated(ctx context.Context, limit int) ([]models.Listing, error)
	RecordView(ctx context.Context, listingID primitive.ObjectID) (int64, error)
	IncrementSales(ctx context.Context, listingID primitive.ObjectID) error
	AttachImage(ctx context.Context, listingID primitive.ObjectID, imageKey string) error
	Delete(ctx context.Context, listingID primitive.ObjectID) error
}

const listingsCollection = "listings"

var urlRe = regexp.MustCompile(`^(https?://)?([a-zA-Z0-9-]+\.)+[a-zA-Z]{2,}(/\S*)?$`)

// listingService implements IListingService.
type listingService struct {
	db  *mongo.Database
	cfg *config.Config
}

// NewListingService creates a new ListingService.
func NewListingService(db *mongo.Database, cfg *config.Config) IListingService {
	return &listingService{db: db, cfg: cfg}
}

// Create validates and inserts a new listing owned by ownerID.
func (s *listingService) Create(ctx context.Context, ownerID primitive.ObjectID, url string, price float64, description string) (*models.Listing, error) {
	url = strings.TrimSpace(url)
	description = strings.TrimSpace(description)

	if !urlRe.MatchString(url) {
		return nil, &ValidationError{Field: "url", Message: "must be a valid website address"}
	}
	if price <= 0 {
		return nil, &ValidationError{Field: "price", Message: "must be greater than zero"}
	}
	if description == "" {
		return nil, &ValidationError{Field: "description", Message: "must not be empty"}
	}

	collection := s.db.Collection(listingsCollection)
	now := time.Now().UTC()
	newListing := &models.Listing{
		ID:          primitive.NewObjectID(),
		URL:         url,
		Price:       price,
		Description: description,
		OwnerID:     ownerID,
		Views:       0,
		SalesCount:  0,
		Rating:      0,
		Reviews:     []models.Review{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if _, err := collection.InsertOne(ctx, newListing); err != nil {
		return nil, fmt.Errorf("failed to insert new listing for owner %s: %w", ownerID.Hex(), err)
	}

	return newListing, nil
}

func (s *listingService) FindByID(ctx context.Context, listingID primitive.ObjectID) (*models.Listing, error) {
	var listing models.Listing
	err := s.db.Collection(listingsCollection).FindOne(ctx, bson.M{"_id": listingID}).Decode(&listing)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding listing by ID %s: %w", listingID.Hex(), err)
	}
	return &listing, nil
}

// Search filters listings by a case-insensitive substring over URL and
// description plus a minimum rating, sorts, and paginates. Returns the page
// and the total match count. The _id tie-break keeps page boundaries stable
// between requests.
func (s *listingService) Search(ctx context.Context, params SearchParams) ([]models.Listing, int64, error) {
	filter := bson.M{}
	if q := strings.TrimSpace(params.Query); q != "" {
		re := primitive.Regex{Pattern: regexp.QuoteMeta(q), Options: "i"}
		filter["$or"] = bson.A{
			bson.M{"url": re},
			bson.M{"description": re},
		}
	}
	if params.MinRating > 0 {
		filter["rating"] = bson.M{"$gte": params.MinRating}
	}

	var sort bson.D
	switch params.Sort {
	case SortPriceAsc:
		sort = bson.D{{Key: "price", Value: 1}, {Key: "_id", Value: 1}}
	case SortPriceDesc:
		sort = bson.D{{Key: "price", Value: -1}, {Key: "_id", Value: 1}}
	case SortRatingDesc:
		sort = bson.D{{Key: "rating", Value: -1}, {Key: "_id", Value: 1}}
	default:
		sort = bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}
	}

	page := params.Page
	if page < 1 {
		page = 1
	}
	limit := params.Limit
	if limit < 1 {
		limit = s.cfg.DefaultPageSize
	}
	if limit > s.cfg.MaxPageSize {
		limit = s.cfg.MaxPageSize
	}

	collection := s.db.Collection(listingsCollection)
	total, err := collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("error counting listings: %w", err)
	}

	opts := options.Find().
		SetSort(sort).
		SetSkip(int64(page-1) * int64(limit)).
		SetLimit(int64(limit))

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("error searching listings: %w", err)
	}
	defer cursor.Close(ctx)

	listings := []models.Listing{}
	if err := cursor.All(ctx, &listings); err != nil {
		return nil, 0, fmt.Errorf("error decoding listings: %w", err)
	}
	return listings, total, nil
}

// TopRated returns the best-rated listings that have at least one review.
func (s *listingService) TopRated(ctx context.Context, limit int) ([]models.Listing, error) {
	if limit < 1 || limit > s.cfg.MaxPageSize {
		limit = s.cfg.DefaultPageSize
	}
	filter := bson.M{"reviews.0": bson.M{"$exists": true}}
	opts := options.Find().
		SetSort(bson.D{{Key: "rating", Value: -1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := s.db.Collection(listingsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("error fetching top rated listings: %w", err)
	}
	defer cursor.Close(ctx)

	listings := []models.Listing{}
	if err := cursor.All(ctx, &listings); err != nil {
		return nil, fmt.Errorf("error decoding top rated listings: %w", err)
	}
	return listings, nil
}

// RecordView atomically increments the view counter and returns the new
// value. Concurrent views all land; the response reflects this request's
// position in the sequence.
func (s *listingService) RecordView(ctx context.Context, listingID primitive.ObjectID) (int64, error) {
	var updated models.Listing
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{"views": 1})
	err := s.db.Collection(listingsCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": listingID},
		bson.M{"$inc": bson.M{"views": 1}},
		opts,
	).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, mongo.ErrNoDocuments
		}
		return 0, fmt.Errorf("error recording view for listing %s: %w", listingID.Hex(), err)
	}
	return updated.Views, nil
}

// IncrementSales bumps the sales counter. Called once per completed
// transaction by the transaction service.
func (s *listingService) IncrementSales(ctx context.Context, listingID primitive.ObjectID) error {
	res, err := s.db.Collection(listingsCollection).UpdateOne(ctx,
		bson.M{"_id": listingID},
		bson.M{"$inc": bson.M{"sales_count": 1}},
	)
	if err != nil {
		return fmt.Errorf("error incrementing sales for listing %s: %w", listingID.Hex(), err)
	}
	if res.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// AttachImage sets the listing's processed image key. Called by the image
// worker once normalization succeeds.
func (s *listingService) AttachImage(ctx context.Context, listingID primitive.ObjectID, imageKey string) error {
	res, err := s.db.Collection(listingsCollection).UpdateOne(ctx,
		bson.M{"_id": listingID},
		bson.M{"$set": bson.M{"image": imageKey, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("error attaching image to listing %s: %w", listingID.Hex(), err)
	}
	if res.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// Delete removes a listing outright. Admin only; favorites pointing here are
// filtered out on read, and past transactions keep their listing reference.
func (s *listingService) Delete(ctx context.Context, listingID primitive.ObjectID) error {
	res, err := s.db.Collection(listingsCollection).DeleteOne(ctx, bson.M{"_id": listingID})
	if err != nil {
		return fmt.Errorf("error deleting listing %s: %w", listingID.Hex(), err)
	}
	if res.DeletedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}
