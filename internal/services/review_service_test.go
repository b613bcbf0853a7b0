package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/PNeves10/aiquira-mvp/internal/models"
)

type reviewFixture struct {
	listings IListingService
	reviews  IReviewService
	database *mongo.Database
	ownerID  primitive.ObjectID
	buyerID  primitive.ObjectID
	listing  *models.Listing
}

func newReviewFixture(t *testing.T, dbName string) *reviewFixture {
	t.Helper()
	database := setupTestDB(t, dbName)
	f := &reviewFixture{
		listings: NewListingService(database, testConfig()),
		reviews:  NewReviewService(database),
		database: database,
		ownerID:  primitive.NewObjectID(),
		buyerID:  primitive.NewObjectID(),
	}
	listing, err := f.listings.Create(context.Background(), f.ownerID, "https://reviewed.example.com", 100, "gets reviewed")
	require.NoError(t, err)
	f.listing = listing
	insertTransaction(t, database, f.buyerID, f.ownerID, listing.ID, "sess_"+dbName)
	return f
}

func TestSubmitReview(t *testing.T) {
	f := newReviewFixture(t, "test_review_submit")
	ctx := context.Background()

	review, err := f.reviews.Submit(ctx, f.listing.ID, f.buyerID, 4, "solid site")
	require.NoError(t, err)
	assert.False(t, review.ID.IsZero(), "review carries its own id")
	assert.Equal(t, f.buyerID, review.BuyerID)
	assert.Nil(t, review.Response)

	reloaded, err := f.listings.FindByID(ctx, f.listing.ID)
	require.NoError(t, err)
	require.Len(t, reloaded.Reviews, 1)
	assert.Equal(t, 4.0, reloaded.Rating)

	// Second review by the same buyer is allowed and moves the average.
	_, err = f.reviews.Submit(ctx, f.listing.ID, f.buyerID, 2, "declined since")
	require.NoError(t, err)
	reloaded, err = f.listings.FindByID(ctx, f.listing.ID)
	require.NoError(t, err)
	require.Len(t, reloaded.Reviews, 2)
	assert.Equal(t, 3.0, reloaded.Rating)
}

func TestSubmitReviewGate(t *testing.T) {
	f := newReviewFixture(t, "test_review_gate")
	ctx := context.Background()

	t.Run("non-buyer rejected", func(t *testing.T) {
		_, err := f.reviews.Submit(ctx, f.listing.ID, primitive.NewObjectID(), 5, "drive-by praise")
		assert.ErrorIs(t, err, ErrNotPurchased)
	})

	t.Run("unknown listing", func(t *testing.T) {
		_, err := f.reviews.Submit(ctx, primitive.NewObjectID(), f.buyerID, 5, "nice")
		assert.True(t, errors.Is(err, mongo.ErrNoDocuments))
	})

	t.Run("rating out of range", func(t *testing.T) {
		for _, rating := range []int{0, 6, -1} {
			_, err := f.reviews.Submit(ctx, f.listing.ID, f.buyerID, rating, "x")
			assert.True(t, IsValidationError(err), "rating %d should be rejected", rating)
		}
	})

	t.Run("empty comment", func(t *testing.T) {
		_, err := f.reviews.Submit(ctx, f.listing.ID, f.buyerID, 3, "   ")
		assert.True(t, IsValidationError(err))
	})
}

func TestRespondToReview(t *testing.T) {
	f := newReviewFixture(t, "test_review_respond")
	ctx := context.Background()

	review, err := f.reviews.Submit(ctx, f.listing.ID, f.buyerID, 2, "slow support")
	require.NoError(t, err)
	other, err := f.reviews.Submit(ctx, f.listing.ID, f.buyerID, 5, "much better now")
	require.NoError(t, err)

	updated, err := f.reviews.Respond(ctx, f.listing.ID, review.ID, f.ownerID, "sorry, we were migrating servers")
	require.NoError(t, err)
	require.NotNil(t, updated.Response)
	assert.Equal(t, "sorry, we were migrating servers", updated.Response.Text)
	assert.Equal(t, review.ID, updated.ID)

	// The response lands on the addressed review, not a sibling.
	all, err := f.reviews.Reviews(ctx, f.listing.ID)
	require.NoError(t, err)
	for _, r := range all {
		if r.ID == other.ID {
			assert.Nil(t, r.Response)
		}
	}

	t.Run("overwrite allowed", func(t *testing.T) {
		updated, err := f.reviews.Respond(ctx, f.listing.ID, review.ID, f.ownerID, "issue fully resolved")
		require.NoError(t, err)
		assert.Equal(t, "issue fully resolved", updated.Response.Text)
	})

	t.Run("non-owner rejected", func(t *testing.T) {
		_, err := f.reviews.Respond(ctx, f.listing.ID, review.ID, f.buyerID, "I am not the seller")
		assert.ErrorIs(t, err, ErrNotOwner)
	})

	t.Run("unknown review", func(t *testing.T) {
		_, err := f.reviews.Respond(ctx, f.listing.ID, primitive.NewObjectID(), f.ownerID, "to nobody")
		assert.True(t, errors.Is(err, mongo.ErrNoDocuments))
	})

	t.Run("unknown listing", func(t *testing.T) {
		_, err := f.reviews.Respond(ctx, primitive.NewObjectID(), review.ID, f.ownerID, "lost")
		assert.True(t, errors.Is(err, mongo.ErrNoDocuments))
	})

	t.Run("empty response", func(t *testing.T) {
		_, err := f.reviews.Respond(ctx, f.listing.ID, review.ID, f.ownerID, "  ")
		assert.True(t, IsValidationError(err))
	})
}

func TestReviewsListing(t *testing.T) {
	f := newReviewFixture(t, "test_review_list")
	ctx := context.Background()

	got, err := f.reviews.Reviews(ctx, f.listing.ID)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = f.reviews.Submit(ctx, f.listing.ID, f.buyerID, 4, "first")
	require.NoError(t, err)
	_, err = f.reviews.Submit(ctx, f.listing.ID, f.buyerID, 5, "second")
	require.NoError(t, err)

	got, err = f.reviews.Reviews(ctx, f.listing.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Comment, "reviews keep insertion order")

	t.Run("unknown listing", func(t *testing.T) {
		_, err := f.reviews.Reviews(ctx, primitive.NewObjectID())
		assert.True(t, errors.Is(err, mongo.ErrNoDocuments))
	})
}
