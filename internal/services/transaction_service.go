package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/PNeves10/aiquira-mvp/internal/config"
	"github.com/PNeves10/aiquira-mvp/internal/models"
	"github.com/PNeves10/aiquira-mvp/internal/payment"
	"github.com/PNeves10/aiquira-mvp/internal/tasks"
)

// TaskEnqueuer is the slice of the asynq client this service needs.
// *asynq.Client satisfies it.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ITransactionService defines the interface for checkout and transaction
// operations.
type ITransactionService interface {
	InitiateCheckout(ctx context.Context, buyerID, listingID primitive.ObjectID) (*models.Transaction, string, error)
	CompleteBySession(ctx context.Context, sessionID string) (*models.Transaction, bool, error)
	CancelBySession(ctx context.Context, sessionID string) (*models.Transaction, bool, error)
	FindBySession(ctx context.Context, sessionID string) (*models.Transaction, error)
	ByUser(ctx context.Context, userID primitive.ObjectID) ([]models.Transaction, error)
}

const transactionsCollection = "transactions"

// transactionService implements ITransactionService.
type transactionService struct {
	db             *mongo.Database
	cfg            *config.Config
	provider       payment.ICheckoutProvider
	listingService IListingService
	taskClient     TaskEnqueuer
}

// NewTransactionService creates a new TransactionService. taskClient may be
// nil, in which case purchase emails are skipped.
func NewTransactionService(
	db *mongo.Database,
	cfg *config.Config,
	provider payment.ICheckoutProvider,
	listingService IListingService,
	taskClient TaskEnqueuer,
) ITransactionService {
	return &transactionService{
		db:             db,
		cfg:            cfg,
		provider:       provider,
		listingService: listingService,
		taskClient:     taskClient,
	}
}

// InitiateCheckout opens a hosted checkout session for the listing and
// records a pending transaction keyed by the session ID. The buyer is
// redirected to the returned URL; the transaction stays pending until the
// provider reports the session's outcome.
func (s *transactionService) InitiateCheckout(ctx context.Context, buyerID, listingID primitive.ObjectID) (*models.Transaction, string, error) {
	listing, err := s.listingService.FindByID(ctx, listingID)
	if err != nil {
		return nil, "", err
	}
	if listing.OwnerID == buyerID {
		return nil, "", ErrOwnListing
	}

	amountCents := int64(math.Round(listing.Price * 100))
	session, err := s.provider.CreateSession(ctx, amountCents, s.cfg.PaymentCurrency, payment.SessionMetadata{
		ListingID: listingID.Hex(),
		BuyerID:   buyerID.Hex(),
		SellerID:  listing.OwnerID.Hex(),
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to create checkout session for listing %s: %w", listingID.Hex(), err)
	}

	now := time.Now().UTC()
	txn := &models.Transaction{
		ID:        primitive.NewObjectID(),
		BuyerID:   buyerID,
		SellerID:  listing.OwnerID,
		ListingID: listingID,
		Amount:    listing.Price,
		Status:    models.TransactionPending,
		SessionID: session.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := s.db.Collection(transactionsCollection).InsertOne(ctx, txn); err != nil {
		return nil, "", fmt.Errorf("failed to record pending transaction for session %s: %w", session.ID, err)
	}

	log.Printf("Checkout initiated: session=%s listing=%s buyer=%s amount=%.2f", session.ID, listingID.Hex(), buyerID.Hex(), listing.Price)
	return txn, session.URL, nil
}

// CompleteBySession marks the session's transaction completed. The filtered
// update only matches a pending transaction, so the webhook and the client
// confirm callback can both fire without double-counting: exactly one caller
// observes the pending→completed transition and triggers the sales counter
// and purchase emails. The bool result reports whether this call was that
// transition.
func (s *transactionService) CompleteBySession(ctx context.Context, sessionID string) (*models.Transaction, bool, error) {
	txn, changed, err := s.transition(ctx, sessionID, models.TransactionCompleted)
	if err != nil || !changed {
		return txn, changed, err
	}

	if err := s.listingService.IncrementSales(ctx, txn.ListingID); err != nil {
		// The transaction is already completed; a missing listing should not
		// unwind it.
		log.Printf("Failed to increment sales for listing %s after session %s: %v", txn.ListingID.Hex(), sessionID, err)
	}
	s.sendPurchaseEmails(ctx, txn)
	return txn, true, nil
}

// CancelBySession marks the session's transaction cancelled. Idempotent the
// same way CompleteBySession is; no side effects beyond the status change.
func (s *transactionService) CancelBySession(ctx context.Context, sessionID string) (*models.Transaction, bool, error) {
	return s.transition(ctx, sessionID, models.TransactionCancelled)
}

// transition performs the compare-and-set from pending to the target status.
// When the CAS misses it reloads the transaction to distinguish "already
// settled" (idempotent success, changed=false) from "unknown session".
func (s *transactionService) transition(ctx context.Context, sessionID string, target models.TransactionStatus) (*models.Transaction, bool, error) {
	var txn models.Transaction
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := s.db.Collection(transactionsCollection).FindOneAndUpdate(ctx,
		bson.M{"session_id": sessionID, "status": models.TransactionPending},
		bson.M{"$set": bson.M{"status": target, "updated_at": time.Now().UTC()}},
		opts,
	).Decode(&txn)
	if err == nil {
		log.Printf("Transaction %s: %s -> %s (session %s)", txn.ID.Hex(), models.TransactionPending, target, sessionID)
		return &txn, true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, fmt.Errorf("error settling transaction for session %s: %w", sessionID, err)
	}

	existing, err := s.FindBySession(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *transactionService) FindBySession(ctx context.Context, sessionID string) (*models.Transaction, error) {
	var txn models.Transaction
	err := s.db.Collection(transactionsCollection).FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&txn)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding transaction by session %s: %w", sessionID, err)
	}
	return &txn, nil
}

// ByUser returns transactions where the user is buyer or seller, newest
// first.
func (s *transactionService) ByUser(ctx context.Context, userID primitive.ObjectID) ([]models.Transaction, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"buyer_id": userID},
		bson.M{"seller_id": userID},
	}}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}})
	cursor, err := s.db.Collection(transactionsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("error fetching transactions for user %s: %w", userID.Hex(), err)
	}
	defer cursor.Close(ctx)

	txns := []models.Transaction{}
	if err := cursor.All(ctx, &txns); err != nil {
		return nil, fmt.Errorf("error decoding transactions: %w", err)
	}
	return txns, nil
}

// sendPurchaseEmails enqueues the buyer and seller notifications for a
// completed purchase. Failures are logged, not returned: email is best-effort
// relative to the settled transaction.
func (s *transactionService) sendPurchaseEmails(ctx context.Context, txn *models.Transaction) {
	if s.taskClient == nil {
		return
	}

	listing, err := s.listingService.FindByID(ctx, txn.ListingID)
	listingName := txn.ListingID.Hex()
	if err == nil {
		listingName = listing.URL
	}
	amount := fmt.Sprintf("%.2f %s", txn.Amount, s.cfg.PaymentCurrency)

	users := s.db.Collection(usersCollection)
	var buyer, seller models.User
	if err := users.FindOne(ctx, bson.M{"_id": txn.BuyerID}).Decode(&buyer); err != nil {
		log.Printf("Skipping buyer email for transaction %s: %v", txn.ID.Hex(), err)
	} else {
		s.enqueueEmail(ctx, buyer.Email, "purchase_buyer", map[string]interface{}{
			"username": buyer.Username,
			"listing":  listingName,
			"amount":   amount,
		})
	}
	if err := users.FindOne(ctx, bson.M{"_id": txn.SellerID}).Decode(&seller); err != nil {
		log.Printf("Skipping seller email for transaction %s: %v", txn.ID.Hex(), err)
	} else {
		s.enqueueEmail(ctx, seller.Email, "purchase_seller", map[string]interface{}{
			"username": seller.Username,
			"listing":  listingName,
			"amount":   amount,
		})
	}
}

func (s *transactionService) enqueueEmail(ctx context.Context, to, template string, data map[string]interface{}) {
	task, err := tasks.NewEmailDeliveryTask(to, template, data)
	if err != nil {
		log.Printf("Failed to build %s email task for %s: %v", template, to, err)
		return
	}
	if _, err := s.taskClient.EnqueueContext(ctx, task); err != nil {
		log.Printf("Failed to enqueue %s email for %s: %v", template, to, err)
	}
}
