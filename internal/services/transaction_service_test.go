package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/PNeves10/aiquira-mvp/internal/models"
	"github.com/PNeves10/aiquira-mvp/internal/payment"
	"github.com/PNeves10/aiquira-mvp/internal/tasks"
)

// --- Mocks ---

type mockCheckoutProvider struct {
	mock.Mock
}

func (m *mockCheckoutProvider) CreateSession(ctx context.Context, amountCents int64, currency string, meta payment.SessionMetadata) (*payment.Session, error) {
	args := m.Called(ctx, amountCents, currency, meta)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Session), args.Error(1)
}

func (m *mockCheckoutProvider) GetSession(ctx context.Context, sessionID string) (*payment.Session, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Session), args.Error(1)
}

func (m *mockCheckoutProvider) VerifyWebhook(payload []byte, signatureHeader string) (*payment.Event, error) {
	args := m.Called(payload, signatureHeader)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Event), args.Error(1)
}

// recordingEnqueuer captures enqueued tasks instead of touching Redis.
type recordingEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (r *recordingEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
	return &asynq.TaskInfo{}, nil
}

func (r *recordingEnqueuer) byType(taskType string) []*asynq.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*asynq.Task
	for _, task := range r.tasks {
		if task.Type() == taskType {
			out = append(out, task)
		}
	}
	return out
}

type txnFixture struct {
	users    IUserService
	listings IListingService
	txns     ITransactionService
	provider *mockCheckoutProvider
	enqueuer *recordingEnqueuer
	buyer    *models.User
	seller   *models.User
	listing  *models.Listing
}

func newTxnFixture(t *testing.T, dbName string) *txnFixture {
	t.Helper()
	database := setupTestDB(t, dbName)
	cfg := testConfig()
	f := &txnFixture{
		users:    NewUserService(database),
		listings: NewListingService(database, cfg),
		provider: new(mockCheckoutProvider),
		enqueuer: &recordingEnqueuer{},
	}
	f.txns = NewTransactionService(database, cfg, f.provider, f.listings, f.enqueuer)

	ctx := context.Background()
	var err error
	f.buyer, err = f.users.Register(ctx, "txn_buyer", "buyer@example.com", "secret123")
	require.NoError(t, err)
	f.seller, err = f.users.Register(ctx, "txn_seller", "seller@example.com", "secret123")
	require.NoError(t, err)
	f.listing, err = f.listings.Create(ctx, f.seller.ID, "https://for-sale.example.com", 250, "up for grabs")
	require.NoError(t, err)
	return f
}

// --- Tests ---

func TestInitiateCheckout(t *testing.T) {
	f := newTxnFixture(t, "test_txn_initiate")
	ctx := context.Background()

	f.provider.On("CreateSession", mock.Anything, int64(25000), "eur", payment.SessionMetadata{
		ListingID: f.listing.ID.Hex(),
		BuyerID:   f.buyer.ID.Hex(),
		SellerID:  f.seller.ID.Hex(),
	}).Return(&payment.Session{ID: "cs_123", URL: "https://pay.example.com/cs_123", Status: payment.SessionStatusOpen}, nil)

	txn, url, err := f.txns.InitiateCheckout(ctx, f.buyer.ID, f.listing.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example.com/cs_123", url)
	assert.Equal(t, models.TransactionPending, txn.Status)
	assert.Equal(t, "cs_123", txn.SessionID)
	assert.Equal(t, float64(250), txn.Amount)
	f.provider.AssertExpectations(t)

	t.Run("own listing rejected", func(t *testing.T) {
		_, _, err := f.txns.InitiateCheckout(ctx, f.seller.ID, f.listing.ID)
		assert.ErrorIs(t, err, ErrOwnListing)
	})

	t.Run("unknown listing", func(t *testing.T) {
		_, _, err := f.txns.InitiateCheckout(ctx, f.buyer.ID, primitive.NewObjectID())
		assert.True(t, errors.Is(err, mongo.ErrNoDocuments))
	})
}

func TestInitiateCheckoutRoundsFractionalPrices(t *testing.T) {
	f := newTxnFixture(t, "test_txn_cents")
	ctx := context.Background()

	// Prices without an exact binary representation must still charge the
	// full cent amount (19.99 is stored as 19.989999...).
	for _, tc := range []struct {
		price float64
		cents int64
	}{
		{19.99, 1999},
		{8.20, 820},
		{0.29, 29},
	} {
		listing, err := f.listings.Create(ctx, f.seller.ID, "https://priced.example.com", tc.price, "fractional price")
		require.NoError(t, err)

		sessionID := primitive.NewObjectID().Hex()
		f.provider.On("CreateSession", mock.Anything, tc.cents, "eur", mock.Anything).
			Return(&payment.Session{ID: sessionID, URL: "https://pay.example.com/" + sessionID, Status: payment.SessionStatusOpen}, nil).Once()

		txn, _, err := f.txns.InitiateCheckout(ctx, f.buyer.ID, listing.ID)
		require.NoError(t, err)
		assert.Equal(t, tc.price, txn.Amount)
	}
	f.provider.AssertExpectations(t)
}

func TestCompleteBySession(t *testing.T) {
	f := newTxnFixture(t, "test_txn_complete")
	ctx := context.Background()

	f.provider.On("CreateSession", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&payment.Session{ID: "cs_done", URL: "https://pay.example.com/cs_done", Status: payment.SessionStatusOpen}, nil)
	_, _, err := f.txns.InitiateCheckout(ctx, f.buyer.ID, f.listing.ID)
	require.NoError(t, err)

	txn, changed, err := f.txns.CompleteBySession(ctx, "cs_done")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.TransactionCompleted, txn.Status)

	reloaded, err := f.listings.FindByID(ctx, f.listing.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reloaded.SalesCount)

	emails := f.enqueuer.byType(tasks.TypeEmailDelivery)
	require.Len(t, emails, 2, "buyer and seller emails enqueued")

	t.Run("second completion is a no-op", func(t *testing.T) {
		txn, changed, err := f.txns.CompleteBySession(ctx, "cs_done")
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, models.TransactionCompleted, txn.Status)

		reloaded, err := f.listings.FindByID(ctx, f.listing.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), reloaded.SalesCount, "sales counted once")
		assert.Len(t, f.enqueuer.byType(tasks.TypeEmailDelivery), 2, "emails sent once")
	})

	t.Run("cancel after completion is a no-op", func(t *testing.T) {
		txn, changed, err := f.txns.CancelBySession(ctx, "cs_done")
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, models.TransactionCompleted, txn.Status)
	})

	t.Run("unknown session", func(t *testing.T) {
		_, _, err := f.txns.CompleteBySession(ctx, "cs_ghost")
		assert.True(t, errors.Is(err, mongo.ErrNoDocuments))
	})
}

func TestCancelBySession(t *testing.T) {
	f := newTxnFixture(t, "test_txn_cancel")
	ctx := context.Background()

	f.provider.On("CreateSession", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&payment.Session{ID: "cs_nope", URL: "https://pay.example.com/cs_nope", Status: payment.SessionStatusOpen}, nil)
	_, _, err := f.txns.InitiateCheckout(ctx, f.buyer.ID, f.listing.ID)
	require.NoError(t, err)

	txn, changed, err := f.txns.CancelBySession(ctx, "cs_nope")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.TransactionCancelled, txn.Status)

	reloaded, err := f.listings.FindByID(ctx, f.listing.ID)
	require.NoError(t, err)
	assert.Zero(t, reloaded.SalesCount, "cancelled purchase does not count as a sale")
	assert.Empty(t, f.enqueuer.byType(tasks.TypeEmailDelivery))
}

func TestTransactionsByUser(t *testing.T) {
	f := newTxnFixture(t, "test_txn_byuser")
	ctx := context.Background()

	f.provider.On("CreateSession", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&payment.Session{ID: "cs_hist", URL: "https://pay.example.com/cs_hist", Status: payment.SessionStatusOpen}, nil).Once()
	_, _, err := f.txns.InitiateCheckout(ctx, f.buyer.ID, f.listing.ID)
	require.NoError(t, err)

	buyerTxns, err := f.txns.ByUser(ctx, f.buyer.ID)
	require.NoError(t, err)
	require.Len(t, buyerTxns, 1)

	// The seller sees the same transaction from their side.
	sellerTxns, err := f.txns.ByUser(ctx, f.seller.ID)
	require.NoError(t, err)
	require.Len(t, sellerTxns, 1)
	assert.Equal(t, buyerTxns[0].ID, sellerTxns[0].ID)

	stranger, err := f.txns.ByUser(ctx, primitive.NewObjectID())
	require.NoError(t, err)
	assert.Empty(t, stranger)
}
