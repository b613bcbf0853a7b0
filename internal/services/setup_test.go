package services

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/PNeves10/aiquira-mvp/internal/config"
	"github.com/PNeves10/aiquira-mvp/internal/db"
	"github.com/PNeves10/aiquira-mvp/internal/models"
)

var testMongoURI string

func init() {
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := filepath.Join(filepath.Dir(filename), "..", "..")
	if err := godotenv.Load(filepath.Join(projectRoot, ".env")); err != nil {
		godotenv.Load()
	}

	testMongoURI = os.Getenv("MONGO_URI_TEST")
	if testMongoURI == "" {
		panic("MONGO_URI_TEST environment variable is required for tests")
	}
}

// setupTestDB connects to the test MongoDB, drops the app collections and
// recreates the indexes the services rely on.
func setupTestDB(t *testing.T, dbName string) *mongo.Database {
	t.Helper()
	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI(testMongoURI))
	require.NoError(t, err, "Failed to connect to MongoDB")
	t.Cleanup(func() { client.Disconnect(context.Background()) })

	database := client.Database(dbName)
	for _, coll := range []string{usersCollection, listingsCollection, transactionsCollection} {
		_ = database.Collection(coll).Drop(context.Background())
	}
	require.NoError(t, db.EnsureIndexes(context.Background(), database))
	return database
}

// insertTransaction seeds a completed transaction directly, for tests that
// only need the purchase record to exist.
func insertTransaction(t *testing.T, database *mongo.Database, buyerID, sellerID, listingID primitive.ObjectID, sessionID string) models.Transaction {
	t.Helper()
	now := time.Now().UTC()
	txn := models.Transaction{
		ID:        primitive.NewObjectID(),
		BuyerID:   buyerID,
		SellerID:  sellerID,
		ListingID: listingID,
		Amount:    100,
		Status:    models.TransactionCompleted,
		SessionID: sessionID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := database.Collection(transactionsCollection).InsertOne(context.Background(), txn)
	require.NoError(t, err)
	return txn
}

func testConfig() *config.Config {
	return &config.Config{
		AppName:         "AIQuira",
		DefaultPageSize: 10,
		MaxPageSize:     100,
		PaymentCurrency: "eur",
	}
}
