package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/PNeves10/aiquira-mvp/internal/auth"
	"github.com/PNeves10/aiquira-mvp/internal/models"
)

// IUserService defines the interface for user-related operations.
// This allows for easier mocking in tests.
type IUserService interface {
	Register(ctx context.Context, username, email, password string) (*models.User, error)
	Authenticate(ctx context.Context, identifier, password string) (*models.User, error)
	FindByID(ctx context.Context, userID primitive.ObjectID) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	ToggleFavorite(ctx context.Context, userID, listingID primitive.ObjectID) ([]primitive.ObjectID, error)
	FavoriteListings(ctx context.Context, userID primitive.ObjectID) ([]models.Listing, error)
	ListUsers(ctx context.Context) ([]models.PublicUser, error)
	PromoteToAdmin(ctx context.Context, email string) (*models.User, error)
	DeleteUserAndListings(ctx context.Context, userID primitive.ObjectID) error
}

const usersCollection = "users"

var (
	usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_]{3,20}$`)
	emailRe    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// userService implements IUserService.
type userService struct {
	db *mongo.Database
}

// NewUserService creates a new UserService.
func NewUserService(db *mongo.Database) IUserService {
	return &userService{db: db}
}

// Register validates the input, hashes the password and inserts the user.
// Username and email collisions surface as ErrUsernameExists / ErrEmailExists
// via the unique indexes, so concurrent registrations cannot both win.
func (s *userService) Register(ctx context.Context, username, email, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))

	if !usernameRe.MatchString(username) {
		return nil, &ValidationError{Field: "username", Message: "must be 3-20 characters: letters, digits or underscore"}
	}
	if !emailRe.MatchString(email) {
		return nil, &ValidationError{Field: "email", Message: "must be a valid email address"}
	}
	if len(password) < 6 {
		return nil, &ValidationError{Field: "password", Message: "must be at least 6 characters"}
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	collection := s.db.Collection(usersCollection)
	now := time.Now().UTC()
	newUser := &models.User{
		ID:           primitive.NewObjectID(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         models.RoleUser,
		Favorites:    []primitive.ObjectID{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if _, err := collection.InsertOne(ctx, newUser); err != nil {
		// A duplicate here is a real username/email collision, not a
		// transient condition; retrying would just replay the same insert.
		if mongo.IsDuplicateKeyError(err) {
			if strings.Contains(err.Error(), "email") {
				return nil, ErrEmailExists
			}
			return nil, ErrUsernameExists
		}
		return nil, fmt.Errorf("failed to insert new user %s: %w", username, err)
	}

	return newUser, nil
}

// Authenticate verifies credentials for a username or email identifier.
// A missing user and a wrong password both return ErrInvalidCredentials so
// callers cannot probe which accounts exist.
func (s *userService) Authenticate(ctx context.Context, identifier, password string) (*models.User, error) {
	identifier = strings.TrimSpace(identifier)
	var user models.User
	filter := bson.M{"$or": bson.A{
		bson.M{"username": identifier},
		bson.M{"email": strings.ToLower(identifier)},
	}}

	err := s.db.Collection(usersCollection).FindOne(ctx, filter).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("error finding user %s: %w", identifier, err)
	}

	if !auth.CheckPasswordHash(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

func (s *userService) FindByID(ctx context.Context, userID primitive.ObjectID) (*models.User, error) {
	var user models.User
	err := s.db.Collection(usersCollection).FindOne(ctx, bson.M{"_id": userID}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding user by ID %s: %w", userID.Hex(), err)
	}
	return &user, nil
}

func (s *userService) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := s.db.Collection(usersCollection).FindOne(ctx, bson.M{"username": username}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding user by username %s: %w", username, err)
	}
	return &user, nil
}

func (s *userService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	filter := bson.M{"email": strings.ToLower(email)}
	err := s.db.Collection(usersCollection).FindOne(ctx, filter).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding user by email %s: %w", email, err)
	}
	return &user, nil
}

// ToggleFavorite adds the listing to the user's favorites if absent, removes
// it if present, and returns the resulting set. The listing must exist at the
// moment of toggling; a favorite pointing at a listing deleted later is
// filtered out on read instead.
func (s *userService) ToggleFavorite(ctx context.Context, userID, listingID primitive.ObjectID) ([]primitive.ObjectID, error) {
	count, err := s.db.Collection(listingsCollection).CountDocuments(ctx, bson.M{"_id": listingID})
	if err != nil {
		return nil, fmt.Errorf("error checking listing %s: %w", listingID.Hex(), err)
	}
	if count == 0 {
		return nil, mongo.ErrNoDocuments
	}

	user, err := s.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	present := false
	for _, fav := range user.Favorites {
		if fav == listingID {
			present = true
			break
		}
	}

	var update bson.M
	if present {
		update = bson.M{
			"$pull": bson.M{"favorites": listingID},
			"$set":  bson.M{"updated_at": time.Now().UTC()},
		}
	} else {
		// $addToSet keeps the toggle idempotent under concurrent requests.
		update = bson.M{
			"$addToSet": bson.M{"favorites": listingID},
			"$set":      bson.M{"updated_at": time.Now().UTC()},
		}
	}

	var updated models.User
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err = s.db.Collection(usersCollection).FindOneAndUpdate(ctx, bson.M{"_id": userID}, update, opts).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error toggling favorite %s for user %s: %w", listingID.Hex(), userID.Hex(), err)
	}
	if updated.Favorites == nil {
		updated.Favorites = []primitive.ObjectID{}
	}
	return updated.Favorites, nil
}

// FavoriteListings resolves the user's favorite IDs to listing documents.
// Listings deleted since being favorited are silently omitted.
func (s *userService) FavoriteListings(ctx context.Context, userID primitive.ObjectID) ([]models.Listing, error) {
	user, err := s.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(user.Favorites) == 0 {
		return []models.Listing{}, nil
	}

	cursor, err := s.db.Collection(listingsCollection).Find(ctx, bson.M{"_id": bson.M{"$in": user.Favorites}})
	if err != nil {
		return nil, fmt.Errorf("error fetching favorite listings for user %s: %w", userID.Hex(), err)
	}
	defer cursor.Close(ctx)

	listings := []models.Listing{}
	if err := cursor.All(ctx, &listings); err != nil {
		return nil, fmt.Errorf("error decoding favorite listings: %w", err)
	}
	return listings, nil
}

// ListUsers returns all users without credential material.
func (s *userService) ListUsers(ctx context.Context) ([]models.PublicUser, error) {
	opts := options.Find().
		SetProjection(bson.M{"password": 0, "favorites": 0}).
		SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := s.db.Collection(usersCollection).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("error listing users: %w", err)
	}
	defer cursor.Close(ctx)

	users := []models.PublicUser{}
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("error decoding users: %w", err)
	}
	return users, nil
}

// PromoteToAdmin grants the admin role to the user with the given email.
func (s *userService) PromoteToAdmin(ctx context.Context, email string) (*models.User, error) {
	filter := bson.M{"email": strings.ToLower(strings.TrimSpace(email))}
	update := bson.M{"$set": bson.M{"role": models.RoleAdmin, "updated_at": time.Now().UTC()}}

	var updated models.User
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := s.db.Collection(usersCollection).FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error promoting user %s to admin: %w", email, err)
	}
	log.Printf("User %s (%s) promoted to admin", updated.Username, updated.Email)
	return &updated, nil
}

// DeleteUserAndListings removes the user and every listing they own. Reviews
// written by the user on other listings are kept; transactions are kept as
// the financial record.
func (s *userService) DeleteUserAndListings(ctx context.Context, userID primitive.ObjectID) error {
	res, err := s.db.Collection(usersCollection).DeleteOne(ctx, bson.M{"_id": userID})
	if err != nil {
		return fmt.Errorf("error deleting user %s: %w", userID.Hex(), err)
	}
	if res.DeletedCount == 0 {
		return mongo.ErrNoDocuments
	}

	delRes, err := s.db.Collection(listingsCollection).DeleteMany(ctx, bson.M{"owner_id": userID})
	if err != nil {
		return fmt.Errorf("error deleting listings for user %s: %w", userID.Hex(), err)
	}
	log.Printf("Deleted user %s and %d of their listings", userID.Hex(), delRes.DeletedCount)
	return nil
}
