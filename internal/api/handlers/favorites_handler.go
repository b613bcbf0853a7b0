package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/PNeves10/aiquira-mvp/internal/api/middleware"
	"github.com/PNeves10/aiquira-mvp/internal/services"
)

// FavoritesHandler handles the authenticated user's favorites.
type FavoritesHandler struct {
	userService services.IUserService
}

// NewFavoritesHandler creates a new FavoritesHandler.
func NewFavoritesHandler(userService services.IUserService) *FavoritesHandler {
	return &FavoritesHandler{userService: userService}
}

type toggleFavoriteRequest struct {
	ListingID string `json:"listingId"`
}

// Toggle handles POST /api/favorites: adds the listing if absent, removes it
// if present, and returns the resulting favorite IDs.
func (h *FavoritesHandler) Toggle(c *gin.Context) {
	var req toggleFavoriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	listingID, err := primitive.ObjectIDFromHex(req.ListingID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listingId"})
		return
	}

	favorites, err := h.userService.ToggleFavorite(c.Request.Context(), middleware.UserID(c), listingID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to toggle favorite"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"favorites": favorites})
}

// List handles GET /api/favorites, returning the favorited listings
// themselves. Listings deleted since being favorited are omitted.
func (h *FavoritesHandler) List(c *gin.Context) {
	listings, err := h.userService.FavoriteListings(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch favorites"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": listings})
}
