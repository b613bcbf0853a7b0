package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/PNeves10/aiquira-mvp/internal/services"
)

// AdminHandler handles administrative operations. Routes using it sit behind
// AdminMiddleware.
type AdminHandler struct {
	userService    services.IUserService
	listingService services.IListingService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(userService services.IUserService, listingService services.IListingService) *AdminHandler {
	return &AdminHandler{userService: userService, listingService: listingService}
}

// ListUsers handles GET /api/admin/users.
func (h *AdminHandler) ListUsers(c *gin.Context) {
	users, err := h.userService.ListUsers(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list users"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

type promoteRequest struct {
	Email string `json:"email"`
}

// PromoteUser handles POST /api/admin/users/promote.
func (h *AdminHandler) PromoteUser(c *gin.Context) {
	var req promoteRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	user, err := h.userService.PromoteToAdmin(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to promote user"})
		return
	}
	c.JSON(http.StatusOK, user.Public())
}

// DeleteUser handles DELETE /api/admin/users/:id. Removes the user and all
// listings they own.
func (h *AdminHandler) DeleteUser(c *gin.Context) {
	userID, ok := parseObjectID(c, "id")
	if !ok {
		return
	}

	if err := h.userService.DeleteUserAndListings(c.Request.Context(), userID); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// DeleteListing handles DELETE /api/admin/listings/:id.
func (h *AdminHandler) DeleteListing(c *gin.Context) {
	listingID, ok := parseObjectID(c, "id")
	if !ok {
		return
	}

	if err := h.listingService.Delete(c.Request.Context(), listingID); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete listing"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
