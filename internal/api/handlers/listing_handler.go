package handlers

import (
	"errors"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/PNeves10/aiquira-mvp/internal/api/middleware"
	"github.com/PNeves10/aiquira-mvp/internal/config"
	"github.com/PNeves10/aiquira-mvp/internal/models"
	"github.com/PNeves10/aiquira-mvp/internal/services"
	"github.com/PNeves10/aiquira-mvp/internal/storage"
	"github.com/PNeves10/aiquira-mvp/internal/tasks"
)

// ListingHandler handles REST requests for listings.
type ListingHandler struct {
	cfg            *config.Config
	listingService services.IListingService
	storageService storage.IS3Storage
	taskClient     services.TaskEnqueuer
	notifier       Notifier
}

// NewListingHandler creates a new ListingHandler. storageService, taskClient
// and notifier may be nil (image uploads and notifications disabled).
func NewListingHandler(cfg *config.Config, listingService services.IListingService, storageService storage.IS3Storage, taskClient services.TaskEnqueuer, notifier Notifier) *ListingHandler {
	return &ListingHandler{
		cfg:            cfg,
		listingService: listingService,
		storageService: storageService,
		taskClient:     taskClient,
		notifier:       notifier,
	}
}

// listingResponse wraps a listing with its resolved image URL.
type listingResponse struct {
	models.Listing
	ImageURL string `json:"image_url,omitempty"`
}

func (h *ListingHandler) render(listing models.Listing) listingResponse {
	resp := listingResponse{Listing: listing}
	if listing.Image != "" && h.storageService != nil {
		resp.ImageURL = h.storageService.PublicURL(listing.Image)
	}
	return resp
}

func (h *ListingHandler) renderAll(listings []models.Listing) []listingResponse {
	out := make([]listingResponse, 0, len(listings))
	for _, l := range listings {
		out = append(out, h.render(l))
	}
	return out
}

// Create handles POST /api/listings. Accepts multipart form data with url,
// price, description and an optional image file. The raw image is stored
// immediately; normalization happens in the image worker, so the listing
// appears without an image until processing completes.
func (h *ListingHandler) Create(c *gin.Context) {
	userID := middleware.UserID(c)

	url := c.PostForm("url")
	description := c.PostForm("description")
	price, err := strconv.ParseFloat(c.PostForm("price"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "price: must be a number"})
		return
	}

	listing, err := h.listingService.Create(c.Request.Context(), userID, url, price, description)
	if err != nil {
		if services.IsValidationError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create listing"})
		return
	}

	if fileHeader, err := c.FormFile("image"); err == nil && h.storageService != nil && h.taskClient != nil {
		h.uploadImage(c, listing.ID, userID, fileHeader)
	}

	if h.notifier != nil {
		h.notifier.NotifyAdmins("New listing: " + listing.URL)
	}

	c.JSON(http.StatusCreated, h.render(*listing))
}

// uploadImage stores the raw upload and enqueues normalization. Upload
// problems are logged but never fail the listing creation.
func (h *ListingHandler) uploadImage(c *gin.Context, listingID, userID primitive.ObjectID, fileHeader *multipart.FileHeader) {
	maxBytes := int64(h.cfg.ImageMaxSizeMB) * 1024 * 1024
	if fileHeader.Size > maxBytes {
		log.Printf("Rejecting oversized image upload (%d bytes) for listing %s", fileHeader.Size, listingID.Hex())
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		log.Printf("Failed to open uploaded image for listing %s: %v", listingID.Hex(), err)
		return
	}
	defer file.Close()

	body, err := io.ReadAll(io.LimitReader(file, maxBytes))
	if err != nil {
		log.Printf("Failed to read uploaded image for listing %s: %v", listingID.Hex(), err)
		return
	}

	contentType := fileHeader.Header.Get("Content-Type")
	key, err := h.storageService.Upload(c.Request.Context(), userID.Hex(), fileHeader.Filename, contentType, body)
	if err != nil {
		log.Printf("Failed to store uploaded image for listing %s: %v", listingID.Hex(), err)
		return
	}

	task, err := tasks.NewImageProcessTask(key, listingID)
	if err != nil {
		log.Printf("Failed to build image task for listing %s: %v", listingID.Hex(), err)
		return
	}
	if _, err := h.taskClient.EnqueueContext(c.Request.Context(), task); err != nil {
		log.Printf("Failed to enqueue image task for listing %s: %v", listingID.Hex(), err)
	}
}

// Search handles GET /api/listings.
func (h *ListingHandler) Search(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	minRating, _ := strconv.ParseFloat(c.Query("minRating"), 64)

	params := services.SearchParams{
		Query:     c.Query("q"),
		MinRating: minRating,
		Sort:      c.Query("sort"),
		Page:      page,
		Limit:     limit,
	}

	listings, total, err := h.listingService.Search(c.Request.Context(), params)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to search listings"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"listings": h.renderAll(listings),
		"total":    total,
	})
}

// TopRated handles GET /api/listings/top.
func (h *ListingHandler) TopRated(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	listings, err := h.listingService.TopRated(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch top rated listings"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": h.renderAll(listings)})
}

// Get handles GET /api/listings/:id.
func (h *ListingHandler) Get(c *gin.Context) {
	listingID, ok := parseObjectID(c, "id")
	if !ok {
		return
	}

	listing, err := h.listingService.FindByID(c.Request.Context(), listingID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch listing"})
		return
	}
	c.JSON(http.StatusOK, h.render(*listing))
}

// RecordView handles POST /api/listings/:id/view.
func (h *ListingHandler) RecordView(c *gin.Context) {
	listingID, ok := parseObjectID(c, "id")
	if !ok {
		return
	}

	views, err := h.listingService.RecordView(c.Request.Context(), listingID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record view"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"views": views})
}

// parseObjectID pulls an ObjectID path parameter, answering 400 on garbage.
func parseObjectID(c *gin.Context, param string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param(param))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + param})
		return primitive.NilObjectID, false
	}
	return id, true
}
