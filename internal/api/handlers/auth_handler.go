package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/PNeves10/aiquira-mvp/internal/api/middleware"
	"github.com/PNeves10/aiquira-mvp/internal/auth"
	"github.com/PNeves10/aiquira-mvp/internal/captcha"
	"github.com/PNeves10/aiquira-mvp/internal/config"
	"github.com/PNeves10/aiquira-mvp/internal/models"
	"github.com/PNeves10/aiquira-mvp/internal/services"
	"github.com/PNeves10/aiquira-mvp/internal/tasks"
)

// Notifier is the slice of the realtime hub handlers use for admin
// notifications.
type Notifier interface {
	NotifyAdmins(text string)
}

// AuthHandler handles registration, login and token validation.
type AuthHandler struct {
	cfg             *config.Config
	userService     services.IUserService
	captchaVerifier captcha.IVerifier
	taskClient      services.TaskEnqueuer
	notifier        Notifier
}

// NewAuthHandler creates a new AuthHandler. taskClient and notifier may be
// nil in tests.
func NewAuthHandler(cfg *config.Config, userService services.IUserService, captchaVerifier captcha.IVerifier, taskClient services.TaskEnqueuer, notifier Notifier) *AuthHandler {
	return &AuthHandler{
		cfg:             cfg,
		userService:     userService,
		captchaVerifier: captchaVerifier,
		taskClient:      taskClient,
		notifier:        notifier,
	}
}

type registerRequest struct {
	Username     string `json:"username"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	CaptchaToken string `json:"captchaToken"`
}

// Register handles POST /api/register.
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	ok, err := h.captchaVerifier.Verify(c.Request.Context(), req.CaptchaToken, c.ClientIP())
	if err != nil {
		log.Printf("Captcha verification error: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Captcha verification unavailable"})
		return
	}
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Captcha verification failed"})
		return
	}

	user, err := h.userService.Register(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		switch {
		case services.IsValidationError(err):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrUsernameExists), errors.Is(err, services.ErrEmailExists):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Registration failed"})
		}
		return
	}

	if h.taskClient != nil {
		if task, err := tasks.NewEmailDeliveryTask(user.Email, "welcome", map[string]interface{}{
			"username": user.Username,
		}); err == nil {
			if _, err := h.taskClient.EnqueueContext(c.Request.Context(), task); err != nil {
				log.Printf("Failed to enqueue welcome email for %s: %v", user.Email, err)
			}
		}
	}
	if h.notifier != nil {
		h.notifier.NotifyAdmins("New user registered: " + user.Username)
	}

	token, err := h.issueToken(user)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Registration failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"token": token, "user": user.Public()})
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// Login handles POST /api/login. Identifier is a username or an email.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Identifier == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	user, err := h.userService.Authenticate(c.Request.Context(), req.Identifier, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
		return
	}

	token, err := h.issueToken(user)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "user": user.Public()})
}

// ValidateToken handles GET /api/validate-token. AuthMiddleware has already
// vetted the token; this just reflects the claims back.
func (h *AuthHandler) ValidateToken(c *gin.Context) {
	claims := middleware.Claims(c)
	c.JSON(http.StatusOK, gin.H{
		"valid": true,
		"user": gin.H{
			"id":       claims.UserID,
			"username": claims.Username,
			"email":    claims.Email,
			"role":     claims.Role,
		},
	})
}

func (h *AuthHandler) issueToken(user *models.User) (string, error) {
	return auth.GenerateJWT(user.ID.Hex(), user.Username, user.Email, string(user.Role), h.cfg.JwtSecret, h.cfg.JwtTTL)
}
