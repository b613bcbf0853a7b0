package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/PNeves10/aiquira-mvp/internal/auth"
	"github.com/PNeves10/aiquira-mvp/internal/models"
	"github.com/PNeves10/aiquira-mvp/internal/services"
)

const (
	// ContextKeyUserID holds the authenticated user's ObjectID in Gin context.
	ContextKeyUserID = "userID"
	// ContextKeyClaims holds the full JWT claims.
	ContextKeyClaims = "claims"
)

// AuthMiddleware creates a Gin middleware for JWT authentication. Expired
// tokens get a distinct message so clients know to re-login rather than
// treat it as a hard failure.
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header format must be Bearer {token}"})
			return
		}

		claims, err := auth.ValidateJWT(parts[1], jwtSecret)
		if err != nil {
			if errors.Is(err, auth.ErrTokenExpired) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token expired"})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		userID, err := primitive.ObjectIDFromHex(claims.UserID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Set(ContextKeyUserID, userID)
		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// AdminMiddleware checks admin privileges against the user store rather than
// trusting the token's role claim, so a demotion takes effect before the
// token expires. Assumes AuthMiddleware runs first.
func AdminMiddleware(userService services.IUserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := c.Get(ContextKeyUserID)
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		user, err := userService.FindByID(c.Request.Context(), userID.(primitive.ObjectID))
		if err != nil || user.Role != models.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Administrator privileges required"})
			return
		}
		c.Next()
	}
}

// UserID returns the authenticated user's ID from the Gin context.
func UserID(c *gin.Context) primitive.ObjectID {
	return c.MustGet(ContextKeyUserID).(primitive.ObjectID)
}

// Claims returns the JWT claims from the Gin context.
func Claims(c *gin.Context) *auth.Claims {
	return c.MustGet(ContextKeyClaims).(*auth.Claims)
}
