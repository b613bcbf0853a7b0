package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/PNeves10/aiquira-mvp/internal/api/handlers"
	"github.com/PNeves10/aiquira-mvp/internal/api/middleware"
	"github.com/PNeves10/aiquira-mvp/internal/captcha"
	"github.com/PNeves10/aiquira-mvp/internal/config"
	"github.com/PNeves10/aiquira-mvp/internal/payment"
	"github.com/PNeves10/aiquira-mvp/internal/realtime"
	"github.com/PNeves10/aiquira-mvp/internal/services"
	"github.com/PNeves10/aiquira-mvp/internal/storage"
)

// SetupRouter configures and returns the main Gin engine.
func SetupRouter(cfg *config.Config, db *mongo.Database, taskClient services.TaskEnqueuer, hub *realtime.Hub) *gin.Engine {
	// Initialize services needed by API handlers
	userService := services.NewUserService(db)
	listingService := services.NewListingService(db, cfg)
	reviewService := services.NewReviewService(db)

	checkoutProvider := payment.NewHostedProvider(payment.Config{
		BaseURL:       cfg.PaymentAPIBaseURL,
		APIKey:        cfg.PaymentAPIKey,
		WebhookSecret: cfg.PaymentWebhookSecret,
		SuccessURL:    cfg.CheckoutSuccessURL,
		CancelURL:     cfg.CheckoutCancelURL,
	})
	transactionService := services.NewTransactionService(db, cfg, checkoutProvider, listingService, taskClient)

	s3StorageService, err := storage.NewS3Storage(cfg)
	if err != nil {
		log.Fatalf("CRITICAL: Failed to initialize S3 storage for API: %v", err)
	}

	captchaVerifier := captcha.NewRecaptchaVerifier(cfg)

	r := gin.Default()

	// Apply global middleware first (order matters)
	rateLimiter := middleware.NewRateLimiterMiddleware(cfg)
	r.Use(middleware.CORSMiddleware())
	r.Use(rateLimiter.Limit())

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(cfg, userService, captchaVerifier, taskClient, hub)
	listingHandler := handlers.NewListingHandler(cfg, listingService, s3StorageService, taskClient, hub)
	reviewHandler := handlers.NewReviewHandler(reviewService)
	favoritesHandler := handlers.NewFavoritesHandler(userService)
	checkoutHandler := handlers.NewCheckoutHandler(transactionService, checkoutProvider)
	adminHandler := handlers.NewAdminHandler(userService, listingService)

	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	// Chat and notifications share one socket per client.
	r.GET("/ws", func(c *gin.Context) {
		realtime.ServeWS(hub, c.Writer, c.Request)
	})

	apiGroup := r.Group("/api")
	{
		// Credential endpoints carry the stricter bucket on top of the
		// global one.
		apiGroup.POST("/register", rateLimiter.LimitStrict(), authHandler.Register)
		apiGroup.POST("/login", rateLimiter.LimitStrict(), authHandler.Login)

		// Public listing routes
		apiGroup.GET("/listings", listingHandler.Search)
		apiGroup.GET("/listings/top", listingHandler.TopRated)
		apiGroup.GET("/listings/:id", listingHandler.Get)
		apiGroup.POST("/listings/:id/view", listingHandler.RecordView)
		apiGroup.GET("/listings/:id/reviews", reviewHandler.List)

		// Payment provider webhook: authenticated by signature, not JWT.
		apiGroup.POST("/webhook", checkoutHandler.Webhook)

		authRequired := apiGroup.Group("/")
		authRequired.Use(middleware.AuthMiddleware(cfg.JwtSecret))
		{
			authRequired.GET("/validate-token", authHandler.ValidateToken)
			authRequired.POST("/listings", listingHandler.Create)
			authRequired.POST("/listings/:id/review", reviewHandler.Submit)
			authRequired.POST("/listings/:id/respond", reviewHandler.Respond)
			authRequired.GET("/favorites", favoritesHandler.List)
			authRequired.POST("/favorites", favoritesHandler.Toggle)
			authRequired.POST("/checkout", checkoutHandler.Checkout)
			authRequired.POST("/confirm-payment", checkoutHandler.ConfirmPayment)
			authRequired.GET("/transactions", checkoutHandler.Transactions)
		}

		adminRequired := apiGroup.Group("/admin")
		adminRequired.Use(middleware.AuthMiddleware(cfg.JwtSecret), middleware.AdminMiddleware(userService))
		{
			adminRequired.GET("/users", adminHandler.ListUsers)
			adminRequired.POST("/users/promote", adminHandler.PromoteUser)
			adminRequired.DELETE("/users/:id", adminHandler.DeleteUser)
			adminRequired.DELETE("/listings/:id", adminHandler.DeleteListing)
		}
	}

	return r
}
