package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/omriozer/ludora-checkout/internal/handlers"
	authMiddleware "github.com/omriozer/ludora-checkout/internal/middleware"
	"github.com/omriozer/ludora-checkout/internal/services"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}

	// Initialize Firebase
	credPath := os.Getenv("FIREBASE_CREDENTIALS_PATH")
	authClient, err := services.InitFirebase(credPath)
	if err != nil {
		log.Printf("Warning: Firebase initialization failed: %v", err)
		log.Println("Auth features will not work until valid credentials are provided")
	}

	// Initialize Database
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}
	db, err := services.InitDB(databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := services.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	// Initialize Redis (optional; caching and checkout locking degrade without it)
	var cache *services.RedisCache
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cache, err = services.NewRedisCache(redisURL)
		if err != nil {
			log.Printf("Warning: Redis initialization failed: %v", err)
			cache = nil
		} else {
			defer cache.Close()
		}
	} else {
		log.Println("Warning: REDIS_URL not set, caching disabled")
	}

	// Initialize services
	purchaseCfg := services.PurchaseConfigFromEnv()
	queryService := services.NewPurchaseQueryService(db, purchaseCfg.StalePaymentWindow)
	purchaseService := services.NewPurchaseService(db, queryService, purchaseCfg)
	productService := services.NewProductService(db, cache)
	gateway := services.NewMidtransService()
	webhook := services.NewOpsWebhookService()
	checkoutService := services.NewCheckoutService(db, gateway, cache, webhook)

	// Create Echo instance
	e := echo.New()
	e.HTTPErrorHandler = authMiddleware.CustomErrorHandler

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authClient, db)
	cartHandler := handlers.NewCartHandler(queryService, purchaseService)
	checkoutHandler := handlers.NewCheckoutHandler(checkoutService)
	productHandler := handlers.NewProductHandler(productService)
	userHandler := handlers.NewUserHandler(db)

	// Public routes
	e.POST("/auth/login", authHandler.HandleLogin)
	e.POST("/auth/logout", authHandler.HandleLogout)
	e.GET("/api/products", productHandler.HandleListProducts)
	e.GET("/api/products/resolve", productHandler.HandleResolveProduct)
	// Gateway notifications carry their own signature instead of a session
	e.POST("/api/payments/callback", checkoutHandler.HandleGatewayCallback)

	// Protected routes
	protected := e.Group("/api")
	protected.Use(authMiddleware.RequireAuth(authClient, db))
	protected.GET("/me", authHandler.HandleMe)

	protected.GET("/cart", cartHandler.HandleGetCart)
	protected.POST("/cart", cartHandler.HandleAddToCart)
	protected.DELETE("/cart", cartHandler.HandleClearCart)
	protected.GET("/cart/pending", cartHandler.HandleGetPending)
	protected.DELETE("/cart/pending", cartHandler.HandleClearPending)

	protected.GET("/purchases", cartHandler.HandleListPurchases)
	protected.GET("/purchases/check", cartHandler.HandleCheckOwnership)
	protected.POST("/purchases/free", cartHandler.HandleFreeGrant)

	protected.POST("/checkout", checkoutHandler.HandleInitiateCheckout)

	// Admin routes
	admin := protected.Group("/admin")
	admin.Use(authMiddleware.RequireAdmin())
	admin.POST("/products", productHandler.HandleUpsertProduct)
	admin.POST("/purchases/:id/refund", checkoutHandler.HandleRefund)
	admin.GET("/users", userHandler.HandleListUsers)
	admin.POST("/users/:id/role", userHandler.HandleSetUserRole)

	// Start server
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Server starting on port %s", port)
	e.Logger.Fatal(e.Start(":" + port))
}
