package main

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"bookshare/pkg/auth"
	"bookshare/pkg/database"
	"bookshare/pkg/inventory"
	"bookshare/pkg/ledger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

var (
	db    *gorm.DB
	books *inventory.Tracker
	loans *ledger.Service
)

func main() {
	log.Println("Starting bookshare service...")
	database.LoadEnv()

	secret := database.GetEnv("JWT_SECRET", "")
	if secret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	conn, err := database.Open(database.ConfigFromEnv())
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	initServices(conn)

	if database.GetEnv("SEED_DATA", "false") == "true" {
		if _, err := books.Seed(context.Background()); err != nil {
			log.Printf("Failed to seed demo data: %v", err)
		}
	}

	server := setupRouter([]byte(secret), splitOrigins(database.GetEnv("CORS_ORIGINS", "")))

	port := database.GetEnv("PORT", "8080")
	log.Printf("Bookshare service starting on :%s", port)
	if err := server.Run(":" + port); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func initServices(conn *gorm.DB) {
	db = conn
	runner := database.NewTxRunner(conn)
	books = inventory.NewTracker(runner)
	loans = ledger.NewService(runner, books)
}

func setupRouter(secret []byte, origins []string) *gin.Engine {
	server := gin.Default()
	if len(origins) > 0 {
		server.Use(cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	server.GET("/manage/health", healthCheck)

	api := server.Group("/api/v1", auth.RequireAuth(secret))
	api.POST("/loans", borrowBook)
	api.GET("/loans", listLoans)
	api.GET("/loans/:transactionUid", getLoan)
	api.POST("/loans/:transactionUid/return", returnBook)

	api.POST("/books", registerBook)
	api.GET("/books/:bookUid", getBook)
	api.PATCH("/books/:bookUid/copies", resizeBook)
	api.DELETE("/books/:bookUid", retireBook)

	return server
}

func splitOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func healthCheck(ctx *gin.Context) {
	sqlDB, err := db.DB()
	if err != nil {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "DOWN",
			"details": "Database connection failed",
		})
		return
	}
	if err := sqlDB.PingContext(ctx.Request.Context()); err != nil {
		log.Printf("Health check ping failed: %v", err)
		ctx.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "DOWN",
			"details": "Database ping failed",
		})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "UP"})
}
