package main

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"plushify_back/authorization"
	"plushify_back/credits"
	"plushify_back/plush"
)

func mustLoadEnv() {
	_ = godotenv.Load()
}

func corsConfigFromEnv() cors.Config {
	config := cors.DefaultConfig()
	config.AllowHeaders = append(config.AllowHeaders, "Authorization")
	config.AllowCredentials = true
	config.MaxAge = 12 * time.Hour

	origins := strings.TrimSpace(os.Getenv("CORS_ALLOW_ORIGINS"))
	if origins == "" {
		config.AllowAllOrigins = true
		config.AllowCredentials = false
		return config
	}

	for _, origin := range strings.Split(origins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			config.AllowOrigins = append(config.AllowOrigins, trimmed)
		}
	}
	return config
}

func main() {
	mustLoadEnv()

	r := gin.Default()
	r.Use(cors.New(corsConfigFromEnv()))

	authModule, err := authorization.RegisterRoutes(r)
	if err != nil {
		log.Fatalf("register auth routes: %v", err)
	}

	guard := authModule.Guard()

	if _, err := credits.RegisterRoutes(r, guard); err != nil {
		log.Fatalf("register credit routes: %v", err)
	}

	if _, err := plush.RegisterRoutes(r, guard); err != nil {
		log.Fatalf("start plush module: %v", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	if err := r.Run(":" + port); err != nil {
		log.Fatalf("start server: %v", err)
	}
}
