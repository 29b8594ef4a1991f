package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/parityleague/backend/internal/config"
	"github.com/parityleague/backend/internal/dashboard"
	"github.com/parityleague/backend/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()
	store := storage.New(cfg.DataDir)

	username := os.Getenv("ADMIN_USERNAME")
	if username == "" {
		username = "admin"
		log.Printf("Using default admin username: %s", username)
	}
	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" {
		password = "change-me-in-production"
		log.Printf("WARNING: Using default admin password. Set ADMIN_PASSWORD env var in production!")
	}
	displayName := os.Getenv("ADMIN_DISPLAY_NAME")
	if displayName == "" {
		displayName = "Admin"
	}

	if err := dashboard.SaveAdmin(store, username, displayName, password); err != nil {
		log.Fatalf("Failed to seed admin account: %v", err)
	}

	log.Printf("Admin account created/updated successfully")
	log.Printf("  Username: %s", username)
	log.Printf("  Display Name: %s", displayName)
	log.Printf("Login at the dashboard with these credentials.")
}
