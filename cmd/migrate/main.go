// Migration CLI for the submissions table.
//
// Usage:
//
//	go run cmd/migrate/main.go up        # Apply all pending migrations
//	go run cmd/migrate/main.go down      # Rollback last migration
//	go run cmd/migrate/main.go version   # Show current migration version
//	go run cmd/migrate/main.go force N   # Force version to N (fix dirty state)
package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../.env"); err != nil {
			log.Println("No .env file found, using environment variables")
		}
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	migrationsPath := os.Getenv("MIGRATIONS_PATH")
	if migrationsPath == "" {
		migrationsPath = "migrations"
	}

	m, err := migrate.New("file://"+migrationsPath, dbURL)
	if err != nil {
		log.Fatalf("migration setup failed: %v", err)
	}
	defer m.Close()

	switch os.Args[1] {
	case "up":
		run(m.Up(), "migrations applied")
	case "down":
		run(m.Steps(-1), "rolled back one migration")
	case "version":
		version, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			log.Fatalf("version check failed: %v", err)
		}
		log.Printf("version=%d dirty=%v", version, dirty)
	case "force":
		if len(os.Args) < 3 {
			log.Fatal("force requires a version number")
		}
		v, err := strconv.Atoi(os.Args[2])
		if err != nil {
			log.Fatalf("invalid version %q: %v", os.Args[2], err)
		}
		run(m.Force(v), fmt.Sprintf("forced version to %d", v))
	default:
		printUsage()
		os.Exit(1)
	}
}

func run(err error, success string) {
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("migration failed: %v", err)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		log.Println("no change")
		return
	}
	log.Println(success)
}

func printUsage() {
	fmt.Println("usage: migrate <up|down|version|force N>")
}
