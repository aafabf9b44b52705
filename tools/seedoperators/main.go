// tools/seedoperators/main.go
//
// Provisions operator accounts before an event. Reads a comma-separated
// list of operator names, derives an email per name, and inserts any
// account that does not exist yet. Existing accounts are left untouched.
//
// Usage:
//
//	OPERATOR_NAMES=ravi,mira OPERATOR_PASSWORD=changeme go run ./tools/seedoperators
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/cybercatalyst/escape-services/shared/auth"
	"github.com/cybercatalyst/escape-services/shared/config"
	"github.com/cybercatalyst/escape-services/shared/models"
	mongodbu "github.com/cybercatalyst/escape-services/shared/mongodb"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func main() {
	domain := flag.String("domain", "escape.local", "email domain for derived operator addresses")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("INFO: No .env file found, reading configuration from the environment.")
	}
	cfg, err := config.LoadSessionServiceConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	names := strings.Split(os.Getenv("OPERATOR_NAMES"), ",")
	password := os.Getenv("OPERATOR_PASSWORD")
	if len(names) == 0 || names[0] == "" {
		log.Fatal("OPERATOR_NAMES must be a comma-separated list of operator names")
	}
	if password == "" {
		log.Fatal("OPERATOR_PASSWORD must be set")
	}

	mongoClient, err := mongodbu.NewClient(cfg.MongoDBConnStr, cfg.MongoDBDatabase)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer func() {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			log.Printf("WARN: Failed to disconnect from MongoDB: %v", err)
		}
	}()

	hash, err := auth.HashPassword(password)
	if err != nil {
		log.Fatalf("Failed to hash operator password: %v", err)
	}

	collection := mongoClient.Collection(cfg.MongoDBSessionsCollection)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	created := 0
	for _, name := range names {
		name = strings.TrimSpace(strings.ToLower(name))
		if name == "" {
			continue
		}
		email := fmt.Sprintf("%s@%s", name, *domain)

		err := collection.FindOne(ctx, bson.M{"email": email}).Err()
		if err == nil {
			log.Printf("Operator %s already exists. Skipping.", email)
			continue
		}
		if err != mongo.ErrNoDocuments {
			log.Fatalf("Failed to check for operator %s: %v", email, err)
		}

		now := time.Now().UTC()
		sess := &models.TeamSession{
			ID:              uuid.New().String(),
			Email:           email,
			DisplayName:     name,
			PasswordHash:    hash,
			Role:            models.RoleOperator,
			CurrentLevel:    1,
			CompletedLevels: []int{},
			CreatedAt:       &now,
		}
		if _, err := collection.InsertOne(ctx, sess); err != nil {
			log.Fatalf("Failed to create operator %s: %v", email, err)
		}
		log.Printf("Operator created: %s", email)
		created++
	}

	log.Printf("Operator seeding completed (%d created).", created)
}
