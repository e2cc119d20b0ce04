package main

import (
	"context"
	"fmt"
	"time"

	"github.com/mansoorceksport/storefront/internal/config"
	"github.com/mansoorceksport/storefront/internal/domain"
	"github.com/mansoorceksport/storefront/internal/repository"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoDB.URI))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Mongo")
	}
	defer client.Disconnect(context.Background())

	repo := repository.NewMongoProductRepository(client.Database(cfg.MongoDB.Database))

	// Prices are in the gateway currency unit
	products := []domain.Product{
		{ID: 1, Name: "Cotton T-Shirt", Price: 450000, Count: 40, Enabled: true},
		{ID: 2, Name: "Baseball Cap", Price: 280000, Discount: 20, Count: 25, Enabled: true},
		{ID: 3, Name: "Canvas Tote Bag", Price: 190000, Count: 60, Enabled: true},
		{ID: 4, Name: "Hooded Sweatshirt", Price: 1250000, Discount: 10, Count: 15, Enabled: true},
		{ID: 5, Name: "Ceramic Mug", Price: 150000, Count: 80, Enabled: true},
		{ID: 6, Name: "Wool Scarf", Price: 620000, Discount: 35, Count: 8, Enabled: true},
		{ID: 7, Name: "Leather Wallet", Price: 890000, Count: 0, Enabled: true},
		{ID: 8, Name: "Sticker Pack", Price: 45000, Count: 300, Enabled: true},
		{ID: 9, Name: "Limited Poster", Price: 350000, Count: 5, Enabled: false},
	}

	for i := range products {
		if err := repo.Upsert(ctx, &products[i]); err != nil {
			log.Error().Err(err).Str("name", products[i].Name).Msg("failed to upsert product")
			continue
		}
		fmt.Printf("Upserted: %d %s\n", products[i].ID, products[i].Name)
	}
	fmt.Println("Seeding Products Complete.")
}
