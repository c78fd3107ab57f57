package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"daraja-payments/internal/config"
	"daraja-payments/internal/domain/model"
	"daraja-payments/internal/domain/ports/repository"
	"daraja-payments/internal/infra/db/postgres"
	"daraja-payments/internal/infra/redis"
	"daraja-payments/internal/infra/web"
)

// fixtures are the organizations manual end-to-end runs start from.
var fixtures = []struct {
	user  string
	email string
	name  string
	tier  model.Tier
}{
	{"e2e-free", "free@e2e.test", "Free Listing Ltd", model.TierBasicFree},
	{"e2e-assessed", "assessed@e2e.test", "Assessed Traders", model.TierSelfAssessment},
	{"e2e-verified", "verified@e2e.test", "Verified Holdings", model.TierDarajaVerified},
}

// This script resets the database and redis to a predictable state for
// manual end-to-end testing.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	ctx := context.Background()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatal().Err(err).Msg("config load")
	}

	pool, err := postgres.NewPgxPool(ctx, cfg.Database.URL, 5)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection failed")
	}
	defer pool.Close()

	redisClient, err := redis.NewClient(ctx, &cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection failed")
	}
	defer redisClient.Close()

	log.Info().Msg("[1/3] wiping redis (tokens, locks, rate limits, caches)")
	if err := redisClient.FlushDB(ctx); err != nil {
		log.Fatal().Err(err).Msg("flush redis")
	}

	log.Info().Msg("[2/3] wiping payment data")
	if _, err := pool.Exec(ctx, `TRUNCATE organizations, payments, event_outbox RESTART IDENTITY CASCADE`); err != nil {
		log.Fatal().Err(err).Msg("truncate tables")
	}

	log.Info().Msg("[3/3] seeding organizations")
	orgs := postgres.NewOrganizationRepo(pool)
	auth := web.NewAuthManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	now := time.Now().UTC()
	for _, f := range fixtures {
		org := &model.Organization{
			ID:          uuid.NewString(),
			Name:        f.name,
			OwnerUserID: f.user,
			Email:       f.email,
			Tier:        f.tier,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := orgs.Save(ctx, repository.NoTX, org); err != nil {
			log.Fatal().Err(err).Str("user", f.user).Msg("save organization")
		}
		tok, err := auth.Mint(model.Identity{UserID: f.user, Email: f.email, Role: "ORG_ADMIN"})
		if err != nil {
			log.Fatal().Err(err).Msg("mint token")
		}
		fmt.Printf("%-14s %-18s %s\n  %s\n", f.user, f.tier, org.ID, tok)
	}
	log.Info().Msg("e2e environment ready")
}
