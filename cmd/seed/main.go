package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"daraja-payments/internal/config"
	"daraja-payments/internal/domain"
	"daraja-payments/internal/domain/model"
	"daraja-payments/internal/domain/ports/repository"
	pg "daraja-payments/internal/infra/db/postgres"
	"daraja-payments/internal/infra/web"
)

// seed creates an organization for a user (if missing) and prints a bearer
// token for that user, so the API can be exercised locally.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	userID := flag.String("user", "dev-user-1", "owner user id")
	email := flag.String("email", "owner@example.org", "owner email")
	name := flag.String("name", "Demo Organization", "organization name")
	tier := flag.String("tier", string(model.TierBasicFree), "starting tier")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	startTier, err := model.ParseTier(*tier)
	if err != nil {
		log.Fatal().Err(err).Msg("tier")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 2)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	orgs := pg.NewOrganizationRepo(pool)
	org, err := orgs.FindByOwner(ctx, repository.NoTX, *userID)
	switch {
	case err == nil:
		fmt.Printf("organization already present: %s (%s, tier=%s)\n", org.Name, org.ID, org.Tier)
	case errors.Is(err, domain.ErrOrganizationNotFound):
		now := time.Now().UTC()
		org = &model.Organization{
			ID:          uuid.NewString(),
			Name:        *name,
			OwnerUserID: *userID,
			Email:       *email,
			Tier:        startTier,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := orgs.Save(ctx, repository.NoTX, org); err != nil {
			log.Fatal().Err(err).Msg("save organization")
		}
		fmt.Printf("seeded: %s (%s, tier=%s)\n", org.Name, org.ID, org.Tier)
	default:
		log.Fatal().Err(err).Msg("find organization")
	}

	tok, err := web.NewAuthManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL).Mint(model.Identity{
		UserID: *userID,
		Email:  *email,
		Role:   "ORG_ADMIN",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("mint token")
	}
	fmt.Printf("token (valid %s):\n%s\n", cfg.Auth.TokenTTL, tok)
}
