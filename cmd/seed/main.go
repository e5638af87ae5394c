package main

import (
	"context"
	"errors"
	"os"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/discbound/recovery/internal/db"
	"github.com/discbound/recovery/internal/logger"
	"github.com/discbound/recovery/internal/repository"
	"github.com/discbound/recovery/internal/repository/postgresql"
)

// Provisions an account (and optionally one disc) from the environment.
// Meant for local setups and fresh deployments; production accounts come
// from the identity provider.
func main() {
	ctx := context.Background()

	log := logger.New()
	defer func() {
		_ = log.Sync()
	}()

	database, err := db.NewDb(ctx)
	if err != nil {
		log.Fatal("database init failed", zap.Error(err))
	}
	defer database.GetPool().Close()

	users := postgresql.NewUserRepo(database)
	discs := postgresql.NewDiscRepo(database)

	username := os.Getenv("SEED_USERNAME")
	password := os.Getenv("SEED_PASSWORD")
	if username == "" || password == "" {
		log.Fatal("SEED_USERNAME and SEED_PASSWORD are required")
	}

	ok, err := users.ValidateUser(ctx, username, password)
	if err != nil {
		log.Fatal("failed to check existing account", zap.Error(err))
	}
	if ok {
		log.Info("account already provisioned", zap.String("username", username))
	} else {
		var handle *string
		if v := os.Getenv("SEED_VENMO_HANDLE"); v != "" {
			handle = &v
		}
		payable, _ := strconv.ParseBool(os.Getenv("SEED_PAYMENT_CAPABLE"))
		token := os.Getenv("SEED_TOKEN")
		if token == "" {
			token = uuid.NewString()
		}

		user := &repository.User{
			ID:             uuid.NewString(),
			Username:       username,
			Token:          token,
			VenmoHandle:    handle,
			PaymentCapable: payable,
		}
		if err := users.Create(ctx, user, password); err != nil {
			log.Fatal("failed to create account; it may already exist with a different password",
				zap.String("username", username),
				zap.Error(err))
		}
		log.Info("account created",
			zap.String("username", username),
			zap.String("user_id", user.ID),
			zap.String("token", token))

		if discID := os.Getenv("SEED_DISC_ID"); discID != "" {
			_, err := discs.GetByID(ctx, discID)
			switch {
			case err == nil:
				log.Info("disc already registered", zap.String("disc_id", discID))
			case errors.Is(err, repository.ErrObjectNotFound):
				reward, _ := strconv.Atoi(os.Getenv("SEED_DISC_REWARD"))
				disc := &repository.Disc{
					ID:           discID,
					OwnerID:      user.ID,
					Name:         os.Getenv("SEED_DISC_NAME"),
					Mold:         os.Getenv("SEED_DISC_MOLD"),
					Color:        os.Getenv("SEED_DISC_COLOR"),
					RewardAmount: reward,
				}
				if err := discs.Create(ctx, disc); err != nil {
					log.Fatal("failed to register disc", zap.Error(err))
				}
				log.Info("disc registered", zap.String("disc_id", discID))
			default:
				log.Fatal("failed to check existing disc", zap.Error(err))
			}
		}
	}
}
