package main

import (
	"context"
	"errors"
	"time"

	"github.com/arka-squad/arka-labs-sub000/internal/config"
	"github.com/arka-squad/arka-labs-sub000/internal/store"
	"github.com/arka-squad/arka-labs-sub000/pkg/models"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// opsStore is the slice of the Postgres store the database-backed commands need.
type opsStore interface {
	ListAPIKeys(ctx context.Context, subject string) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, subject string) error
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]models.Job, error)
}

// openStore is swapped out in tests.
var openStore = func(ctx context.Context, url string) (opsStore, func(), error) {
	pool, err := store.Connect(ctx, config.DatabaseConfig{URL: url, ConnMaxLifetime: time.Hour})
	if err != nil {
		return nil, nil, err
	}
	return store.NewPostgresStore(pool), pool.Close, nil
}

func withStore(cmd *cobra.Command, v *viper.Viper, fn func(ctx context.Context, ks opsStore) error) error {
	url := v.GetString("database-url")
	if url == "" {
		return errors.New("--database-url (or SQUADCTL_DATABASE_URL) is required")
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ks, closeFn, err := openStore(ctx, url)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, ks)
}
