package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/DinerGo/pkg/database"
)

const selectAddressSQL = `SELECT COALESCE(delivery_address, '') FROM user_profiles WHERE user_id = $1`

const upsertAddressSQL = `
	INSERT INTO user_profiles (user_id, delivery_address)
	VALUES ($1, $2)
	ON CONFLICT (user_id) DO UPDATE
	SET delivery_address = EXCLUDED.delivery_address, updated_at = NOW()`

// ProfileRepository reads and writes saved delivery addresses.
type ProfileRepository struct {
	pool database.DBTX
}

func NewProfileRepository(pool database.DBTX) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

// DeliveryAddress returns the user's saved address, or "" if they have no profile.
func (r *ProfileRepository) DeliveryAddress(ctx context.Context, userID string) (addr string, err error) {
	ctx, end := database.TraceQuery(ctx, "GetDeliveryAddress", selectAddressSQL)
	defer func() { end(err) }()

	err = r.pool.QueryRow(ctx, selectAddressSQL, userID).Scan(&addr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("select delivery address: %w", err)
	}
	return addr, nil
}

// SaveDeliveryAddress upserts the user's profile with address.
func (r *ProfileRepository) SaveDeliveryAddress(ctx context.Context, userID, address string) (err error) {
	ctx, end := database.TraceQuery(ctx, "SaveDeliveryAddress", upsertAddressSQL)
	defer func() { end(err) }()

	if _, err = r.pool.Exec(ctx, upsertAddressSQL, userID, address); err != nil {
		return fmt.Errorf("upsert delivery address: %w", err)
	}
	return nil
}
