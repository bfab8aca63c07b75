package credits

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps balances in the profiles table.
type PostgresStore struct {
	pool            *pgxpool.Pool
	startingCredits int
}

// NewPostgresStore wraps an already connected pool.
func NewPostgresStore(pool *pgxpool.Pool, startingCredits int) *PostgresStore {
	return &PostgresStore{pool: pool, startingCredits: startingCredits}
}

func (s *PostgresStore) ensureProfile(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO profiles (id, credits) VALUES ($1, $2)
		 ON CONFLICT (id) DO NOTHING`,
		userID, s.startingCredits)
	if err != nil {
		return fmt.Errorf("ensure profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) Balance(ctx context.Context, userID string) (int, error) {
	if err := s.ensureProfile(ctx, userID); err != nil {
		return 0, err
	}
	var balance int
	err := s.pool.QueryRow(ctx,
		`SELECT credits FROM profiles WHERE id = $1`, userID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return balance, nil
}

func (s *PostgresStore) Debit(ctx context.Context, userID string, cost int) (int, error) {
	if cost < 0 {
		return 0, fmt.Errorf("debit: negative cost %d", cost)
	}
	if err := s.ensureProfile(ctx, userID); err != nil {
		return 0, err
	}
	var remaining int
	err := s.pool.QueryRow(ctx,
		`UPDATE profiles
		 SET credits = credits - $2, updated_at = now()
		 WHERE id = $1 AND credits >= $2
		 RETURNING credits`,
		userID, cost).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrInsufficientCredits
	}
	if err != nil {
		return 0, fmt.Errorf("debit: %w", err)
	}
	return remaining, nil
}

func (s *PostgresStore) Credit(ctx context.Context, userID string, amount int) (int, error) {
	if amount < 0 {
		return 0, fmt.Errorf("credit: negative amount %d", amount)
	}
	var balance int
	err := s.pool.QueryRow(ctx,
		`INSERT INTO profiles (id, credits) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE
		 SET credits = profiles.credits + $3, updated_at = now()
		 RETURNING credits`,
		userID, s.startingCredits+amount, amount).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("credit: %w", err)
	}
	return balance, nil
}

func (s *PostgresStore) Close() {}
