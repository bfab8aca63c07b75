package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists payments. MarkApproved is the settlement guard: it
// flips a payment into approved at most once, so crediting can be tied
// to the transition instead of the webhook delivery count.
type Store interface {
	Insert(ctx context.Context, p Payment) error
	ByExternalID(ctx context.Context, externalID string) (Payment, error)
	// MarkApproved transitions the payment to approved and reports
	// whether this call performed the transition.
	MarkApproved(ctx context.Context, externalID string) (Payment, bool, error)
	// Reopen puts an approved payment back to pending so a failed
	// crediting attempt can be settled on the next delivery.
	Reopen(ctx context.Context, externalID string) error
}

// PostgresStore keeps payments in the payments table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Insert(ctx context.Context, p Payment) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO payments (id, external_id, user_id, credits, amount_brl, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.ExternalID, p.UserID, p.Credits, p.AmountBRL, p.Status, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ByExternalID(ctx context.Context, externalID string) (Payment, error) {
	var p Payment
	err := s.pool.QueryRow(ctx,
		`SELECT id, external_id, user_id, credits, amount_brl, status, created_at
		 FROM payments WHERE external_id = $1`, externalID).
		Scan(&p.ID, &p.ExternalID, &p.UserID, &p.Credits, &p.AmountBRL, &p.Status, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrPaymentNotFound
	}
	if err != nil {
		return Payment{}, fmt.Errorf("read payment: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) MarkApproved(ctx context.Context, externalID string) (Payment, bool, error) {
	var p Payment
	err := s.pool.QueryRow(ctx,
		`UPDATE payments
		 SET status = $2, updated_at = now()
		 WHERE external_id = $1 AND status <> $2
		 RETURNING id, external_id, user_id, credits, amount_brl, status, created_at`,
		externalID, StatusApproved).
		Scan(&p.ID, &p.ExternalID, &p.UserID, &p.Credits, &p.AmountBRL, &p.Status, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Already approved, or unknown.
		existing, lookupErr := s.ByExternalID(ctx, externalID)
		if lookupErr != nil {
			return Payment{}, false, lookupErr
		}
		return existing, false, nil
	}
	if err != nil {
		return Payment{}, false, fmt.Errorf("approve payment: %w", err)
	}
	return p, true, nil
}

func (s *PostgresStore) Reopen(ctx context.Context, externalID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE payments SET status = $2, updated_at = now()
		 WHERE external_id = $1 AND status = $3`,
		externalID, StatusPending, StatusApproved)
	if err != nil {
		return fmt.Errorf("reopen payment: %w", err)
	}
	return nil
}

// InMemoryStore keeps payments in a map for local runs and tests.
type InMemoryStore struct {
	mu         sync.Mutex
	byExternal map[string]Payment
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byExternal: make(map[string]Payment)}
}

func (s *InMemoryStore) Insert(_ context.Context, p Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byExternal[p.ExternalID]; ok {
		return fmt.Errorf("insert payment: duplicate external id %q", p.ExternalID)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	s.byExternal[p.ExternalID] = p
	return nil
}

func (s *InMemoryStore) ByExternalID(_ context.Context, externalID string) (Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byExternal[externalID]
	if !ok {
		return Payment{}, ErrPaymentNotFound
	}
	return p, nil
}

func (s *InMemoryStore) MarkApproved(_ context.Context, externalID string) (Payment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byExternal[externalID]
	if !ok {
		return Payment{}, false, ErrPaymentNotFound
	}
	if p.Status == StatusApproved {
		return p, false, nil
	}
	p.Status = StatusApproved
	s.byExternal[externalID] = p
	return p, true, nil
}

func (s *InMemoryStore) Reopen(_ context.Context, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byExternal[externalID]
	if !ok {
		return ErrPaymentNotFound
	}
	if p.Status == StatusApproved {
		p.Status = StatusPending
		s.byExternal[externalID] = p
	}
	return nil
}

// NewStore picks the backing store based on pool availability.
func NewStore(pool *pgxpool.Pool) Store {
	if pool == nil {
		return NewInMemoryStore()
	}
	return NewPostgresStore(pool)
}
