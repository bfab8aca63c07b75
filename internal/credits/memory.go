package credits

import (
	"context"
	"fmt"
	"sync"
)

// InMemoryStore keeps balances in a map. It backs local development and
// tests when no DATABASE_URL is configured; balances are lost on restart.
type InMemoryStore struct {
	mu              sync.Mutex
	balances        map[string]int
	startingCredits int
}

func NewInMemoryStore(startingCredits int) *InMemoryStore {
	return &InMemoryStore{
		balances:        make(map[string]int),
		startingCredits: startingCredits,
	}
}

func (s *InMemoryStore) balanceLocked(userID string) int {
	if _, ok := s.balances[userID]; !ok {
		s.balances[userID] = s.startingCredits
	}
	return s.balances[userID]
}

func (s *InMemoryStore) Balance(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balanceLocked(userID), nil
}

func (s *InMemoryStore) Debit(_ context.Context, userID string, cost int) (int, error) {
	if cost < 0 {
		return 0, fmt.Errorf("debit: negative cost %d", cost)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	balance := s.balanceLocked(userID)
	if balance < cost {
		return 0, ErrInsufficientCredits
	}
	s.balances[userID] = balance - cost
	return s.balances[userID], nil
}

func (s *InMemoryStore) Credit(_ context.Context, userID string, amount int) (int, error) {
	if amount < 0 {
		return 0, fmt.Errorf("credit: negative amount %d", amount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	balance := s.balanceLocked(userID)
	s.balances[userID] = balance + amount
	return s.balances[userID], nil
}

func (s *InMemoryStore) Close() {}
