package credit

import (
	"context"
	"sync"
	"time"
)

// Entry records one ledger mutation.
type Entry struct {
	Kind      string // "deduct" or "refund"
	UserID    string
	Amount    float64
	OpType    string
	OpID      string
	Reason    string
	Timestamp time.Time
}

// MemoryService is an in-memory credit ledger used in tests and the one-shot
// CLI mode. Deducts are idempotent on opID, matching the contract the live
// service provides.
type MemoryService struct {
	mu       sync.Mutex
	balances map[string]float64
	deducted map[string]struct{} // opIDs already applied
	entries  []Entry

	// DefaultBalance seeds users on first touch.
	DefaultBalance float64
}

// NewMemoryService builds an empty ledger.
func NewMemoryService() *MemoryService {
	return &MemoryService{
		balances: map[string]float64{},
		deducted: map[string]struct{}{},
	}
}

// balance returns the user's balance, seeding it with DefaultBalance on
// first touch. Callers hold s.mu.
func (s *MemoryService) balance(userID string) float64 {
	if _, ok := s.balances[userID]; !ok {
		s.balances[userID] = s.DefaultBalance
	}
	return s.balances[userID]
}

// SetBalance seeds a user's balance.
func (s *MemoryService) SetBalance(userID string, amount float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = amount
}

// Balance returns the user's current balance.
func (s *MemoryService) Balance(userID string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance(userID)
}

// Entries returns a copy of the mutation log.
func (s *MemoryService) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Check implements Service.
func (s *MemoryService) Check(ctx context.Context, userID string, amount float64, opType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if available := s.balance(userID); available < amount {
		return &InsufficientError{Required: amount, Available: available}
	}
	return nil
}

// Deduct implements Service.
func (s *MemoryService) Deduct(ctx context.Context, userID string, amount float64, opType, opID string, details map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.deducted[opID]; done {
		return nil
	}
	if available := s.balance(userID); available < amount {
		return &InsufficientError{Required: amount, Available: available}
	}
	s.balances[userID] -= amount
	s.deducted[opID] = struct{}{}
	s.entries = append(s.entries, Entry{
		Kind: "deduct", UserID: userID, Amount: amount,
		OpType: opType, OpID: opID, Timestamp: time.Now(),
	})
	return nil
}

// Refund implements Service.
func (s *MemoryService) Refund(ctx context.Context, userID string, amount float64, opType, opID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = s.balance(userID) + amount
	s.entries = append(s.entries, Entry{
		Kind: "refund", UserID: userID, Amount: amount,
		OpType: opType, OpID: opID, Reason: reason, Timestamp: time.Now(),
	})
	return nil
}
