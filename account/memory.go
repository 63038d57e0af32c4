package account

import (
	"context"
	"sync"
	"time"
)

type memoryRecord struct {
	mu   sync.Mutex
	acct Account
}

// MemoryStore is an in-process Store. The identity indexes sit behind one
// RWMutex that is only held for map access; record mutations lock the
// record itself.
type MemoryStore struct {
	mu         sync.RWMutex
	byID       map[string]*memoryRecord
	byUsername map[string]string
	byEmail    map[string]string
	now        func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:       make(map[string]*memoryRecord),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
		now:        time.Now,
	}
}

// Create inserts acct with Version 1.
func (s *MemoryStore) Create(ctx context.Context, acct Account) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	userKey := NormalizeUsername(acct.Username)
	emailKey := NormalizeEmail(acct.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[acct.ID]; ok {
		return Account{}, ErrDuplicate
	}
	if _, ok := s.byUsername[userKey]; ok {
		return Account{}, ErrDuplicate
	}
	if _, ok := s.byEmail[emailKey]; ok {
		return Account{}, ErrDuplicate
	}

	now := s.now().UTC()
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = now
	}
	acct.UpdatedAt = acct.CreatedAt
	acct.Email = emailKey
	acct.Version = 1

	s.byID[acct.ID] = &memoryRecord{acct: acct}
	s.byUsername[userKey] = acct.ID
	s.byEmail[emailKey] = acct.ID

	return acct, nil
}

// GetByID returns a copy of the account with the given id.
func (s *MemoryStore) GetByID(ctx context.Context, id string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	rec := s.record(id)
	if rec == nil {
		return Account{}, ErrNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.acct, nil
}

// GetByUsername looks the account up case-insensitively.
func (s *MemoryStore) GetByUsername(ctx context.Context, username string) (Account, error) {
	s.mu.RLock()
	id, ok := s.byUsername[NormalizeUsername(username)]
	s.mu.RUnlock()
	if !ok {
		return Account{}, ErrNotFound
	}
	return s.GetByID(ctx, id)
}

// GetByEmail looks the account up case-insensitively.
func (s *MemoryStore) GetByEmail(ctx context.Context, email string) (Account, error) {
	s.mu.RLock()
	id, ok := s.byEmail[NormalizeEmail(email)]
	s.mu.RUnlock()
	if !ok {
		return Account{}, ErrNotFound
	}
	return s.GetByID(ctx, id)
}

// CompareAndSwap replaces the mutable fields of the stored record when its
// version equals expectedVersion. Identity fields are never rewritten.
func (s *MemoryStore) CompareAndSwap(ctx context.Context, next Account, expectedVersion uint64) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	rec := s.record(next.ID)
	if rec == nil {
		return Account{}, ErrNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.acct.Version != expectedVersion {
		return Account{}, ErrVersionConflict
	}

	updated := rec.acct
	updated.PasswordHash = next.PasswordHash
	updated.Verified = next.Verified
	updated.FailedAttempts = next.FailedAttempts
	updated.LockedUntil = next.LockedUntil
	updated.UpdatedAt = s.now().UTC()
	updated.Version = expectedVersion + 1

	rec.acct = updated
	return updated, nil
}

func (s *MemoryStore) record(id string) *memoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[id]
}
