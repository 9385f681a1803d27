package repository

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cartoncaps/referral-api/internal/model"
	"github.com/google/uuid"
)

// MemoryStore is an in-memory referral store enforcing the same uniqueness and
// foreign-key rules as the PostgreSQL schema. Returned values are copies.
type MemoryStore struct {
	mu sync.RWMutex

	users      map[uuid.UUID]model.User
	emailIndex map[string]uuid.UUID
	referrals  map[uuid.UUID]model.Referral
	codeIndex  map[string]uuid.UUID
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[uuid.UUID]model.User),
		emailIndex: make(map[string]uuid.UUID),
		referrals:  make(map[uuid.UUID]model.Referral),
		codeIndex:  make(map[string]uuid.UUID),
	}
}

// Ping always succeeds unless ctx is done.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// CreateUser inserts a new user.
func (s *MemoryStore) CreateUser(ctx context.Context, user *model.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; ok {
		return ErrUserExists
	}
	if user.Email != "" {
		if _, ok := s.emailIndex[user.Email]; ok {
			return ErrEmailExists
		}
		s.emailIndex[user.Email] = user.ID
	}
	s.users[user.ID] = *user
	return nil
}

// GetUserByID retrieves a user by their ID.
func (s *MemoryStore) GetUserByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &user, nil
}

// GetUserByEmail retrieves a user by their email address.
func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.emailIndex[email]
	if !ok {
		return nil, ErrUserNotFound
	}
	user := s.users[id]
	return &user, nil
}

// EnsureUser returns the user with the given ID, creating a bare one if needed.
func (s *MemoryStore) EnsureUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		user = model.User{ID: id, CreatedAt: time.Now().UTC()}
		s.users[id] = user
	}
	return &user, nil
}

// GetOrCreateUserByEmail gets a user by email or creates one if not found.
func (s *MemoryStore) GetOrCreateUserByEmail(ctx context.Context, email string) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.emailIndex[email]; ok {
		user := s.users[id]
		return &user, nil
	}

	user := model.User{ID: uuid.New(), Email: email, CreatedAt: time.Now().UTC()}
	s.users[user.ID] = user
	s.emailIndex[email] = user.ID
	return &user, nil
}

// HasUsers reports whether at least one user exists.
func (s *MemoryStore) HasUsers(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users) > 0, nil
}

// CreateReferral inserts a new referral.
func (s *MemoryStore) CreateReferral(ctx context.Context, referral *model.Referral) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.codeIndex[referral.ReferralCode]; ok {
		return ErrCodeExists
	}
	if _, ok := s.users[referral.ReferrerUserID]; !ok {
		return ErrUserNotFound
	}
	if referral.RefereeUserID != nil {
		if _, ok := s.users[*referral.RefereeUserID]; !ok {
			return ErrUserNotFound
		}
	}

	s.referrals[referral.ID] = cloneReferral(*referral)
	s.codeIndex[referral.ReferralCode] = referral.ID
	return nil
}

// GetReferralByID retrieves a referral by its ID.
func (s *MemoryStore) GetReferralByID(ctx context.Context, id uuid.UUID) (*model.Referral, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	referral, ok := s.referrals[id]
	if !ok {
		return nil, ErrReferralNotFound
	}
	out := cloneReferral(referral)
	return &out, nil
}

// GetReferralByCode retrieves a referral by its referral code.
func (s *MemoryStore) GetReferralByCode(ctx context.Context, code string) (*model.Referral, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.codeIndex[code]
	if !ok {
		return nil, ErrReferralNotFound
	}
	out := cloneReferral(s.referrals[id])
	return &out, nil
}

// ReferralCodeExists checks if a referral code is already taken.
func (s *MemoryStore) ReferralCodeExists(ctx context.Context, code string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.codeIndex[code]
	return ok, nil
}

// ListReferralsByReferrer returns the referrals created by a user, newest first.
func (s *MemoryStore) ListReferralsByReferrer(ctx context.Context, referrerID uuid.UUID, statuses []model.ReferralStatus) ([]*model.Referral, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*model.Referral, 0)
	for _, referral := range s.referrals {
		if referral.ReferrerUserID != referrerID || !statusIn(referral.Status, statuses) {
			continue
		}
		out := cloneReferral(referral)
		result = append(result, &out)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return bytes.Compare(result[i].ID[:], result[j].ID[:]) > 0
	})

	return result, nil
}

// CountReferralsByStatus returns per-status referral counts for a referrer.
func (s *MemoryStore) CountReferralsByStatus(ctx context.Context, referrerID uuid.UUID) (map[model.ReferralStatus]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[model.ReferralStatus]int, len(model.AllStatuses))
	for _, referral := range s.referrals {
		if referral.ReferrerUserID == referrerID {
			counts[referral.Status]++
		}
	}
	return counts, nil
}

// UpdateReferralStatus applies a forward transition to the referral with the
// given code under the write lock.
func (s *MemoryStore) UpdateReferralStatus(ctx context.Context, code string, t model.Transition) (*model.Referral, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.codeIndex[code]
	if !ok {
		return nil, ErrReferralNotFound
	}

	// Guard before the referee check, matching the single guarded UPDATE.
	referral := s.referrals[id]
	if referral.Status.Exceeds(t.Target) {
		return nil, ErrTransitionRejected
	}
	if t.RefereeUserID != nil {
		if _, ok := s.users[*t.RefereeUserID]; !ok {
			return nil, ErrUserNotFound
		}
	}

	t.Apply(&referral)
	s.referrals[id] = referral

	out := cloneReferral(referral)
	return &out, nil
}

func statusIn(status model.ReferralStatus, statuses []model.ReferralStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

// cloneReferral copies the pointer fields so callers cannot mutate stored state.
func cloneReferral(r model.Referral) model.Referral {
	if r.RefereeUserID != nil {
		id := *r.RefereeUserID
		r.RefereeUserID = &id
	}
	if r.InstalledAt != nil {
		at := *r.InstalledAt
		r.InstalledAt = &at
	}
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		r.CompletedAt = &at
	}
	return r
}
