package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cartoncaps/referral-api/internal/model"
	"github.com/cartoncaps/referral-api/internal/testutil"
	"github.com/google/uuid"
)

func TestMemoryStore_CreateUser_Uniqueness(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()

	user := testutil.NewTestUser(t)
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	if err := store.CreateUser(ctx, user); !errors.Is(err, ErrUserExists) {
		t.Errorf("expected ErrUserExists, got %v", err)
	}

	other := testutil.NewTestUser(t)
	other.Email = user.Email
	if err := store.CreateUser(ctx, other); !errors.Is(err, ErrEmailExists) {
		t.Errorf("expected ErrEmailExists, got %v", err)
	}

	// Users without email never collide.
	for i := 0; i < 2; i++ {
		bare := &model.User{ID: uuid.New(), CreatedAt: time.Now()}
		if err := store.CreateUser(ctx, bare); err != nil {
			t.Fatalf("CreateUser (bare %d) failed: %v", i, err)
		}
	}
}

func TestMemoryStore_EnsureUser(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()

	id := uuid.New()
	first, err := store.EnsureUser(ctx, id)
	if err != nil {
		t.Fatalf("EnsureUser failed: %v", err)
	}
	second, err := store.EnsureUser(ctx, id)
	if err != nil {
		t.Fatalf("EnsureUser (second) failed: %v", err)
	}
	if first.ID != id || second.ID != id {
		t.Fatalf("unexpected ids: %s, %s", first.ID, second.ID)
	}
	if !first.CreatedAt.Equal(second.CreatedAt) {
		t.Error("EnsureUser must not recreate an existing user")
	}
}

func TestMemoryStore_GetOrCreateUserByEmail(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()

	const email = "friend@example.com"
	var wg sync.WaitGroup
	ids := make([]uuid.UUID, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user, err := store.GetOrCreateUserByEmail(ctx, email)
			if err != nil {
				t.Errorf("GetOrCreateUserByEmail failed: %v", err)
				return
			}
			ids[i] = user.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("expected a single user for %s, got %s and %s", email, ids[0], id)
		}
	}
}

func TestMemoryStore_CreateReferral_Constraints(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()

	referrer := testutil.NewTestUser(t)
	if err := store.CreateUser(ctx, referrer); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	orphan := testutil.NewTestReferral(t, uuid.New(), testutil.UniqueCode("orphan"))
	if err := store.CreateReferral(ctx, orphan); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound for missing referrer, got %v", err)
	}

	code := testutil.UniqueCode("dup")
	if err := store.CreateReferral(ctx, testutil.NewTestReferral(t, referrer.ID, code)); err != nil {
		t.Fatalf("CreateReferral failed: %v", err)
	}
	if err := store.CreateReferral(ctx, testutil.NewTestReferral(t, referrer.ID, code)); !errors.Is(err, ErrCodeExists) {
		t.Errorf("expected ErrCodeExists, got %v", err)
	}

	exists, err := store.ReferralCodeExists(ctx, code)
	if err != nil || !exists {
		t.Errorf("ReferralCodeExists = %v, %v; want true, nil", exists, err)
	}
}

func TestMemoryStore_ListReferralsByReferrer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()

	referrer := testutil.NewTestUser(t)
	other := testutil.NewTestUser(t)
	for _, u := range []*model.User{referrer, other} {
		if err := store.CreateUser(ctx, u); err != nil {
			t.Fatalf("CreateUser failed: %v", err)
		}
	}

	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	statuses := []model.ReferralStatus{model.StatusPending, model.StatusInstalled, model.StatusCompleted}
	for i, status := range statuses {
		r := testutil.NewTestReferral(t, referrer.ID, testutil.UniqueCode("list"))
		r.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		r.Status = status
		if err := store.CreateReferral(ctx, r); err != nil {
			t.Fatalf("CreateReferral failed: %v", err)
		}
	}
	if err := store.CreateReferral(ctx, testutil.NewTestReferral(t, other.ID, testutil.UniqueCode("other"))); err != nil {
		t.Fatalf("CreateReferral failed: %v", err)
	}

	all, err := store.ListReferralsByReferrer(ctx, referrer.ID, nil)
	if err != nil {
		t.Fatalf("ListReferralsByReferrer failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 referrals, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].CreatedAt.After(all[i-1].CreatedAt) {
			t.Errorf("referrals not ordered newest first at index %d", i)
		}
	}
	if all[0].Status != model.StatusCompleted {
		t.Errorf("expected newest referral first, got status %s", all[0].Status)
	}

	filtered, err := store.ListReferralsByReferrer(ctx, referrer.ID, []model.ReferralStatus{model.StatusPending, model.StatusInstalled})
	if err != nil {
		t.Fatalf("ListReferralsByReferrer (filtered) failed: %v", err)
	}
	if len(filtered) != 2 {
		t.Fatalf("expected 2 filtered referrals, got %d", len(filtered))
	}

	none, err := store.ListReferralsByReferrer(ctx, uuid.New(), nil)
	if err != nil {
		t.Fatalf("ListReferralsByReferrer (unknown) failed: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", none)
	}
}

func TestMemoryStore_CountReferralsByStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()

	referrer := testutil.NewTestUser(t)
	if err := store.CreateUser(ctx, referrer); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	for _, status := range []model.ReferralStatus{model.StatusPending, model.StatusPending, model.StatusCancelled} {
		r := testutil.NewTestReferral(t, referrer.ID, testutil.UniqueCode("count"))
		r.Status = status
		if err := store.CreateReferral(ctx, r); err != nil {
			t.Fatalf("CreateReferral failed: %v", err)
		}
	}

	counts, err := store.CountReferralsByStatus(ctx, referrer.ID)
	if err != nil {
		t.Fatalf("CountReferralsByStatus failed: %v", err)
	}
	if counts[model.StatusPending] != 2 || counts[model.StatusCancelled] != 1 || counts[model.StatusInstalled] != 0 {
		t.Errorf("unexpected counts: %v", counts)
	}
}

func TestMemoryStore_UpdateReferralStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()

	referrer := testutil.NewTestUser(t)
	if err := store.CreateUser(ctx, referrer); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	r := testutil.NewTestReferral(t, referrer.ID, testutil.UniqueCode("update"))
	if err := store.CreateReferral(ctx, r); err != nil {
		t.Fatalf("CreateReferral failed: %v", err)
	}

	if _, err := store.UpdateReferralStatus(ctx, "REF-MISSING", model.Transition{Target: model.StatusInstalled, At: time.Now()}); !errors.Is(err, ErrReferralNotFound) {
		t.Errorf("expected ErrReferralNotFound, got %v", err)
	}

	missingReferee := uuid.New()
	if _, err := store.UpdateReferralStatus(ctx, r.ReferralCode, model.Transition{Target: model.StatusCompleted, At: time.Now(), RefereeUserID: &missingReferee}); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound for unknown referee, got %v", err)
	}

	completedAt := time.Now().UTC()
	updated, err := store.UpdateReferralStatus(ctx, r.ReferralCode, model.Transition{Target: model.StatusCompleted, At: completedAt, RefereeUserID: &referrer.ID})
	if err != nil {
		t.Fatalf("UpdateReferralStatus failed: %v", err)
	}
	if updated.Status != model.StatusCompleted || updated.CompletedAt == nil {
		t.Fatalf("unexpected referral after completion: %+v", updated)
	}

	if _, err := store.UpdateReferralStatus(ctx, r.ReferralCode, model.Transition{Target: model.StatusInstalled, At: time.Now()}); !errors.Is(err, ErrTransitionRejected) {
		t.Errorf("expected ErrTransitionRejected, got %v", err)
	}

	stored, err := store.GetReferralByCode(ctx, r.ReferralCode)
	if err != nil {
		t.Fatalf("GetReferralByCode failed: %v", err)
	}
	if stored.Status != model.StatusCompleted || !stored.UpdatedAt.Equal(completedAt) {
		t.Errorf("rejected transition mutated referral: %+v", stored)
	}
}

func TestMemoryStore_UpdateReferralStatus_GuardBeforeReferee(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()

	referrer := testutil.NewTestUser(t)
	if err := store.CreateUser(ctx, referrer); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	r := testutil.NewTestReferral(t, referrer.ID, testutil.UniqueCode("guard"))
	r.Status = model.StatusCancelled
	if err := store.CreateReferral(ctx, r); err != nil {
		t.Fatalf("CreateReferral failed: %v", err)
	}

	// A guarded-out transition reports rejection even when the referee is unknown.
	missingReferee := uuid.New()
	_, err := store.UpdateReferralStatus(ctx, r.ReferralCode, model.Transition{Target: model.StatusCompleted, At: time.Now(), RefereeUserID: &missingReferee})
	if !errors.Is(err, ErrTransitionRejected) {
		t.Errorf("expected ErrTransitionRejected, got %v", err)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()

	referrer := testutil.NewTestUser(t)
	if err := store.CreateUser(ctx, referrer); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	r := testutil.NewTestReferral(t, referrer.ID, testutil.UniqueCode("copy"))
	if err := store.CreateReferral(ctx, r); err != nil {
		t.Fatalf("CreateReferral failed: %v", err)
	}

	got, err := store.GetReferralByID(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetReferralByID failed: %v", err)
	}
	got.Status = model.StatusCancelled

	again, err := store.GetReferralByID(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetReferralByID failed: %v", err)
	}
	if again.Status != model.StatusPending {
		t.Errorf("store state leaked through returned pointer: %s", again.Status)
	}
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.GetReferralByID(ctx, uuid.New()); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if err := store.Ping(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled from Ping, got %v", err)
	}
}
