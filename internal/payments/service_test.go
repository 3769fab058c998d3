package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paysched/internal/billing"
	"paysched/internal/config"
	"paysched/internal/types"
)

// --- Fakes ---

type fakeStore struct {
	payments map[string]*types.ScheduledPayment

	activeCount int
	countCalls  int
	insertCalls int

	insertErr error
	findErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{payments: make(map[string]*types.ScheduledPayment)}
}

func (f *fakeStore) InsertIfAbsent(_ context.Context, p *types.ScheduledPayment) (bool, error) {
	f.insertCalls++
	if f.insertErr != nil {
		return false, f.insertErr
	}
	if _, exists := f.payments[p.ID]; exists {
		return false, nil
	}
	f.payments[p.ID] = p
	return true, nil
}

func (f *fakeStore) FindByID(_ context.Context, id string) (*types.ScheduledPayment, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.payments[id], nil
}

func (f *fakeStore) UpdatePartial(_ context.Context, id string, upd types.PaymentUpdate) (*types.ScheduledPayment, error) {
	p, exists := f.payments[id]
	if !exists {
		return nil, nil
	}
	if upd.Description != nil {
		p.Description = *upd.Description
	}
	if upd.Amount != nil {
		p.Amount = *upd.Amount
	}
	if upd.Schedule != nil {
		p.Schedule = *upd.Schedule
	}
	return p, nil
}

func (f *fakeStore) Delete(_ context.Context, id string) (bool, error) {
	if _, exists := f.payments[id]; !exists {
		return false, nil
	}
	delete(f.payments, id)
	return true, nil
}

func (f *fakeStore) FindByAccount(_ context.Context, accountID string) ([]*types.ScheduledPayment, error) {
	var out []*types.ScheduledPayment
	for _, p := range f.payments {
		if p.AccountID == accountID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) CountActiveByAccount(_ context.Context, _ string) (int, error) {
	f.countCalls++
	return f.activeCount, nil
}

type fakeAccounts struct {
	tier  types.PlanTier
	err   error
	calls int
}

func (f *fakeAccounts) GetSubscription(_ context.Context, _ string) (types.PlanTier, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.tier, nil
}

func newTestService(store *fakeStore, accounts *fakeAccounts) *Service {
	plans := billing.NewStaticPlanRegistry(config.SubscriptionConfig{Basic: 1, Mid: 10, Pro: 0})
	return NewService(store, accounts, plans, nil)
}

func validPayment(accountID string) *types.ScheduledPayment {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return &types.ScheduledPayment{
		AccountID:   accountID,
		Description: "Monthly rent",
		Beneficiary: types.Beneficiary{Name: "Landlord SL", IBAN: "ES7921000813610123456789"},
		Amount:      types.Amount{Value: 950, Currency: "EUR"},
		Schedule: types.Schedule{
			Kind:       types.ScheduleMonthly,
			DayOfMonth: 1,
			StartDate:  start,
			EndDate:    start.AddDate(1, 0, 0),
		},
	}
}

func oncePayment(accountID, id string, executionDate time.Time) *types.ScheduledPayment {
	return &types.ScheduledPayment{
		ID:          id,
		AccountID:   accountID,
		Beneficiary: types.Beneficiary{Name: "Shop", IBAN: "ES00"},
		Amount:      types.Amount{Value: 10, Currency: "EUR"},
		Schedule:    types.Schedule{Kind: types.ScheduleOnce, ExecutionDate: executionDate},
		IsActive:    true,
	}
}

// --- Create ---

func TestCreate_GeneratesIDAndActivates(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeAccounts{tier: types.TierBasic})

	created, err := svc.Create(context.Background(), validPayment("ES123"))
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.True(t, created.IsActive)
	assert.Nil(t, created.LastExecutionAt)
	assert.Contains(t, store.payments, created.ID)
}

func TestCreate_SubscriptionLimitReached(t *testing.T) {
	store := newFakeStore()
	store.activeCount = 1
	svc := newTestService(store, &fakeAccounts{tier: types.TierBasic})

	_, err := svc.Create(context.Background(), validPayment("ES123"))
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeLimitSubscription, appErr.Code)
	assert.Equal(t, "basic", appErr.Details["tier"])
	assert.Equal(t, 1, appErr.Details["limit"])
	assert.Zero(t, store.insertCalls, "nothing must be written when the limit is hit")
}

func TestCreate_ProTierIsUnlimited(t *testing.T) {
	store := newFakeStore()
	store.activeCount = 5000
	svc := newTestService(store, &fakeAccounts{tier: types.TierPro})

	_, err := svc.Create(context.Background(), validPayment("ES123"))
	require.NoError(t, err)
	assert.Zero(t, store.countCalls, "unlimited tier must not count active payments")
}

func TestCreate_DuplicateClientSuppliedID(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeAccounts{tier: types.TierMid})

	first := validPayment("ES123")
	first.ID = "pay_fixed"
	_, err := svc.Create(context.Background(), first)
	require.NoError(t, err)

	second := validPayment("ES123")
	second.ID = "pay_fixed"
	_, err = svc.Create(context.Background(), second)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeConflictDuplicateID, appErr.Code)
}

func TestCreate_InvalidScheduleSkipsUpstreamCalls(t *testing.T) {
	accounts := &fakeAccounts{tier: types.TierBasic}
	svc := newTestService(newFakeStore(), accounts)

	p := validPayment("ES123")
	p.Schedule.DayOfMonth = 42
	_, err := svc.Create(context.Background(), p)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeValidationSchedule, appErr.Code)
	assert.Zero(t, accounts.calls)
}

func TestCreate_AccountLookupFailurePropagates(t *testing.T) {
	lookupErr := types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)
	svc := newTestService(newFakeStore(), &fakeAccounts{err: lookupErr})

	_, err := svc.Create(context.Background(), validPayment("ES_missing"))
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundAccount, appErr.Code)
}

// --- Get / Update / Delete ---

func TestGet_NotFound(t *testing.T) {
	svc := newTestService(newFakeStore(), &fakeAccounts{tier: types.TierBasic})

	_, err := svc.Get(context.Background(), "pay_missing")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundPayment, appErr.Code)
}

func TestUpdate_EmptyUpdateReturnsCurrentState(t *testing.T) {
	store := newFakeStore()
	p := oncePayment("ES123", "pay_1", time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	store.payments[p.ID] = p
	svc := newTestService(store, &fakeAccounts{tier: types.TierBasic})

	got, err := svc.Update(context.Background(), "pay_1", types.PaymentUpdate{})
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestUpdate_RejectsNonPositiveAmount(t *testing.T) {
	svc := newTestService(newFakeStore(), &fakeAccounts{tier: types.TierBasic})

	amount := types.Amount{Value: 0, Currency: "EUR"}
	_, err := svc.Update(context.Background(), "pay_1", types.PaymentUpdate{Amount: &amount})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeValidationAmount, appErr.Code)
}

func TestUpdate_NotFound(t *testing.T) {
	svc := newTestService(newFakeStore(), &fakeAccounts{tier: types.TierBasic})

	desc := "new description"
	_, err := svc.Update(context.Background(), "pay_missing", types.PaymentUpdate{Description: &desc})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundPayment, appErr.Code)
}

func TestDelete_NotFound(t *testing.T) {
	svc := newTestService(newFakeStore(), &fakeAccounts{tier: types.TierBasic})

	err := svc.Delete(context.Background(), "pay_missing")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundPayment, appErr.Code)
}

// --- Upcoming ---

func TestUpcoming_SortedSoonestFirstAndTruncated(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	store.payments["pay_c"] = oncePayment("ES123", "pay_c", now.AddDate(0, 0, 30))
	store.payments["pay_a"] = oncePayment("ES123", "pay_a", now.AddDate(0, 0, 1))
	store.payments["pay_b"] = oncePayment("ES123", "pay_b", now.AddDate(0, 0, 7))

	svc := newTestService(store, &fakeAccounts{tier: types.TierBasic})

	got, err := svc.Upcoming(context.Background(), "ES123", 2, now)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "pay_a", got[0].ID)
	assert.Equal(t, "pay_b", got[1].ID)
	assert.True(t, got[0].NextOccurrence.Before(got[1].NextOccurrence))
}

func TestUpcoming_OmitsInactiveAndConsumedPayments(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	inactive := oncePayment("ES123", "pay_inactive", now.AddDate(0, 0, 1))
	inactive.IsActive = false
	store.payments[inactive.ID] = inactive

	executed := oncePayment("ES123", "pay_done", now.AddDate(0, 0, 1))
	last := now.AddDate(0, 0, -1)
	executed.LastExecutionAt = &last
	store.payments[executed.ID] = executed

	svc := newTestService(store, &fakeAccounts{tier: types.TierBasic})

	got, err := svc.Upcoming(context.Background(), "ES123", 10, now)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestUpcoming_OtherAccountsExcluded(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	store.payments["pay_mine"] = oncePayment("ES123", "pay_mine", now.AddDate(0, 0, 1))
	store.payments["pay_other"] = oncePayment("ES999", "pay_other", now.AddDate(0, 0, 1))

	svc := newTestService(store, &fakeAccounts{tier: types.TierBasic})

	got, err := svc.Upcoming(context.Background(), "ES123", 10, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "pay_mine", got[0].ID)
}
