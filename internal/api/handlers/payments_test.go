package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paysched/internal/core"
	"paysched/internal/types"
)

// fakePaymentService records calls and returns canned results.
type fakePaymentService struct {
	createdPayment *types.ScheduledPayment
	createErr      error

	getPayment *types.ScheduledPayment
	getErr     error

	updateID       string
	updateReceived types.PaymentUpdate
	updatePayment  *types.ScheduledPayment
	updateErr      error

	deletedID string
	deleteErr error

	listAccountID string
	listPayments  []*types.ScheduledPayment
	listErr       error

	upcomingAccountID string
	upcomingLimit     int
	upcomingNow       time.Time
	upcomingResult    []types.UpcomingPayment
	upcomingErr       error
}

func (f *fakePaymentService) Create(_ context.Context, p *types.ScheduledPayment) (*types.ScheduledPayment, error) {
	f.createdPayment = p
	if f.createErr != nil {
		return nil, f.createErr
	}
	if p.ID == "" {
		p.ID = "pay_generated"
	}
	p.IsActive = true
	return p, nil
}

func (f *fakePaymentService) Get(_ context.Context, id string) (*types.ScheduledPayment, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.getPayment, nil
}

func (f *fakePaymentService) Update(_ context.Context, id string, upd types.PaymentUpdate) (*types.ScheduledPayment, error) {
	f.updateID = id
	f.updateReceived = upd
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return f.updatePayment, nil
}

func (f *fakePaymentService) Delete(_ context.Context, id string) error {
	f.deletedID = id
	return f.deleteErr
}

func (f *fakePaymentService) ListByAccount(_ context.Context, accountID string) ([]*types.ScheduledPayment, error) {
	f.listAccountID = accountID
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.listPayments, nil
}

func (f *fakePaymentService) Upcoming(_ context.Context, accountID string, limit int, now time.Time) ([]types.UpcomingPayment, error) {
	f.upcomingAccountID = accountID
	f.upcomingLimit = limit
	f.upcomingNow = now
	if f.upcomingErr != nil {
		return nil, f.upcomingErr
	}
	return f.upcomingResult, nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(svc PaymentService, now time.Time) *chi.Mux {
	h := NewPaymentsHandler(svc, fixedClock{now: now}, core.NewValidator(quietLogger()), quietLogger())
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

const createBody = `{
	"accountId": "ES9121000418450200051332",
	"description": "monthly rent",
	"beneficiary": {"name": "Landlord", "iban": "DE89370400440532013000"},
	"amount": {"value": 950.5, "currency": "EUR"},
	"schedule": {"frequency": "MONTHLY", "dayOfMonth": 1, "startDate": "2026-01-01T00:00:00Z", "endDate": "2026-12-31T00:00:00Z"}
}`

func TestCreate_Success(t *testing.T) {
	svc := &fakePaymentService{}
	router := newTestRouter(svc, time.Now())

	req := httptest.NewRequest(http.MethodPost, "/scheduled-payments", strings.NewReader(createBody))
	req.Header.Set("Authorization", "Bearer tok-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, svc.createdPayment)
	assert.Equal(t, "ES9121000418450200051332", svc.createdPayment.AccountID)
	assert.Equal(t, types.ScheduleMonthly, svc.createdPayment.Schedule.Kind)
	// The credential is captured verbatim, scheme included.
	assert.Equal(t, "Bearer tok-123", svc.createdPayment.AuthToken)
	// And it must not appear in the response body.
	assert.NotContains(t, w.Body.String(), "tok-123")
}

func TestCreate_MissingAccountIDFailsValidation(t *testing.T) {
	svc := &fakePaymentService{}
	router := newTestRouter(svc, time.Now())

	body := strings.Replace(createBody, `"accountId": "ES9121000418450200051332",`, "", 1)
	req := httptest.NewRequest(http.MethodPost, "/scheduled-payments", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), string(types.ErrCodeValidationMissingField))
	assert.Nil(t, svc.createdPayment, "service must not be called on invalid input")
}

func TestCreate_UnknownFieldRejected(t *testing.T) {
	svc := &fakePaymentService{}
	router := newTestRouter(svc, time.Now())

	req := httptest.NewRequest(http.MethodPost, "/scheduled-payments", strings.NewReader(`{"surprise": true}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_invalid_json")
}

func TestCreate_DuplicateIDConflict(t *testing.T) {
	svc := &fakePaymentService{
		createErr: types.NewAppError(types.ErrCodeConflictDuplicateID, "a scheduled payment with id pay_1 already exists", nil),
	}
	router := newTestRouter(svc, time.Now())

	req := httptest.NewRequest(http.MethodPost, "/scheduled-payments", strings.NewReader(createBody))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), string(types.ErrCodeConflictDuplicateID))
}

func TestCreate_SubscriptionLimitForbidden(t *testing.T) {
	svc := &fakePaymentService{
		createErr: types.NewAppErrorWithDetails(
			types.ErrCodeLimitSubscription, "limit reached", nil,
			map[string]any{"tier": "BASIC", "limit": 1},
		),
	}
	router := newTestRouter(svc, time.Now())

	req := httptest.NewRequest(http.MethodPost, "/scheduled-payments", strings.NewReader(createBody))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), `"BASIC"`)
}

func TestGet_Success(t *testing.T) {
	svc := &fakePaymentService{
		getPayment: &types.ScheduledPayment{
			ID:        "pay_1",
			AccountID: "ES_a",
			Schedule:  types.Schedule{Kind: types.ScheduleOnce, ExecutionDate: time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)},
			IsActive:  true,
			AuthToken: "Bearer secret",
		},
	}
	router := newTestRouter(svc, time.Now())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/scheduled-payments/pay_1", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data types.ScheduledPayment `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "pay_1", resp.Data.ID)
	assert.Equal(t, types.ScheduleOnce, resp.Data.Schedule.Kind)
	assert.NotContains(t, w.Body.String(), "secret")
}

func TestGet_NotFound(t *testing.T) {
	svc := &fakePaymentService{
		getErr: types.NewAppError(types.ErrCodeNotFoundPayment, "scheduled payment not found", nil),
	}
	router := newTestRouter(svc, time.Now())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/scheduled-payments/pay_missing", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), string(types.ErrCodeNotFoundPayment))
}

func TestUpdate_PartialFieldsForwarded(t *testing.T) {
	svc := &fakePaymentService{
		updatePayment: &types.ScheduledPayment{ID: "pay_1", Description: "new rent"},
	}
	router := newTestRouter(svc, time.Now())

	body := `{"description": "new rent", "amount": {"value": 1000, "currency": "EUR"}}`
	req := httptest.NewRequest(http.MethodPatch, "/scheduled-payments/pay_1", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pay_1", svc.updateID)
	require.NotNil(t, svc.updateReceived.Description)
	assert.Equal(t, "new rent", *svc.updateReceived.Description)
	require.NotNil(t, svc.updateReceived.Amount)
	assert.Equal(t, 1000.0, svc.updateReceived.Amount.Value)
	assert.Nil(t, svc.updateReceived.Beneficiary)
	assert.Nil(t, svc.updateReceived.Schedule)
}

func TestDelete_NoContent(t *testing.T) {
	svc := &fakePaymentService{}
	router := newTestRouter(svc, time.Now())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/scheduled-payments/pay_1", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "pay_1", svc.deletedID)
}

func TestListByAccount_EmptyIsJSONArray(t *testing.T) {
	svc := &fakePaymentService{}
	router := newTestRouter(svc, time.Now())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/scheduled-payments/accounts/ES_a", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ES_a", svc.listAccountID)
	assert.Contains(t, w.Body.String(), `"data":[]`)
}

func TestUpcoming_DefaultLimitAndTrustedNow(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	svc := &fakePaymentService{}
	router := newTestRouter(svc, now)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/scheduled-payments/accounts/ES_a/upcoming", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ES_a", svc.upcomingAccountID)
	assert.Equal(t, 10, svc.upcomingLimit)
	assert.True(t, svc.upcomingNow.Equal(now), "reference time must come from the clock")
}

func TestUpcoming_LimitBounds(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantLimit  int
	}{
		{name: "explicit limit", query: "?limit=3", wantStatus: http.StatusOK, wantLimit: 3},
		{name: "max limit", query: "?limit=100", wantStatus: http.StatusOK, wantLimit: 100},
		{name: "zero rejected", query: "?limit=0", wantStatus: http.StatusBadRequest},
		{name: "too large rejected", query: "?limit=101", wantStatus: http.StatusBadRequest},
		{name: "non-numeric rejected", query: "?limit=many", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakePaymentService{}
			router := newTestRouter(svc, time.Now())

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/scheduled-payments/accounts/ES_a/upcoming"+tt.query, nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.wantLimit, svc.upcomingLimit)
			} else {
				assert.Contains(t, w.Body.String(), string(types.ErrCodeValidationLimitRange))
			}
		})
	}
}
