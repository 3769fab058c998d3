// Package handlers contains the HTTP handler implementations for the
// scheduled payments API.
//
// This file implements the scheduled payment handler:
//   - Create, Get, Update (partial), Delete
//   - Per-account listing and the upcoming-occurrence preview
//   - Route registration
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"paysched/internal/core"
	"paysched/internal/types"
)

// --- Service Interfaces ---
//
// Defined locally following the handler injection pattern: the handler depends
// on abstractions for testability and to avoid coupling to concrete
// implementations.

// PaymentService defines the lifecycle contract for scheduled payments.
// Mirrors the concrete payments.Service methods used by this handler.
type PaymentService interface {
	Create(ctx context.Context, p *types.ScheduledPayment) (*types.ScheduledPayment, error)
	Get(ctx context.Context, id string) (*types.ScheduledPayment, error)
	Update(ctx context.Context, id string, upd types.PaymentUpdate) (*types.ScheduledPayment, error)
	Delete(ctx context.Context, id string) error
	ListByAccount(ctx context.Context, accountID string) ([]*types.ScheduledPayment, error)
	Upcoming(ctx context.Context, accountID string, limit int, now time.Time) ([]types.UpcomingPayment, error)
}

// PaymentClock supplies the trusted reference time for the upcoming preview,
// so the preview and the execution scanner agree on what "now" means.
type PaymentClock interface {
	Now() time.Time
}

// --- Request Models ---

// CreatePaymentRequest is the request body for POST /v1/scheduled-payments.
// The id is optional: clients that supply one get create-or-conflict
// semantics, clients that omit it get a generated UUID.
type CreatePaymentRequest struct {
	ID          string            `json:"id,omitempty"`
	AccountID   string            `json:"accountId" validate:"required"`
	Description string            `json:"description" validate:"max=500"`
	Beneficiary types.Beneficiary `json:"beneficiary" validate:"required"`
	Amount      types.Amount      `json:"amount" validate:"required"`
	Schedule    *types.Schedule   `json:"schedule" validate:"required"`
}

// UpdatePaymentRequest is the request body for PATCH
// /v1/scheduled-payments/{id}. Pointer fields allow partial updates; absent
// fields are left untouched. Activation state and execution bookkeeping are
// not client-writable.
type UpdatePaymentRequest struct {
	AccountID   *string            `json:"accountId,omitempty"`
	Description *string            `json:"description,omitempty" validate:"omitempty,max=500"`
	Beneficiary *types.Beneficiary `json:"beneficiary,omitempty"`
	Amount      *types.Amount      `json:"amount,omitempty"`
	Schedule    *types.Schedule    `json:"schedule,omitempty"`
}

// --- Handler ---

// upcomingLimitDefault and bounds for the ?limit query parameter of the
// upcoming preview.
const (
	upcomingLimitDefault = 10
	upcomingLimitMax     = 100
)

// PaymentsHandler manages scheduled payment CRUD and the per-account queries.
type PaymentsHandler struct {
	service   PaymentService
	clock     PaymentClock
	validator *core.Validator
	logger    *slog.Logger
}

// NewPaymentsHandler creates a new PaymentsHandler with the provided
// dependencies.
func NewPaymentsHandler(service PaymentService, clock PaymentClock, v *core.Validator, l *slog.Logger) *PaymentsHandler {
	if l == nil {
		l = slog.Default()
	}
	return &PaymentsHandler{
		service:   service,
		clock:     clock,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts the scheduled payment routes on the provided
// chi.Router.
func (h *PaymentsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/scheduled-payments", func(r chi.Router) {
		r.Post("/", h.Create)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Patch("/", h.Update)
			r.Delete("/", h.Delete)
		})

		r.Route("/accounts/{accountId}", func(r chi.Router) {
			r.Get("/", h.ListByAccount)
			r.Get("/upcoming", h.Upcoming)
		})
	})
}

// --- Handler Methods ---

// Create handles POST /v1/scheduled-payments.
//
// The Authorization header of the creating request is captured verbatim onto
// the payment document; the execution path replays it against the transfers
// service. It is stored server-side only and never echoed back.
func (h *PaymentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if req.Schedule == nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"schedule is required",
			nil,
		))
		return
	}

	p := &types.ScheduledPayment{
		ID:          req.ID,
		AccountID:   req.AccountID,
		Description: req.Description,
		Beneficiary: req.Beneficiary,
		Amount:      req.Amount,
		Schedule:    *req.Schedule,
		AuthToken:   authCredential(r),
	}

	created, err := h.service.Create(r.Context(), p)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: created})
}

// Get handles GET /v1/scheduled-payments/{id}.
func (h *PaymentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"payment id is required",
			nil,
		))
		return
	}

	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: p})
}

// Update handles PATCH /v1/scheduled-payments/{id}. Absent fields are left
// untouched; an empty body object is a no-op that returns the current state.
func (h *PaymentsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"payment id is required",
			nil,
		))
		return
	}

	var req UpdatePaymentRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	upd := types.PaymentUpdate{
		AccountID:   req.AccountID,
		Description: req.Description,
		Beneficiary: req.Beneficiary,
		Amount:      req.Amount,
		Schedule:    req.Schedule,
	}

	p, err := h.service.Update(r.Context(), id, upd)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: p})
}

// Delete handles DELETE /v1/scheduled-payments/{id}. Returns 204 No Content.
func (h *PaymentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"payment id is required",
			nil,
		))
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		core.Error(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListByAccount handles GET /v1/scheduled-payments/accounts/{accountId}.
// Returns every scheduled payment owned by the account, active and inactive.
func (h *PaymentsHandler) ListByAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	if accountID == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"account id is required",
			nil,
		))
		return
	}

	list, err := h.service.ListByAccount(r.Context(), accountID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if list == nil {
		list = []*types.ScheduledPayment{}
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: list})
}

// Upcoming handles GET /v1/scheduled-payments/accounts/{accountId}/upcoming.
//
// The optional ?limit parameter bounds the preview size and must be between
// 1 and 100; it defaults to 10. The reference time comes from the trusted
// clock, not the host clock.
func (h *PaymentsHandler) Upcoming(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	if accountID == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"account id is required",
			nil,
		))
		return
	}

	limit := upcomingLimitDefault
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 || parsed > upcomingLimitMax {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationLimitRange,
				"limit must be a number between 1 and 100",
				nil,
			))
			return
		}
		limit = parsed
	}

	upcoming, err := h.service.Upcoming(r.Context(), accountID, limit, h.clock.Now())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if upcoming == nil {
		upcoming = []types.UpcomingPayment{}
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: upcoming})
}

// --- Helper Functions ---

// authCredential captures the Authorization header verbatim, scheme included.
// The execution path sets it back as-is on the outbound transfer request, so
// any rewriting here would corrupt the replayed credential.
func authCredential(r *http.Request) string {
	return r.Header.Get("Authorization")
}
