// Package payments holds the application service for scheduled payment
// lifecycle operations: creation with subscription limit enforcement,
// retrieval, partial update, deletion and the upcoming-occurrence preview.
package payments

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"paysched/internal/billing"
	"paysched/internal/recurrence"
	"paysched/internal/types"
)

// Store is the persistence boundary the service depends on. Implemented by
// db.PaymentRepository.
type Store interface {
	InsertIfAbsent(ctx context.Context, p *types.ScheduledPayment) (bool, error)
	FindByID(ctx context.Context, id string) (*types.ScheduledPayment, error)
	UpdatePartial(ctx context.Context, id string, upd types.PaymentUpdate) (*types.ScheduledPayment, error)
	Delete(ctx context.Context, id string) (bool, error)
	FindByAccount(ctx context.Context, accountID string) ([]*types.ScheduledPayment, error)
	CountActiveByAccount(ctx context.Context, accountID string) (int, error)
}

// AccountsService resolves the subscription tier of an account. Implemented
// by external.HTTPAccountsClient.
type AccountsService interface {
	GetSubscription(ctx context.Context, accountID string) (types.PlanTier, error)
}

// Service implements the payment lifecycle on top of the store, the accounts
// service and the plan registry.
type Service struct {
	store    Store
	accounts AccountsService
	plans    billing.PlanRegistry
	logger   *slog.Logger
}

// NewService creates a payments Service.
func NewService(store Store, accounts AccountsService, plans billing.PlanRegistry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, accounts: accounts, plans: plans, logger: logger}
}

// Create validates and persists a new scheduled payment. The subscription
// limit of the owning account is enforced before anything is written: an
// account at its tier's active-payment cap cannot schedule another one.
// A client-supplied id that already exists is a conflict, not an overwrite.
func (s *Service) Create(ctx context.Context, p *types.ScheduledPayment) (*types.ScheduledPayment, error) {
	if err := p.Validate(); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationSchedule, err.Error(), err)
	}

	tier, err := s.accounts.GetSubscription(ctx, p.AccountID)
	if err != nil {
		return nil, err
	}

	limits := s.plans.GetLimits(tier)
	if limits.MaxActivePayments > 0 {
		count, err := s.store.CountActiveByAccount(ctx, p.AccountID)
		if err != nil {
			return nil, err
		}
		if count >= limits.MaxActivePayments {
			return nil, types.NewAppErrorWithDetails(
				types.ErrCodeLimitSubscription,
				fmt.Sprintf("subscription tier %s allows at most %d active scheduled payments", tier, limits.MaxActivePayments),
				nil,
				map[string]any{"tier": string(tier), "limit": limits.MaxActivePayments},
			)
		}
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.IsActive = true
	p.LastExecutionAt = nil

	inserted, err := s.store.InsertIfAbsent(ctx, p)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, types.NewAppError(
			types.ErrCodeConflictDuplicateID,
			fmt.Sprintf("a scheduled payment with id %s already exists", p.ID),
			nil,
		)
	}

	s.logger.InfoContext(ctx, "scheduled payment created",
		slog.String("payment_id", p.ID),
		slog.String("account_id", p.AccountID),
		slog.String("schedule_kind", string(p.Schedule.Kind)),
		slog.String("tier", string(tier)),
	)
	return p, nil
}

// Get retrieves one scheduled payment by id.
func (s *Service) Get(ctx context.Context, id string) (*types.ScheduledPayment, error) {
	p, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, types.NewAppError(types.ErrCodeNotFoundPayment, "scheduled payment not found", nil)
	}
	return p, nil
}

// Update applies a partial update. Provided fields are validated before the
// write; the activation flag and execution bookkeeping are not updatable
// through this path.
func (s *Service) Update(ctx context.Context, id string, upd types.PaymentUpdate) (*types.ScheduledPayment, error) {
	if upd.IsEmpty() {
		return s.Get(ctx, id)
	}
	if upd.Schedule != nil {
		if err := upd.Schedule.Validate(); err != nil {
			return nil, types.NewAppError(types.ErrCodeValidationSchedule, err.Error(), err)
		}
	}
	if upd.Amount != nil && upd.Amount.Value <= 0 {
		return nil, types.NewAppError(types.ErrCodeValidationAmount, "amount.value must be greater than zero", nil)
	}

	p, err := s.store.UpdatePartial(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, types.NewAppError(types.ErrCodeNotFoundPayment, "scheduled payment not found", nil)
	}
	return p, nil
}

// Delete removes a scheduled payment permanently.
func (s *Service) Delete(ctx context.Context, id string) error {
	deleted, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return types.NewAppError(types.ErrCodeNotFoundPayment, "scheduled payment not found", nil)
	}
	return nil
}

// ListByAccount returns every scheduled payment owned by the account, active
// and inactive.
func (s *Service) ListByAccount(ctx context.Context, accountID string) ([]*types.ScheduledPayment, error) {
	return s.store.FindByAccount(ctx, accountID)
}

// Upcoming returns the account's next payment occurrences ordered soonest
// first, truncated to limit. Payments with no further occurrence (expired
// windows, consumed one-offs, deactivated payments) are omitted.
func (s *Service) Upcoming(ctx context.Context, accountID string, limit int, now time.Time) ([]types.UpcomingPayment, error) {
	all, err := s.store.FindByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	upcoming := make([]types.UpcomingPayment, 0, len(all))
	for _, p := range all {
		if !p.IsActive {
			continue
		}
		next, ok := recurrence.NextOccurrence(p.Schedule, p.LastExecutionAt, now)
		if !ok {
			continue
		}
		upcoming = append(upcoming, types.UpcomingPayment{ScheduledPayment: p, NextOccurrence: next})
	}

	sort.Slice(upcoming, func(i, j int) bool {
		if upcoming[i].NextOccurrence.Equal(upcoming[j].NextOccurrence) {
			return upcoming[i].ID < upcoming[j].ID
		}
		return upcoming[i].NextOccurrence.Before(upcoming[j].NextOccurrence)
	})

	if limit > 0 && len(upcoming) > limit {
		upcoming = upcoming[:limit]
	}
	return upcoming, nil
}
